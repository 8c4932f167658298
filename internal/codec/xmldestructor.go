package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Node is a minimal DOM: an element with attributes, direct character
// data, and child elements. Namespaces are discarded — every accessor
// below matches on local name only, which is what the Destructor type is
// for.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// ParseNode builds a Node tree from an XML document.
func ParseNode(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *Node
	var stack []*Node
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("codec: parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, n)
			}
			stack = append(stack, n)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(text.String())
			text.Reset()
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = top
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("codec: empty xml document")
	}
	return root, nil
}

// DestructionError reports exactly where document destructuring failed,
// as a "/"-joined path of local element names from the document root.
type DestructionError struct {
	Path string
	Msg  string
}

func (e *DestructionError) Error() string {
	return fmt.Sprintf("codec: destructuring %s: %s", e.Path, e.Msg)
}

func destructErr(path, format string, args ...any) error {
	return &DestructionError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Destructor walks a Node tree with EBICS-document-shaped accessors:
// One requires exactly one matching child, Opt allows zero or one, Each
// returns every match.
type Destructor struct {
	node *Node
	path string
}

// NewDestructor parses data and returns a Destructor positioned at the
// document root.
func NewDestructor(data []byte) (*Destructor, error) {
	root, err := ParseNode(data)
	if err != nil {
		return nil, err
	}
	return &Destructor{node: root, path: root.Name}, nil
}

func wrap(parentPath string, n *Node) *Destructor {
	return &Destructor{node: n, path: parentPath + "/" + n.Name}
}

func matching(n *Node, tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == tag {
			out = append(out, c)
		}
	}
	return out
}

// One requires exactly one child named tag and returns it, erroring
// otherwise.
func (d *Destructor) One(tag string) (*Destructor, error) {
	m := matching(d.node, tag)
	switch len(m) {
	case 0:
		return nil, destructErr(d.path, "missing required element %q", tag)
	case 1:
		return wrap(d.path, m[0]), nil
	default:
		return nil, destructErr(d.path, "expected exactly one %q, found %d", tag, len(m))
	}
}

// Opt returns the single child named tag, or (nil, false, nil) if absent.
// More than one match is still an error.
func (d *Destructor) Opt(tag string) (*Destructor, bool, error) {
	m := matching(d.node, tag)
	switch len(m) {
	case 0:
		return nil, false, nil
	case 1:
		return wrap(d.path, m[0]), true, nil
	default:
		return nil, false, destructErr(d.path, "expected at most one %q, found %d", tag, len(m))
	}
}

// Each returns every child named tag, in document order.
func (d *Destructor) Each(tag string) []*Destructor {
	m := matching(d.node, tag)
	out := make([]*Destructor, len(m))
	for i, n := range m {
		out[i] = wrap(d.path, n)
	}
	return out
}

// MapDestructor projects a slice of Destructors through f, short-circuiting
// on the first error. A package-level function because Go methods can't
// be generic.
func MapDestructor[T any](ds []*Destructor, f func(*Destructor) (T, error)) ([]T, error) {
	out := make([]T, 0, len(ds))
	for _, d := range ds {
		v, err := f(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Text returns the element's direct character content.
func (d *Destructor) Text() string {
	return d.node.Text
}

// Attr returns a named attribute and whether it was present.
func (d *Destructor) Attr(name string) (string, bool) {
	v, ok := d.node.Attrs[name]
	return v, ok
}

// Bool parses the element text as an XML boolean ("true"/"1" or
// "false"/"0").
func (d *Destructor) Bool() (bool, error) {
	switch strings.TrimSpace(d.node.Text) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, destructErr(d.path, "not a boolean: %q", d.node.Text)
	}
}

// Date parses the element text as an ISO 8601 calendar date
// (YYYY-MM-DD).
func (d *Destructor) Date() (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(d.node.Text))
	if err != nil {
		return time.Time{}, destructErr(d.path, "not an ISO date: %v", err)
	}
	return t, nil
}

// DateTime parses the element text as an ISO 8601 date-time, as ISO
// 20022 documents and EBICS timestamps use (RFC 3339 with an optional
// fractional-second component).
func (d *Destructor) DateTime() (time.Time, error) {
	s := strings.TrimSpace(d.node.Text)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, destructErr(d.path, "not an ISO date-time: %q", s)
}

// Enum requires the element text to be one of values, returning it
// unchanged (case-sensitive, as EBICS/ISO 20022 enumerations are).
func (d *Destructor) Enum(values ...string) (string, error) {
	text := strings.TrimSpace(d.node.Text)
	for _, v := range values {
		if text == v {
			return text, nil
		}
	}
	return "", destructErr(d.path, "value %q not in %v", text, values)
}

// Int parses the element text as a base-10 integer.
func (d *Destructor) Int() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(d.node.Text), 10, 64)
	if err != nil {
		return 0, destructErr(d.path, "not an integer: %v", err)
	}
	return n, nil
}

// Path returns the "/"-joined local-name path from the document root,
// for embedding in caller-constructed errors.
func (d *Destructor) Path() string {
	return d.path
}

// Name returns the element's local name.
func (d *Destructor) Name() string {
	return d.node.Name
}
