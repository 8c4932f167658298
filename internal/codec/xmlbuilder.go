package codec

import (
	"bytes"
	"fmt"
	"strings"
)

// Builder is a small streaming, namespace-agnostic XML writer. Element
// names are written verbatim (including any "ns:Local" prefix the caller
// supplies), so the caller is responsible for declaring namespaces as
// plain attributes on the root element — exactly how the EBICS message
// layer (package ebics) uses it, since EBICS documents only ever need a
// handful of fixed namespace declarations on the envelope root.
type Builder struct {
	buf     bytes.Buffer
	stack   []string
	tagOpen bool // true if the innermost open tag's ">" hasn't been written yet
}

// NewBuilder starts a document with the standard EBICS XML declaration.
func NewBuilder() *Builder {
	b := &Builder{}
	b.buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	return b
}

// El opens a "/"-separated sequence of nested elements with one call
// (e.g. "header/static/HostID" opens three nested elements), runs fn in
// that scope, then closes them all in reverse order. Passing a nil fn
// produces an empty element.
func (b *Builder) El(path string, fn func()) {
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		b.flushOpen()
		b.buf.WriteString("<" + seg)
		b.stack = append(b.stack, seg)
		b.tagOpen = true
	}
	if fn != nil {
		fn()
	}
	for range segs {
		name := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		if b.tagOpen {
			b.buf.WriteString("/>")
			b.tagOpen = false
		} else {
			b.buf.WriteString("</" + name + ">")
		}
	}
}

// Attr sets an attribute on the element most recently opened by El. It
// must be called before any nested El/Text call in that scope.
func (b *Builder) Attr(name, value string) {
	fmt.Fprintf(&b.buf, ` %s="%s"`, name, escapeAttr(value))
}

// Text writes escaped character-data content into the current element.
func (b *Builder) Text(content string) {
	b.flushOpen()
	b.buf.WriteString(escapeText(content))
}

// Raw writes pre-serialised XML verbatim into the current element,
// without escaping.
func (b *Builder) Raw(xmlFragment string) {
	b.flushOpen()
	b.buf.WriteString(xmlFragment)
}

func (b *Builder) flushOpen() {
	if b.tagOpen {
		b.buf.WriteString(">")
		b.tagOpen = false
	}
}

// Bytes returns the serialised document. The caller must have closed
// every El scope (Builder enforces this structurally: El always closes
// what it opens).
func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *Builder) String() string {
	return b.buf.String()
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
