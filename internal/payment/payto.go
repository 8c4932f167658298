package payment

import (
	"fmt"
	"net/url"
	"strings"
)

// PaytoKind tags which payto:// variant a URI carries.
type PaytoKind int

const (
	PaytoIban PaytoKind = iota
	PaytoXTalerBank
)

// Payto is a parsed payto:// URI (RFC 8905), restricted to the two
// variants this gateway speaks: "iban" (with an optional BIC segment)
// and "x-taler-bank" (a local, non-EBICS bank for testing — see
// package localbank).
type Payto struct {
	Kind PaytoKind

	// Iban variant.
	BIC  string // optional
	IBAN string

	// XTalerBank variant.
	Hostname string
	Username string

	// Query parameters, preserved separately from the canonical form.
	Amount       string
	Message      string
	ReceiverName string
}

// ErrInvalidPayto is returned for any malformed payto:// URI.
type ErrInvalidPayto struct {
	Input  string
	Reason string
}

func (e *ErrInvalidPayto) Error() string {
	return fmt.Sprintf("payment: invalid payto URI %q: %s", e.Input, e.Reason)
}

// ParsePayto parses a payto:// URI into one of the two supported
// variants.
func ParsePayto(raw string) (Payto, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Payto{}, &ErrInvalidPayto{Input: raw, Reason: err.Error()}
	}
	if u.Scheme != "payto" {
		return Payto{}, &ErrInvalidPayto{Input: raw, Reason: "scheme must be payto"}
	}

	q := u.Query()
	common := Payto{
		Amount:       q.Get("amount"),
		Message:      q.Get("message"),
		ReceiverName: q.Get("receiver-name"),
	}

	path := strings.Trim(u.Path, "/")
	segs := strings.Split(path, "/")

	switch u.Host {
	case "iban":
		switch len(segs) {
		case 1:
			iban, err := ParseIBAN(segs[0])
			if err != nil {
				return Payto{}, &ErrInvalidPayto{Input: raw, Reason: err.Error()}
			}
			common.Kind = PaytoIban
			common.IBAN = iban
		case 2:
			iban, err := ParseIBAN(segs[1])
			if err != nil {
				return Payto{}, &ErrInvalidPayto{Input: raw, Reason: err.Error()}
			}
			common.Kind = PaytoIban
			common.BIC = strings.ToUpper(segs[0])
			common.IBAN = iban
		default:
			return Payto{}, &ErrInvalidPayto{Input: raw, Reason: "iban path must be iban or bic/iban"}
		}
	case "x-taler-bank":
		if len(segs) != 2 || segs[0] == "" || segs[1] == "" {
			return Payto{}, &ErrInvalidPayto{Input: raw, Reason: "x-taler-bank path must be hostname/username"}
		}
		common.Kind = PaytoXTalerBank
		common.Hostname = segs[0]
		common.Username = segs[1]
	default:
		return Payto{}, &ErrInvalidPayto{Input: raw, Reason: fmt.Sprintf("unsupported payto host %q", u.Host)}
	}

	return common, nil
}

// Canonical renders the payto:// URI without any query parameters, the
// form invariant (3) in spec.md §8 requires for the parse/render
// round-trip.
func (p Payto) Canonical() string {
	switch p.Kind {
	case PaytoIban:
		if p.BIC != "" {
			return fmt.Sprintf("payto://iban/%s/%s", p.BIC, p.IBAN)
		}
		return fmt.Sprintf("payto://iban/%s", p.IBAN)
	case PaytoXTalerBank:
		return fmt.Sprintf("payto://x-taler-bank/%s/%s", p.Hostname, p.Username)
	default:
		return ""
	}
}

// String is an alias for Canonical, satisfying fmt.Stringer.
func (p Payto) String() string { return p.Canonical() }

// Equal compares the canonical identity only (query parameters are not
// part of a payto URI's identity per spec.md §3).
func (p Payto) Equal(o Payto) bool {
	return p.Canonical() == o.Canonical()
}
