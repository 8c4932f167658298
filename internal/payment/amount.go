// Package payment implements the gateway's payment domain model: Taler
// amounts, payto:// URIs, IBAN validation, and the subject-line
// conventions (reserve-pub on incoming, WTID+exchange URL on outgoing)
// that tie EBICS-ingested bank transactions back to Taler semantics.
package payment

import (
	"fmt"
	"strconv"
	"strings"
)

// FracBase is the fractional-unit base: Amount.Frac ranges over
// [0, FracBase).
const FracBase = 100_000_000

// MaxValue is the largest representable whole-unit value, 2^52.
const MaxValue uint64 = 1 << 52

// Amount is a fixed-precision monetary value: Value whole units plus Frac
// hundred-millionths of a unit, in Currency.
type Amount struct {
	Value    uint64
	Frac     uint32
	Currency string
}

// ErrAmountFormat is returned when a string fails to parse as "CUR:V[.F]".
type ErrAmountFormat struct{ Input string }

func (e *ErrAmountFormat) Error() string { return fmt.Sprintf("payment: malformed amount %q", e.Input) }

// ErrAmountNumberTooBig is returned when the whole-unit part exceeds
// MaxValue.
type ErrAmountNumberTooBig struct{ Input string }

func (e *ErrAmountNumberTooBig) Error() string {
	return fmt.Sprintf("payment: amount value too big in %q", e.Input)
}

func validCurrency(c string) bool {
	if len(c) < 1 || len(c) > 11 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// ParseAmount parses the canonical "CUR:V[.FFFFFFFF]" text form. The
// currency must be 1–11 uppercase letters; the fractional part, if
// present, is 1–8 digits and is right-padded with zeros to 8 digits
// before being stored (so "EUR:1.5" and "EUR:1.50000000" are the same
// Amount).
func ParseAmount(s string) (Amount, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return Amount{}, &ErrAmountFormat{Input: s}
	}
	cur, rest := s[:colon], s[colon+1:]
	if !validCurrency(cur) {
		return Amount{}, &ErrAmountFormat{Input: s}
	}

	intPart, fracPart, hasFrac := strings.Cut(rest, ".")
	if intPart == "" {
		return Amount{}, &ErrAmountFormat{Input: s}
	}
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return Amount{}, &ErrAmountFormat{Input: s}
		}
	}
	value, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return Amount{}, &ErrAmountFormat{Input: s}
	}
	if value > MaxValue {
		return Amount{}, &ErrAmountNumberTooBig{Input: s}
	}

	var frac uint32
	if hasFrac {
		if len(fracPart) == 0 || len(fracPart) > 8 {
			return Amount{}, &ErrAmountFormat{Input: s}
		}
		for _, r := range fracPart {
			if r < '0' || r > '9' {
				return Amount{}, &ErrAmountFormat{Input: s}
			}
		}
		padded := fracPart + strings.Repeat("0", 8-len(fracPart))
		f, err := strconv.ParseUint(padded, 10, 32)
		if err != nil {
			return Amount{}, &ErrAmountFormat{Input: s}
		}
		frac = uint32(f)
	}

	return Amount{Value: value, Frac: frac, Currency: cur}, nil
}

// String renders the canonical "CUR:V[.F]" text form, trimming trailing
// zeros (and the decimal point entirely) from the fractional part.
func (a Amount) String() string {
	if a.Frac == 0 {
		return fmt.Sprintf("%s:%d", a.Currency, a.Value)
	}
	frac := fmt.Sprintf("%08d", a.Frac)
	frac = strings.TrimRight(frac, "0")
	return fmt.Sprintf("%s:%d.%s", a.Currency, a.Value, frac)
}

// Equal reports structural equality.
func (a Amount) Equal(b Amount) bool {
	return a.Value == b.Value && a.Frac == b.Frac && a.Currency == b.Currency
}
