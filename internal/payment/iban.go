package payment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidIBAN is returned when an IBAN fails the mod-97 checksum or
// has an invalid shape.
type ErrInvalidIBAN struct{ Input string }

func (e *ErrInvalidIBAN) Error() string { return fmt.Sprintf("payment: invalid IBAN %q", e.Input) }

// ParseIBAN uppercases s, strips whitespace/dash separators, and verifies
// the ISO 7064 mod-97-10 checksum. The returned string is the canonical
// (separator-free, uppercase) form.
func ParseIBAN(s string) (string, error) {
	cleaned := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(s))
	if len(cleaned) < 5 || len(cleaned) > 34 {
		return "", &ErrInvalidIBAN{Input: s}
	}
	for i, r := range cleaned {
		if i < 2 {
			if r < 'A' || r > 'Z' {
				return "", &ErrInvalidIBAN{Input: s}
			}
			continue
		}
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return "", &ErrInvalidIBAN{Input: s}
		}
	}
	if !ibanChecksumValid(cleaned) {
		return "", &ErrInvalidIBAN{Input: s}
	}
	return cleaned, nil
}

// ibanChecksumValid implements the ISO 7064 mod-97-10 check: move the
// first four characters to the end, expand letters to two-digit numbers
// (A=10 .. Z=35), and require the resulting decimal number mod 97 == 1.
func ibanChecksumValid(iban string) bool {
	rearranged := iban[4:] + iban[:4]

	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		default:
			return false
		}
	}

	n := new(big.Int)
	if _, ok := n.SetString(digits.String(), 10); !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// RandIBAN generates a random, checksum-valid German-style IBAN (country
// code "DE", 18 numeric BBAN digits); this package's tests use it.
func RandIBAN() (string, error) {
	bban := make([]byte, 18)
	for i := range bban {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		bban[i] = byte('0') + byte(d.Int64())
	}

	candidate := "DE00" + string(bban)
	// Compute the correct check digits per ISO 7064: rearrange with "00"
	// placeholder, compute 98 - (mod 97), zero-pad to two digits.
	rearranged := candidate[4:] + candidate[:2] + "00"
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		}
	}
	n := new(big.Int)
	n.SetString(digits.String(), 10)
	check := 98 - new(big.Int).Mod(n, big.NewInt(97)).Int64()

	iban := fmt.Sprintf("DE%02d%s", check, string(bban))
	if _, err := ParseIBAN(iban); err != nil {
		return "", fmt.Errorf("payment: generated IBAN failed self-check: %w", err)
	}
	return iban, nil
}
