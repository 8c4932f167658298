package payment

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// reservePubPattern matches a 52-character alphanumeric token on a word
// boundary — a candidate Base32-Crockford encoded 32-byte reserve public
// key, per spec.md §4.6.
var reservePubPattern = regexp.MustCompile(`\b[A-Za-z0-9]{52}\b`)

// ExtractReservePub applies the incoming-payment subject-line convention:
// normalise whitespace, look for a 52-character token, and decode it as a
// Crockford-encoded 32-byte value. Returns (zero, false) when no such
// token is present or it doesn't decode to exactly 32 bytes — the
// trigger for scheduling a refund (spec.md §3 IncomingPayment invariant).
func ExtractReservePub(subject string) (ShortHashCode, bool) {
	normalised := strings.Join(strings.Fields(subject), " ")
	m := reservePubPattern.FindString(normalised)
	if m == "" {
		return ShortHashCode{}, false
	}
	pub, err := ParseShortHashCode(m)
	if err != nil {
		return ShortHashCode{}, false
	}
	return pub, true
}

// ErrMalformedOutgoingSubject is returned when an outgoing-payment
// subject does not parse as "<wtid> <url>".
type ErrMalformedOutgoingSubject struct {
	Subject string
	Reason  string
}

func (e *ErrMalformedOutgoingSubject) Error() string {
	return fmt.Sprintf("payment: subject %q is not a Taler wire transfer: %s", e.Subject, e.Reason)
}

// ParseOutgoingSubject splits an outgoing-payment subject at the first
// space into a WTID and an exchange base URL, per spec.md §4.6. Both
// halves must be present and well-formed for this to be a Taler wire
// transfer; otherwise the caller treats it as an ordinary outgoing
// payment with no WTID/URL.
func ParseOutgoingSubject(subject string) (ShortHashCode, string, error) {
	trimmed := strings.TrimSpace(subject)
	idx := strings.IndexByte(trimmed, ' ')
	if idx < 0 {
		return ShortHashCode{}, "", &ErrMalformedOutgoingSubject{Subject: subject, Reason: "no space separator"}
	}

	wtidPart, urlPart := trimmed[:idx], strings.TrimSpace(trimmed[idx+1:])
	wtid, err := ParseShortHashCode(wtidPart)
	if err != nil {
		return ShortHashCode{}, "", &ErrMalformedOutgoingSubject{Subject: subject, Reason: "left part is not a 32-byte hash: " + err.Error()}
	}

	parsedURL, err := url.Parse(urlPart)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return ShortHashCode{}, "", &ErrMalformedOutgoingSubject{Subject: subject, Reason: "right part is not a URL"}
	}

	return wtid, urlPart, nil
}
