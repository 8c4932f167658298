// Package ebicsengine drives the EBICS protocol state machines on top of
// the wire-level builders in internal/ebics: key management
// (INI/HIA/HPB), upload (CCT) and download (C52/C53/C54) transactions,
// each as a sequence of HTTP round trips against the bank's EBICS URL.
package ebicsengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport sends one EBICS request document and returns the bank's
// response document. Swappable so tests can stub the bank entirely.
type Transport interface {
	Send(ctx context.Context, body []byte) ([]byte, error)
}

// HTTPTransport posts EBICS XML documents to a bank's EBICS URL over
// plain HTTPS, the transport EBICS itself runs over (spec.md §4.3: EBICS
// is a SOAP-free XML-over-HTTP protocol with its own security envelope,
// not TLS client auth).
type HTTPTransport struct {
	URL    string
	Client *http.Client
}

// NewHTTPTransport builds a transport with a sensible request timeout.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		URL:    url,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ebicsengine: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// TransportError reports a non-200 HTTP response from the bank; EBICS
// itself still reports most failures as 200-OK responses carrying a
// non-zero return code, so this only fires for genuine transport-layer
// faults (proxy errors, bank maintenance pages, and the like).
type TransportError struct {
	StatusCode int
	Body       []byte
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ebicsengine: bank returned HTTP %d", e.StatusCode)
}
