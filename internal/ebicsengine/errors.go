package ebicsengine

import "fmt"

// ProtocolError wraps a non-OK EBICS technical or business return code
// reported by the bank.
type ProtocolError struct {
	Code   string
	Report string
}

func (e *ProtocolError) Error() string {
	if e.Report == "" {
		return fmt.Sprintf("ebicsengine: bank returned %s", e.Code)
	}
	return fmt.Sprintf("ebicsengine: bank returned %s: %s", e.Code, e.Report)
}

// CryptoError marks a signature verification failure on a bank response
// or an inability to decrypt with any candidate key; fatal for the
// transaction in progress.
type CryptoError struct {
	Detail string
}

func (e *CryptoError) Error() string { return "ebicsengine: crypto: " + e.Detail }

// SchemaError marks an XML parse or structural-validation failure on a
// bank response; fatal for the message but not for the scheduler.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string { return "ebicsengine: schema: " + e.Detail }

// StateError marks a local invariant broken by the caller (e.g. trying
// to submit a payment the store no longer considers pending).
type StateError struct {
	Detail string
}

func (e *StateError) Error() string { return "ebicsengine: state: " + e.Detail }
