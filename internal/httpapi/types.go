package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"ebicsnexus/internal/payment"
)

// Timestamp serialises as {"t_s": <seconds since epoch>} or {"t_s": "never"}
// per spec.md §6. The zero value marshals as "never".
type Timestamp struct {
	Time time.Time
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte(`{"t_s":"never"}`), nil
	}
	return []byte(fmt.Sprintf(`{"t_s":%d}`, t.Time.Unix())), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var wire struct {
		TS json.RawMessage `json:"t_s"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var asString string
	if err := json.Unmarshal(wire.TS, &asString); err == nil {
		if asString != "never" {
			return fmt.Errorf("httpapi: invalid timestamp string %q", asString)
		}
		t.Time = time.Time{}
		return nil
	}
	var seconds int64
	if err := json.Unmarshal(wire.TS, &seconds); err != nil {
		return fmt.Errorf("httpapi: invalid timestamp: %w", err)
	}
	t.Time = time.Unix(seconds, 0).UTC()
	return nil
}

// wireAmount is the "CUR:V[.FFFFFFFF]" string form every amount uses on
// the wire.
type wireAmount struct {
	payment.Amount
}

func (a wireAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Amount.String())
}

func (a *wireAmount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := payment.ParseAmount(s)
	if err != nil {
		return err
	}
	a.Amount = parsed
	return nil
}

// ConfigResponse answers GET /config.
type ConfigResponse struct {
	Version  string `json:"version"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// TransferRequest is the body of POST /transfer.
type TransferRequest struct {
	RequestUID      payment.ShortHashCode `json:"request_uid"`
	Amount          wireAmount            `json:"amount"`
	ExchangeBaseURL string                `json:"exchange_base_url"`
	WTID            payment.ShortHashCode `json:"wtid"`
	CreditAccount   string                `json:"credit_account"`
}

// TransferResponse answers a successful POST /transfer.
type TransferResponse struct {
	Timestamp Timestamp `json:"timestamp"`
	RowID     int64     `json:"row_id"`
}

// AddIncomingRequest is the body of POST /admin/add-incoming.
type AddIncomingRequest struct {
	Amount        wireAmount            `json:"amount"`
	ReservePub    payment.ShortHashCode `json:"reserve_pub"`
	DebitAccount  string                `json:"debit_account"`
}

// AddIncomingResponse answers a successful POST /admin/add-incoming.
type AddIncomingResponse struct {
	Timestamp Timestamp `json:"timestamp"`
	RowID     int64     `json:"row_id"`
}

// IncomingReserveTransaction is one row of an IncomingHistory response.
type IncomingReserveTransaction struct {
	Type         string     `json:"type"`
	RowID        int64      `json:"row_id"`
	Date         Timestamp  `json:"date"`
	Amount       wireAmount `json:"amount"`
	DebitAccount string     `json:"debit_account"`
	ReservePub   payment.ShortHashCode `json:"reserve_pub"`
}

// IncomingHistory answers GET /history/incoming.
type IncomingHistory struct {
	IncomingTransactions []IncomingReserveTransaction `json:"incoming_transactions"`
	CreditAccount        string                       `json:"credit_account"`
}

// OutgoingTransaction is one row of an OutgoingHistory response.
type OutgoingTransaction struct {
	RowID           int64      `json:"row_id"`
	Date            Timestamp  `json:"date"`
	Amount          wireAmount `json:"amount"`
	CreditAccount   string     `json:"credit_account"`
	WTID            payment.ShortHashCode `json:"wtid"`
	ExchangeBaseURL string     `json:"exchange_base_url"`
}

// OutgoingHistory answers GET /history/outgoing.
type OutgoingHistory struct {
	OutgoingTransactions []OutgoingTransaction `json:"outgoing_transactions"`
	DebitAccount         string                `json:"debit_account"`
}

// ErrorResponse is the facade's uniform error body (spec.md §6/§7).
type ErrorResponse struct {
	Code   int    `json:"code"`
	Hint   string `json:"hint,omitempty"`
	Detail string `json:"detail,omitempty"`
}
