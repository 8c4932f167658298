package store

import (
	"time"

	"ebicsnexus/internal/payment"
)

// InitiatedState is the lifecycle of an InitiatedPayment (spec.md §3).
type InitiatedState string

const (
	Pending   InitiatedState = "pending"
	Submitted InitiatedState = "submitted"
	Confirmed InitiatedState = "confirmed"
	Failed    InitiatedState = "failed"
)

// InitiatedPayment is a payment the facade queued for upload to the bank.
type InitiatedPayment struct {
	ID             int64
	SubscriberID   int64
	Amount         payment.Amount
	Subject        string
	CreditPayto    string
	InitiationTime time.Time
	RequestUID     string
	State          InitiatedState
	MessageID      *string
	PmtInfoID      string
	EndToEndID     *string
	ConfirmationTx *string
	FailureReason  *string
}

// IncomingPayment is a CRDT bank transaction ingested from a statement.
type IncomingPayment struct {
	ID            int64
	SubscriberID  int64
	Amount        payment.Amount
	DebitPayto    string
	Subject       string
	ExecutionTime time.Time
	BankID        string
	ReservePub    *string
	Refunded      bool
}

// OutgoingPayment is a DBIT bank transaction ingested from a statement.
type OutgoingPayment struct {
	ID                 int64
	SubscriberID       int64
	Amount             payment.Amount
	CreditPayto        string
	Subject            string
	ExecutionTime      time.Time
	BankID             string
	WTID               *string
	ExchangeBaseURL    *string
	InitiatedPaymentID *int64
}

// BankMessage is one raw EBICS download (C52/C53/C54) kept for audit and
// re-parsing.
type BankMessage struct {
	ID           int64
	SubscriberID int64
	FetchedAt    time.Time
	Code         string
	Content      []byte
	Processed    bool
	Errors       bool
}

// KeyState is the EBICS key-management state machine's current position
// for a subscriber (spec.md §4.4).
type KeyState string

const (
	StateFresh             KeyState = "FRESH"
	StateINISent           KeyState = "INI_SENT"
	StateHIASent           KeyState = "HIA_SENT"
	StateKeysLetterPrinted KeyState = "KEYS_LETTER_PRINTED"
	StateHPBReceived       KeyState = "HPB_RECEIVED"
	StateReady             KeyState = "READY"
)

// Subscriber is the persisted EBICS identity this gateway acts as.
type Subscriber struct {
	ID          int64
	PartnerID   string
	UserID      string
	HostID      string
	EbicsURL    string
	Dialect     string
	KeyState    KeyState
	AuthPriv    []byte // PKCS#8 DER, optionally passphrase-wrapped upstream
	EncPriv     []byte
	SigPriv     []byte
	BankAuthPub []byte // DER-encoded RSA public key, nil until HPB succeeds
	BankEncPub  []byte
	CreatedAt   time.Time
}

// RecordOutcome distinguishes a fresh insert from an already-seen row on
// the record_if_new operations (spec.md §4.7).
type RecordOutcome int

const (
	Created RecordOutcome = iota
	Duplicate
)
