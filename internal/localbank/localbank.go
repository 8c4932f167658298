// Package localbank implements the one wire-method spec.md keeps beside
// IBAN/EBICS: "a simple auxiliary local-bank direct-API connector" for
// payto://x-taler-bank accounts. Those accounts never leave this
// process — there is no bank to call, so Submit settles the payment
// immediately instead of queuing it for the scheduler's EBICS upload,
// and RecordIncoming lets tests and local demos inject a credit the way
// a real bank's camt.054 would. The shape (a small adapter holding an
// injected store, a synchronous state transition per call) follows the
// Open Banking provider adapter in this codebase's lineage.
package localbank

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/store"
)

// Connector is the pair of operations Bank provides. Bank is its only
// implementation: the EBICS scheduler has no Submit or RecordIncoming
// method, and the HTTP facade holds a *Bank directly.
type Connector interface {
	Submit(ctx context.Context, p store.InitiatedPayment) error
	RecordIncoming(ctx context.Context, p store.IncomingPayment) (int64, store.RecordOutcome, error)
}

// Bank is the in-process connector for x-taler-bank accounts.
type Bank struct {
	store        *store.Store
	subscriberID int64
	iban         string
	logger       *slog.Logger
}

// New builds a Bank backed by st, acting as subscriberID's local
// counterpart account. iban is used only as the notification channel
// key, matching the EBICS fetcher's convention.
func New(st *store.Store, subscriberID int64, iban string, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{store: st, subscriberID: subscriberID, iban: iban, logger: logger}
}

// Submit settles an initiated payment instantly: there is no bank round
// trip, so the payment goes straight from pending to confirmed, and a
// matching OutgoingPayment row is recorded as if a statement had just
// reported it.
func (b *Bank) Submit(ctx context.Context, p store.InitiatedPayment) error {
	msgID := fmt.Sprintf("localbank-%d", p.ID)
	now := time.Now()

	if err := b.store.MarkSubmitted(ctx, p.ID, msgID, now); err != nil {
		return fmt.Errorf("localbank: mark submitted: %w", err)
	}

	// No payment-information id is passed, so RecordOutgoingIfNew does not
	// link and confirm the initiation itself; MarkConfirmed below does.
	outgoingID, _, err := b.store.RecordOutgoingIfNew(ctx, b.subscriberID, store.OutgoingPayment{
		Amount:        p.Amount,
		CreditPayto:   p.CreditPayto,
		Subject:       p.Subject,
		ExecutionTime: now,
		BankID:        msgID,
	}, msgID, "")
	if err != nil {
		return fmt.Errorf("localbank: record outgoing: %w", err)
	}

	confirmationTx := fmt.Sprintf("%d", outgoingID)
	if err := b.store.MarkConfirmed(ctx, p.ID, confirmationTx); err != nil {
		return fmt.Errorf("localbank: mark confirmed: %w", err)
	}

	b.logger.Info("localbank: settled payment instantly", "payment_id", p.ID, "outgoing_id", outgoingID)
	return nil
}

// RecordIncoming injects a credit the way a downloaded statement would,
// then notifies any long-polling /history/incoming callers.
func (b *Bank) RecordIncoming(ctx context.Context, p store.IncomingPayment) (int64, store.RecordOutcome, error) {
	id, outcome, err := b.store.RecordIncomingIfNew(ctx, b.subscriberID, p)
	if err != nil {
		return 0, 0, fmt.Errorf("localbank: record incoming: %w", err)
	}
	if outcome == store.Created {
		if notifyErr := b.store.Notify(ctx, "incoming."+b.iban); notifyErr != nil {
			b.logger.Warn("localbank: notify failed", "error", notifyErr)
		}
	}
	return id, outcome, nil
}

// IsLocalAccount reports whether payto names an x-taler-bank account,
// i.e. one this connector settles instead of the EBICS scheduler.
func IsLocalAccount(p payment.Payto) bool {
	return p.Kind == payment.PaytoXTalerBank
}
