package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ebicsnexus/internal/payment"
)

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreateInitiated inserts a new queued payment. If request_uid already
// names a row, the operation fails with ErrDuplicateRequestUID; the
// caller (the HTTP facade) is responsible for comparing the existing
// row's fields to decide between "idempotent replay" and "409 conflict".
func (s *Store) CreateInitiated(ctx context.Context, subscriberID int64, p InitiatedPayment) (int64, error) {
	var id int64
	err := s.QueryRow(ctx, `
		INSERT INTO initiated_payments
			(subscriber_id, amount_currency, amount_value, amount_frac, subject, credit_payto, request_uid, pmt_info_id, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 'pending')
		RETURNING id`,
		subscriberID, p.Amount.Currency, int64(p.Amount.Value), int32(p.Amount.Frac),
		p.Subject, p.CreditPayto, p.RequestUID,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrDuplicateRequestUID
	}
	if err != nil {
		return 0, fmt.Errorf("store: create initiated: %w", err)
	}
	return id, nil
}

// LoadInitiatedByRequestUID fetches the row matching uid, used by the
// facade to decide whether a /transfer retry is an idempotent replay.
func (s *Store) LoadInitiatedByRequestUID(ctx context.Context, uid string) (*InitiatedPayment, error) {
	row := s.QueryRow(ctx, `
		SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, subject,
		       credit_payto, initiation_time, request_uid, state, message_id, pmt_info_id, end_to_end_id,
		       confirmation_tx, failure_reason
		FROM initiated_payments WHERE request_uid = $1`, uid)
	p, err := scanInitiated(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load initiated by request uid: %w", err)
	}
	return p, nil
}

func scanInitiated(row pgx.Row) (*InitiatedPayment, error) {
	var p InitiatedPayment
	var value int64
	var frac int32
	err := row.Scan(&p.ID, &p.SubscriberID, &p.Amount.Currency, &value, &frac, &p.Subject,
		&p.CreditPayto, &p.InitiationTime, &p.RequestUID, &p.State, &p.MessageID, &p.PmtInfoID, &p.EndToEndID,
		&p.ConfirmationTx, &p.FailureReason)
	if err != nil {
		return nil, err
	}
	p.Amount.Value = uint64(value)
	p.Amount.Frac = uint32(frac)
	return &p, nil
}

// PendingInitiated streams every payment still in state pending, ordered
// by id ascending, for the submitter to process in order.
func (s *Store) PendingInitiated(ctx context.Context, subscriberID int64) ([]InitiatedPayment, error) {
	rows, err := s.Query(ctx, `
		SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, subject,
		       credit_payto, initiation_time, request_uid, state, message_id, pmt_info_id, end_to_end_id,
		       confirmation_tx, failure_reason
		FROM initiated_payments
		WHERE subscriber_id = $1 AND state = 'pending'
		ORDER BY id ASC`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("store: pending initiated: %w", err)
	}
	defer rows.Close()

	var out []InitiatedPayment
	for rows.Next() {
		p, err := scanInitiated(rows)
		if err != nil {
			return nil, fmt.Errorf("store: pending initiated: scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkSubmitted records the EBICS message id assigned to a successfully
// uploaded payment and advances its state to submitted.
func (s *Store) MarkSubmitted(ctx context.Context, id int64, messageID string, submissionTime time.Time) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE initiated_payments
			SET state = 'submitted', message_id = $1, initiation_time = $2
			WHERE id = $3 AND state = 'pending'`, messageID, submissionTime, id)
		if err != nil {
			return fmt.Errorf("store: mark submitted: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: mark submitted: %w: payment %d was not pending", errStateInvariant, id)
		}
		return nil
	})
}

// MarkConfirmed records the bank transaction id that proves a submitted
// payment cleared, and advances its state to confirmed.
func (s *Store) MarkConfirmed(ctx context.Context, id int64, txID string) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE initiated_payments
			SET state = 'confirmed', confirmation_tx = $1
			WHERE id = $2 AND state = 'submitted'`, txID, id)
		if err != nil {
			return fmt.Errorf("store: mark confirmed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: mark confirmed: %w: payment %d was not submitted", errStateInvariant, id)
		}
		return nil
	})
}

// MarkFailed terminates a payment with a recorded failure reason
// (typically an EBICS return code report).
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE initiated_payments
			SET state = 'failed', failure_reason = $1
			WHERE id = $2 AND state IN ('pending', 'submitted')`, reason, id)
		if err != nil {
			return fmt.Errorf("store: mark failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: mark failed: %w: payment %d already terminal", errStateInvariant, id)
		}
		return nil
	})
}

// QueueRefund inserts a new initiated payment crediting back the debtor
// of an incoming payment whose subject carried no recoverable reserve
// public key (spec.md §8, scenario 3).
func (s *Store) QueueRefund(ctx context.Context, subscriberID int64, amount payment.Amount, debitPayto, requestUID, originalSubject string) (int64, error) {
	subject := fmt.Sprintf("Taler refund of: %s", originalSubject)
	return s.CreateInitiated(ctx, subscriberID, InitiatedPayment{
		Amount:      amount,
		Subject:     subject,
		CreditPayto: debitPayto,
		RequestUID:  requestUID,
	})
}

var errStateInvariant = errors.New("local invariant broken")
