package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordOutgoingIfNew inserts an OutgoingPayment keyed by bank_id. On
// creation, it attempts to link the row to a pending-confirmation
// initiation sharing the same message id and payment-information id
// (the EBICS message id and pain.001 PmtInfId the submitter stamped onto
// the initiation it comes from); a match transitions that initiation to
// confirmed in the same transaction.
func (s *Store) RecordOutgoingIfNew(ctx context.Context, subscriberID int64, p OutgoingPayment, messageID, pmtInfoID string) (int64, RecordOutcome, error) {
	var id int64
	var outcome RecordOutcome

	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var existing int64
		err := tx.QueryRow(ctx, `SELECT id FROM outgoing_payments WHERE bank_id = $1`, p.BankID).Scan(&existing)
		if err == nil {
			id, outcome = existing, Duplicate
			return nil
		}
		if err != pgx.ErrNoRows {
			return fmt.Errorf("store: record outgoing: lookup: %w", err)
		}

		var linkedInitiation *int64
		if messageID != "" && pmtInfoID != "" {
			var initID int64
			lookupErr := tx.QueryRow(ctx, `
				SELECT id FROM initiated_payments
				WHERE message_id = $1 AND pmt_info_id = $2 AND state = 'submitted'`,
				messageID, pmtInfoID).Scan(&initID)
			if lookupErr == nil {
				linkedInitiation = &initID
			} else if lookupErr != pgx.ErrNoRows {
				return fmt.Errorf("store: record outgoing: link lookup: %w", lookupErr)
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO outgoing_payments
				(subscriber_id, amount_currency, amount_value, amount_frac, credit_payto, subject,
				 execution_time, bank_id, wtid, exchange_base_url, initiated_payment_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			subscriberID, p.Amount.Currency, int64(p.Amount.Value), int32(p.Amount.Frac),
			p.CreditPayto, p.Subject, p.ExecutionTime, p.BankID, p.WTID, p.ExchangeBaseURL, linkedInitiation,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("store: record outgoing: insert: %w", err)
		}

		if linkedInitiation != nil {
			_, err := tx.Exec(ctx, `
				UPDATE initiated_payments SET state = 'confirmed', confirmation_tx = $1
				WHERE id = $2 AND state = 'submitted'`, p.BankID, *linkedInitiation)
			if err != nil {
				return fmt.Errorf("store: record outgoing: confirm link: %w", err)
			}
		}

		outcome = Created
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return id, outcome, nil
}

// OutgoingHistory returns up to |delta| outgoing payments for
// subscriberID, with the same pagination semantics as IncomingHistory.
func (s *Store) OutgoingHistory(ctx context.Context, subscriberID int64, start int64, delta int) ([]OutgoingPayment, error) {
	if delta == 0 {
		return nil, fmt.Errorf("store: outgoing history: delta must be nonzero")
	}

	var query string
	limit := delta
	if delta > 0 {
		query = `
			SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, credit_payto,
			       subject, execution_time, bank_id, wtid, exchange_base_url, initiated_payment_id
			FROM outgoing_payments
			WHERE subscriber_id = $1 AND id > $2
			ORDER BY id ASC LIMIT $3`
	} else {
		limit = -delta
		query = `
			SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, credit_payto,
			       subject, execution_time, bank_id, wtid, exchange_base_url, initiated_payment_id
			FROM outgoing_payments
			WHERE subscriber_id = $1 AND id < $2
			ORDER BY id DESC LIMIT $3`
	}

	rows, err := s.Query(ctx, query, subscriberID, start, limit)
	if err != nil {
		return nil, fmt.Errorf("store: outgoing history: %w", err)
	}
	defer rows.Close()

	var out []OutgoingPayment
	for rows.Next() {
		var p OutgoingPayment
		var value int64
		var frac int32
		if err := rows.Scan(&p.ID, &p.SubscriberID, &p.Amount.Currency, &value, &frac, &p.CreditPayto,
			&p.Subject, &p.ExecutionTime, &p.BankID, &p.WTID, &p.ExchangeBaseURL, &p.InitiatedPaymentID); err != nil {
			return nil, fmt.Errorf("store: outgoing history: scan: %w", err)
		}
		p.Amount.Value = uint64(value)
		p.Amount.Frac = uint32(frac)
		out = append(out, p)
	}
	return out, rows.Err()
}
