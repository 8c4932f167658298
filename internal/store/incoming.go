package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordIncomingIfNew inserts an IncomingPayment keyed by bank_id
// (uniqueness is over bank_id alone, spec.md §4.7). If reservePub is
// non-nil but already claimed by an earlier row, the row is still
// inserted, with reserve_pub left null and refunded set true, per the
// reserve-pub uniqueness invariant (spec.md §8, invariant 2). No refund
// payment is queued here (see QueueRefund).
func (s *Store) RecordIncomingIfNew(ctx context.Context, subscriberID int64, p IncomingPayment) (int64, RecordOutcome, error) {
	var id int64
	var outcome RecordOutcome

	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var existing int64
		err := tx.QueryRow(ctx, `SELECT id FROM incoming_payments WHERE bank_id = $1`, p.BankID).Scan(&existing)
		if err == nil {
			id, outcome = existing, Duplicate
			return nil
		}
		if err != pgx.ErrNoRows {
			return fmt.Errorf("store: record incoming: lookup: %w", err)
		}

		reservePub := p.ReservePub
		if reservePub != nil {
			var claimed bool
			err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incoming_payments WHERE reserve_pub = $1)`, *reservePub).Scan(&claimed)
			if err != nil {
				return fmt.Errorf("store: record incoming: reserve-pub check: %w", err)
			}
			if claimed {
				reservePub = nil
				p.Refunded = true
			}
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO incoming_payments
				(subscriber_id, amount_currency, amount_value, amount_frac, debit_payto, subject, execution_time, bank_id, reserve_pub, refunded)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			subscriberID, p.Amount.Currency, int64(p.Amount.Value), int32(p.Amount.Frac),
			p.DebitPayto, p.Subject, p.ExecutionTime, p.BankID, reservePub, p.Refunded,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("store: record incoming: insert: %w", err)
		}
		outcome = Created
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return id, outcome, nil
}

// IncomingHistory returns up to |delta| incoming payments for
// subscriberID relative to start, ascending when delta > 0 (strictly
// after start) or descending when delta < 0 (strictly before start),
// per the /history/incoming pagination rules (spec.md §4.9).
func (s *Store) IncomingHistory(ctx context.Context, subscriberID int64, start int64, delta int) ([]IncomingPayment, error) {
	if delta == 0 {
		return nil, fmt.Errorf("store: incoming history: delta must be nonzero")
	}

	var query string
	limit := delta
	if delta > 0 {
		query = `
			SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, debit_payto,
			       subject, execution_time, bank_id, reserve_pub, refunded
			FROM incoming_payments
			WHERE subscriber_id = $1 AND id > $2
			ORDER BY id ASC LIMIT $3`
	} else {
		limit = -delta
		query = `
			SELECT id, subscriber_id, amount_currency, amount_value, amount_frac, debit_payto,
			       subject, execution_time, bank_id, reserve_pub, refunded
			FROM incoming_payments
			WHERE subscriber_id = $1 AND id < $2
			ORDER BY id DESC LIMIT $3`
	}

	rows, err := s.Query(ctx, query, subscriberID, start, limit)
	if err != nil {
		return nil, fmt.Errorf("store: incoming history: %w", err)
	}
	defer rows.Close()

	var out []IncomingPayment
	for rows.Next() {
		var p IncomingPayment
		var value int64
		var frac int32
		if err := rows.Scan(&p.ID, &p.SubscriberID, &p.Amount.Currency, &value, &frac, &p.DebitPayto,
			&p.Subject, &p.ExecutionTime, &p.BankID, &p.ReservePub, &p.Refunded); err != nil {
			return nil, fmt.Errorf("store: incoming history: scan: %w", err)
		}
		p.Amount.Value = uint64(value)
		p.Amount.Frac = uint32(frac)
		out = append(out, p)
	}
	return out, rows.Err()
}
