package store

import (
	"context"
	"fmt"
	"time"
)

// AppendBankMessage stores a raw downloaded EBICS document (camt.052/
// 053/054) for audit and later parsing.
func (s *Store) AppendBankMessage(ctx context.Context, subscriberID int64, code string, content []byte, fetchedAt time.Time) (int64, error) {
	var id int64
	err := s.QueryRow(ctx, `
		INSERT INTO bank_messages (subscriber_id, fetched_at, code, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, subscriberID, fetchedAt, code, content).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: append bank message: %w", err)
	}
	return id, nil
}

// UnseenBankMessages returns every message not yet marked processed for
// subscriberID, ordered by id ascending (the order they were fetched).
func (s *Store) UnseenBankMessages(ctx context.Context, subscriberID int64) ([]BankMessage, error) {
	rows, err := s.Query(ctx, `
		SELECT id, subscriber_id, fetched_at, code, content, processed, errors
		FROM bank_messages
		WHERE subscriber_id = $1 AND processed = false
		ORDER BY id ASC`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("store: unseen bank messages: %w", err)
	}
	defer rows.Close()

	var out []BankMessage
	for rows.Next() {
		var m BankMessage
		if err := rows.Scan(&m.ID, &m.SubscriberID, &m.FetchedAt, &m.Code, &m.Content, &m.Processed, &m.Errors); err != nil {
			return nil, fmt.Errorf("store: unseen bank messages: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessageProcessed records that a message has been parsed, and
// whether parsing hit an error (a Schema-class error per spec.md §7:
// fatal for the message, but it does not abort the scheduler).
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64, hadErrors bool) error {
	return s.Exec(ctx, `UPDATE bank_messages SET processed = true, errors = $1 WHERE id = $2`, hadErrors, id)
}
