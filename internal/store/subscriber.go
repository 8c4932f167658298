package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LoadSubscriber fetches a subscriber by id.
func (s *Store) LoadSubscriber(ctx context.Context, id int64) (*Subscriber, error) {
	row := s.QueryRow(ctx, `
		SELECT id, partner_id, user_id, host_id, ebics_url, dialect, key_state,
		       auth_priv, enc_priv, sig_priv, bank_auth_pub, bank_enc_pub, created_at
		FROM subscribers WHERE id = $1`, id)

	var sub Subscriber
	err := row.Scan(&sub.ID, &sub.PartnerID, &sub.UserID, &sub.HostID, &sub.EbicsURL,
		&sub.Dialect, &sub.KeyState, &sub.AuthPriv, &sub.EncPriv, &sub.SigPriv,
		&sub.BankAuthPub, &sub.BankEncPub, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load subscriber: %w", err)
	}
	return &sub, nil
}

// CreateSubscriber inserts a freshly-generated subscriber identity at key
// state FRESH.
func (s *Store) CreateSubscriber(ctx context.Context, sub Subscriber) (int64, error) {
	var id int64
	err := s.QueryRow(ctx, `
		INSERT INTO subscribers (partner_id, user_id, host_id, ebics_url, dialect, key_state, auth_priv, enc_priv, sig_priv)
		VALUES ($1, $2, $3, $4, $5, 'FRESH', $6, $7, $8)
		RETURNING id`,
		sub.PartnerID, sub.UserID, sub.HostID, sub.EbicsURL, sub.Dialect,
		sub.AuthPriv, sub.EncPriv, sub.SigPriv,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create subscriber: %w", err)
	}
	return id, nil
}

// AdvanceKeyState moves a subscriber forward in the key-management state
// machine (spec.md §4.4). Callers are responsible for only calling this
// with valid forward transitions; the table has no state-machine CHECK
// constraint beyond the HPB_RECEIVED ⇒ bank keys present invariant.
func (s *Store) AdvanceKeyState(ctx context.Context, id int64, newState KeyState) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE subscribers SET key_state = $1 WHERE id = $2`, newState, id)
		if err != nil {
			return fmt.Errorf("store: advance key state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateBankKeys records the bank's public keys returned by a successful
// HPB exchange and advances the subscriber to HPB_RECEIVED in the same
// transaction, satisfying the invariant that HPB_RECEIVED implies both
// keys are present.
func (s *Store) UpdateBankKeys(ctx context.Context, id int64, bankAuthPub, bankEncPub []byte) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscribers
			SET bank_auth_pub = $1, bank_enc_pub = $2, key_state = 'HPB_RECEIVED'
			WHERE id = $3`, bankAuthPub, bankEncPub, id)
		if err != nil {
			return fmt.Errorf("store: update bank keys: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
