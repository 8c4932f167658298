package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateRequestUID is returned by CreateInitiated when request_uid
// already names a different row: a domain conflict, not a state error.
var ErrDuplicateRequestUID = errors.New("store: duplicate request_uid")

// ErrNotFound is returned when a load-by-id operation matches no row.
var ErrNotFound = errors.New("store: not found")

// maxSerializationRetries bounds how many times a transaction is retried
// after a serialization failure before the error is surfaced to the
// caller (spec.md §4.7).
const maxSerializationRetries = 10

const serializationFailureCode = "40001"

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode
}

// withSerializableTx runs fn inside a SERIALIZABLE transaction, retrying
// on serialization failures with a short linear backoff up to
// maxSerializationRetries attempts.
func (s *Store) withSerializableTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("store: begin tx: %w", err)
		}

		err = fn(ctx, tx)
		if err != nil {
			tx.Rollback(ctx)
			if isSerializationFailure(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("store: commit: %w", err)
		}
		return nil
	}
	return fmt.Errorf("store: transaction did not commit after %d attempts: %w", maxSerializationRetries, lastErr)
}
