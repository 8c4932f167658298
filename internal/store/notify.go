package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Notify wakes up every long-poll subscriber listening on channel. Used
// by the fetcher after ingesting incoming/outgoing rows (channel
// "incoming.<iban>") and by the submitter after a state change the HTTP
// facade's long-poll handlers care about.
func (s *Store) Notify(ctx context.Context, channel string) error {
	return s.Exec(ctx, fmt.Sprintf("NOTIFY %s", pgx.Identifier{channel}.Sanitize()))
}

// Listener holds a dedicated connection subscribed to one postgres
// notification channel, for as long as a single long-poll HTTP request
// needs to wait on it. Writers (Notify) never block on a Listener: LISTEN/
// NOTIFY in postgres is fire-and-forget from the notifier's side.
type Listener struct {
	conn    *pgx.Conn
	release func()
}

// Listen acquires a dedicated connection from the pool and subscribes it
// to channel. The caller must call Close when done to return the
// connection to the pool.
func (s *Store) Listen(ctx context.Context, channel string) (*Listener, error) {
	poolConn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: listen: acquire connection: %w", err)
	}
	conn := poolConn.Conn()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())); err != nil {
		poolConn.Release()
		return nil, fmt.Errorf("store: listen: %w", err)
	}

	return &Listener{conn: conn, release: poolConn.Release}, nil
}

// Wait blocks until a notification arrives on the subscribed channel or
// ctx is cancelled (the caller typically derives ctx from the HTTP
// request's long_poll_ms deadline). It returns nil on a notification and
// ctx.Err() on timeout/cancellation.
func (l *Listener) Wait(ctx context.Context) error {
	_, err := l.conn.WaitForNotification(ctx)
	return err
}

// Close returns the dedicated connection to the pool.
func (l *Listener) Close() {
	l.release()
}
