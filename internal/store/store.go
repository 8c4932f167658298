// Package store implements the persistence layer (spec.md §4.7): the
// postgres-backed entity store for subscribers, initiated/incoming/
// outgoing payments and raw bank messages, plus the LISTEN/NOTIFY
// plumbing the HTTP facade's long-poll handlers wait on.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultQueryTimeout bounds any single statement issued through Store's
// QueryRow/Query/Exec helpers.
const DefaultQueryTimeout = 30 * time.Second

// Config holds the connection parameters for the nexus database, sourced
// from the [libeufin-nexusdb-postgres] configuration section.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// LoadConfig reads connection parameters from the environment, falling
// back to locally-sensible defaults for development.
func LoadConfig() Config {
	maxConns := int32(25)
	return Config{
		Host:     getEnv("NEXUS_DB_HOST", "localhost"),
		Port:     getEnv("NEXUS_DB_PORT", "5432"),
		User:     getEnv("NEXUS_DB_USER", "nexus"),
		Password: getEnv("NEXUS_DB_PASSWORD", ""),
		Name:     getEnv("NEXUS_DB_NAME", "nexus"),
		SSLMode:  getEnv("NEXUS_DB_SSLMODE", "disable"),
		MaxConns: maxConns,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Store wraps a pgxpool.Pool with the timeout and cancellation discipline
// every entity operation in this package relies on.
type Store struct {
	pool *pgxpool.Pool
}

// NewFromPool wraps an already-constructed pool, primarily for tests that
// build their own pool against a container.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// New opens a tuned connection pool against cfg and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store: parse connection string: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases every connection in the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components (the migration runner,
// LISTEN/NOTIFY) that need a dedicated connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the pool can still reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// BeginTx starts a transaction on a checked-out connection.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Exec runs sql with a bounded deadline.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

// cancelRow wraps a pgx.Row so the query's deadline context is cancelled
// as soon as the caller has scanned the result, rather than lingering
// until the surrounding request context ends.
type cancelRow struct {
	row    pgx.Row
	cancel context.CancelFunc
}

func (r *cancelRow) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}

// QueryRow runs sql with a bounded deadline, returning a Row whose Scan
// releases the deadline context.
func (s *Store) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	row := s.pool.QueryRow(ctx, sql, args...)
	return &cancelRow{row: row, cancel: cancel}
}

// cancelRows wraps pgx.Rows so the deadline context is released once the
// caller closes the result set.
type cancelRows struct {
	pgx.Rows
	cancel context.CancelFunc
}

func (r *cancelRows) Close() {
	r.Rows.Close()
	r.cancel()
}

// Query runs sql with a bounded deadline, returning Rows whose Close
// releases the deadline context.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelRows{Rows: rows, cancel: cancel}, nil
}

// HashToken returns the SHA-256 hex digest of token, a form in which an
// opaque identifier can be stored without keeping the cleartext around.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
