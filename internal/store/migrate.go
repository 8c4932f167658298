package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"ebicsnexus/internal/store/migrations"
)

// advisoryLockID identifies the postgres advisory lock held for the
// duration of a migration run, so that two processes starting up
// concurrently serialize rather than race on schema_migrations.
const advisoryLockID int64 = 0x456249435326584e // "EbICS&XN" in ASCII, arbitrary but fixed

// Migrate applies every embedded migration that has not yet been
// recorded in schema_migrations, in lexicographic filename order, each
// inside its own transaction, all while holding a dedicated connection
// and a session-level advisory lock for the whole run.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate: acquire connection: %w", err)
	}
	defer conn.Release()

	return runMigrations(ctx, conn.Conn())
}

func runMigrations(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		return fmt.Errorf("store: migrate: acquire advisory lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("store: migrate: create schema_migrations: %w", err)
	}

	if err := bootstrapExisting(ctx, conn); err != nil {
		return fmt.Errorf("store: migrate: bootstrap: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return fmt.Errorf("store: migrate: load applied: %w", err)
	}

	migs, err := readMigrations()
	if err != nil {
		return fmt.Errorf("store: migrate: read migrations: %w", err)
	}

	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		slog.Info("applying migration", "version", m.version)
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: migrate: begin %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("store: migrate: apply %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("store: migrate: record %s: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("store: migrate: commit %s: %w", m.version, err)
		}
		slog.Info("applied migration", "version", m.version)
	}

	return nil
}

type migration struct {
	version string
	sql     string
}

func readMigrations() ([]migration, error) {
	sqlFS := migrations.FS()
	entries, err := fs.ReadDir(sqlFS, ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(sqlFS, name)
		if err != nil {
			return nil, err
		}
		out = append(out, migration{
			version: strings.TrimSuffix(name, ".sql"),
			sql:     string(content),
		})
	}
	return out, nil
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// bootstrapExisting backfills schema_migrations for a database that
// already has the subscribers table but predates the migration runner
// itself, so that the initial-schema migration is not re-applied on top
// of live data.
func bootstrapExisting(ctx context.Context, conn *pgx.Conn) error {
	var exists bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = 'subscribers'
		)`).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO schema_migrations (version)
		VALUES ('001_initial_schema')
		ON CONFLICT (version) DO NOTHING`)
	return err
}
