// Package pgaudit mirrors block/allow/alert-status decisions to
// PostgreSQL for durable audit history outside the in-memory ring.
package pgaudit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/wardenhq/sentryd/internal/core/alert"
)

// Store owns a pooled Postgres connection and writes audit rows.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies it's reachable before returning.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgaudit: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgaudit: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the audit tables if they don't already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS list_events (
			id          BIGSERIAL PRIMARY KEY,
			addr        TEXT NOT NULL,
			action      TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS alert_audit (
			id          TEXT PRIMARY KEY,
			severity    TEXT NOT NULL,
			title       TEXT NOT NULL,
			source_addr TEXT NOT NULL,
			status      TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("pgaudit: migrate: %w", err)
	}
	return nil
}

// RecordListEvent persists a block/allow/unblock/unallow action.
func (s *Store) RecordListEvent(ctx context.Context, addr, action, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO list_events (addr, action, reason, occurred_at) VALUES ($1, $2, $3, $4)`,
		addr, action, reason, at,
	)
	if err != nil {
		return fmt.Errorf("pgaudit: record list event: %w", err)
	}
	return nil
}

// RecordAlert persists (or updates, on status transition) an alert.
func (s *Store) RecordAlert(ctx context.Context, a alert.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_audit (id, severity, title, source_addr, status, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`, a.ID, a.Severity, a.Title, a.SourceAddr, a.Status, a.Timestamp)
	if err != nil {
		return fmt.Errorf("pgaudit: record alert: %w", err)
	}
	return nil
}
