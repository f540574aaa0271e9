// Package cache implements the PostgreSQL projection of ledger state.
// The cache serves low-latency queries and authorization lookups; it is
// eventually consistent with the ledger and never authoritative for the
// stage counter after concurrent writes.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("cache: not found")

	// ErrDuplicate is returned on unique constraint violations, e.g. a
	// batch id raced by a concurrent creator or a participant added
	// twice.
	ErrDuplicate = errors.New("cache: duplicate row")
)

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens the pool, verifies connectivity, and bootstraps the
// schema.
func NewStore(dsn string, maxConns int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("cache store ready")
	return &Store{db: db, logger: logger}, nil
}

// initSchema creates the projection tables. stage_logs is indexed by
// actor so history queries never have to scan ledger accounts.
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			public_key VARCHAR(64) PRIMARY KEY,
			name TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS partners (
			id VARCHAR(36) PRIMARY KEY,
			brand_owner_key VARCHAR(64) NOT NULL,
			public_key VARCHAR(64) NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role VARCHAR(64) NOT NULL,
			contact_email TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS batches (
			id VARCHAR(64) PRIMARY KEY,
			brand_owner_key VARCHAR(64) NOT NULL,
			onchain_id VARCHAR(32) NOT NULL UNIQUE,
			producer_name TEXT NOT NULL,
			onchain_created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			current_holder_key VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			onchain_next_stage_index INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS batch_participants (
			batch_id VARCHAR(64) NOT NULL REFERENCES batches(id),
			partner_id VARCHAR(36) NOT NULL REFERENCES partners(id),
			added_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (batch_id, partner_id)
		);

		CREATE TABLE IF NOT EXISTS stage_logs (
			batch_id VARCHAR(64) NOT NULL,
			stage_index INTEGER NOT NULL,
			stage_name TEXT NOT NULL,
			partner_type VARCHAR(64) NOT NULL,
			added_by VARCHAR(64) NOT NULL,
			ipfs_cid TEXT NOT NULL,
			transaction_signature TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (batch_id, stage_index)
		);

		CREATE INDEX IF NOT EXISTS idx_stage_logs_added_by ON stage_logs (added_by);
		CREATE INDEX IF NOT EXISTS idx_batches_holder ON batches (current_holder_key);
		CREATE INDEX IF NOT EXISTS idx_batches_owner ON batches (brand_owner_key);
	`)
	return err
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
