// Package archive provides the PostgreSQL audit trail for the JEFE COIN
// economy. Retired jobs, bonus payouts, and transfers are appended here for
// offline analysis; the hot path never reads from it and writes are best
// effort.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient creates a new PostgreSQL client and verifies connectivity
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for repository construction
func (c *Client) DB() *sql.DB {
	return c.db
}

// Migrate creates the archive tables when they do not exist
func (c *Client) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS retired_jobs (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			size INTEGER NOT NULL,
			difficulty INTEGER NOT NULL,
			reward_per_unit DOUBLE PRECISION NOT NULL,
			bonus_pool DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			contributors INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			retired_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payouts (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			account TEXT NOT NULL,
			units INTEGER NOT NULL,
			share DOUBLE PRECISION NOT NULL,
			paid_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			id BIGSERIAL PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_account ON payouts (account)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers (sender)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
