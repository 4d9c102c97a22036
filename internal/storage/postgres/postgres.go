// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the stores use. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the service tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL,
			target_urls JSONB NOT NULL,
			status TEXT NOT NULL,
			total_urls INT NOT NULL,
			successful_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			batch_size INT NOT NULL,
			max_workers INT NOT NULL,
			priority INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extracted_records (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			url TEXT NOT NULL,
			purpose TEXT NOT NULL,
			strategy_used TEXT NOT NULL,
			raw_data JSONB,
			normalized_data JSONB,
			success BOOLEAN NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			data_quality_score DOUBLE PRECISION NOT NULL,
			field_count INT NOT NULL,
			extraction_ms BIGINT NOT NULL,
			error_message TEXT,
			website_type TEXT,
			blob_uri TEXT,
			extracted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extracted_records_job ON extracted_records (job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_extracted_records_at ON extracted_records (extracted_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
