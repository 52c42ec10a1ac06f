package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS simulation_reports (
    id           UUID        PRIMARY KEY,
    scenario_id  TEXT        NOT NULL,
    path         TEXT        NOT NULL,
    turns        INTEGER     NOT NULL,
    report_chars INTEGER     NOT NULL,
    was_live     BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_simulation_reports_scenario
    ON simulation_reports (scenario_id, created_at DESC);
`

// PostgresStore records report metadata in PostgreSQL. Safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and creates the
// schema when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("feedback postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("feedback postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("feedback postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("feedback postgres: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save inserts r. Saving the same ID twice is a no-op.
func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	const q = `
		INSERT INTO simulation_reports (id, scenario_id, path, turns, report_chars, was_live, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, r.ID, r.ScenarioID, r.Path, r.Turns, r.Chars, r.WasLive, r.CreatedAt); err != nil {
		return fmt.Errorf("feedback postgres: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit records for scenarioID, newest first. An empty
// scenarioID matches every scenario.
func (s *PostgresStore) Recent(ctx context.Context, scenarioID string, limit int) ([]Record, error) {
	const q = `
		SELECT id::text, scenario_id, path, turns, report_chars, was_live, created_at
		FROM simulation_reports
		WHERE $1 = '' OR scenario_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback postgres: query: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			r  Record
			at time.Time
		)
		err := row.Scan(&r.ID, &r.ScenarioID, &r.Path, &r.Turns, &r.Chars, &r.WasLive, &at)
		r.CreatedAt = at.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("feedback postgres: scan: %w", err)
	}
	return recs, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
