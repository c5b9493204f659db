// Package store mirrors terminal outcomes into PostgreSQL. The ledger files
// stay the source of truth; the journal is for reporting across machines.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const (
	sqlSchema = `
        CREATE TABLE IF NOT EXISTS catalog_outcomes (
            isbn        TEXT PRIMARY KEY,
            outcome     TEXT NOT NULL,
            message     TEXT NOT NULL DEFAULT '',
            run_id      TEXT NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS catalog_outcomes_run_idx ON catalog_outcomes (run_id);
    `
	sqlRecord = `
        INSERT INTO catalog_outcomes (isbn, outcome, message, run_id, recorded_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (isbn) DO NOTHING;
    `
	sqlStaging = `
        CREATE TEMP TABLE catalog_outcomes_staging
        (LIKE catalog_outcomes INCLUDING DEFAULTS) ON COMMIT DROP;
    `
	sqlMergeStaging = `
        INSERT INTO catalog_outcomes (isbn, outcome, message, run_id, recorded_at)
        SELECT isbn, outcome, message, run_id, recorded_at FROM catalog_outcomes_staging
        ON CONFLICT (isbn) DO NOTHING;
    `
	sqlOutcomes = `
        SELECT isbn, outcome, message, recorded_at
        FROM catalog_outcomes
        WHERE ($1 = '' OR run_id = $1)
        ORDER BY recorded_at ASC, isbn ASC;
    `
)

var outcomeColumns = []string{"isbn", "outcome", "message", "run_id", "recorded_at"}

// Store is the PostgreSQL outcome journal.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the journal table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record journals one outcome. An identifier already journaled keeps its
// first outcome, matching the ledger.
func (s *Store) Record(ctx context.Context, runID string, res schemas.Result) error {
	tag, err := s.pool.Exec(ctx, sqlRecord, res.ISBN, string(res.Outcome), res.Message, runID, recordedAt(res))
	if err != nil {
		return fmt.Errorf("failed to journal %s: %w", res.ISBN, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Outcome already journaled.", zap.String("isbn", res.ISBN))
	}
	return nil
}

// Backfill journals many outcomes in one transaction, skipping identifiers
// that are already present. It returns how many rows were inserted.
func (s *Store) Backfill(ctx context.Context, runID string, results []schemas.Result) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlStaging); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	rows := make([][]interface{}, len(results))
	for i, r := range results {
		rows[i] = []interface{}{r.ISBN, string(r.Outcome), r.Message, runID, recordedAt(r)}
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"catalog_outcomes_staging"}, outcomeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy outcomes: %w", err)
	}
	if int(copied) != len(results) {
		return 0, fmt.Errorf("mismatch in copied outcomes count: expected %d, got %d", len(results), copied)
	}

	tag, err := tx.Exec(ctx, sqlMergeStaging)
	if err != nil {
		return 0, fmt.Errorf("failed to merge outcomes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Outcomes lists journaled outcomes, for one run or, with an empty runID,
// for all of them.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]schemas.Result, error) {
	rows, err := s.pool.Query(ctx, sqlOutcomes, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []schemas.Result
	for rows.Next() {
		var (
			r       schemas.Result
			outcome string
		)
		if err := rows.Scan(&r.ISBN, &outcome, &r.Message, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		r.Outcome = schemas.Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func recordedAt(r schemas.Result) time.Time {
	if r.At.IsZero() {
		return time.Now().UTC()
	}
	return r.At.UTC()
}
