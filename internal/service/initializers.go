// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
	"github.com/xkilldash9x/catalog-cli/internal/store"
)

// InitializeJournal connects to the outcome journal and makes sure its
// schema exists. An empty URL disables the journal and returns nil for
// everything. The caller closes the returned pool.
func InitializeJournal(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	// One writer; a small pool is plenty.
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	journal, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize journal store: %w", err)
	}
	if err := journal.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Outcome journal connected.", zap.String("host", poolConfig.ConnConfig.Host))
	return journal, pool, nil
}

// OpenLedger opens the queue and ledger files under the configured data directory.
func OpenLedger(cfg config.Interface, logger *zap.Logger) (*queue.Queue, error) {
	q, err := queue.Open(cfg.Queue().DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger in %s: %w", cfg.Queue().DataDir, err)
	}
	return q, nil
}
