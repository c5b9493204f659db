// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
	"github.com/xkilldash9x/catalog-cli/internal/search"
	"github.com/xkilldash9x/catalog-cli/internal/session"
	"github.com/xkilldash9x/catalog-cli/internal/store"
)

// Components holds everything a batch run needs. It centralizes their
// lifecycle so a failed or finished run releases them in order.
type Components struct {
	Browser      browser.Browser
	Handle       *browser.Handle
	Session      *session.Manager
	Resolver     *navigation.Resolver
	Searcher     *search.Classifier
	Queue        *queue.Queue
	Orchestrator *orchestrator.Orchestrator

	// Journal is nil unless a database URL is configured and reachable.
	Journal *store.Store
	DBPool  *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases the browser and the database pool. It is safe to call
// on partially initialized components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser shut down.")
		}
		c.Browser = nil
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		c.DBPool = nil
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
