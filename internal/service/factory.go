// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/search"
	"github.com/xkilldash9x/catalog-cli/internal/session"
)

// ComponentFactory creates the set of components needed for a batch run.
// This abstraction is what makes the run command testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...orchestrator.Option) (*Components, error)
}

// Launcher starts the browser.
type Launcher func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Browser, error)

// LaunchChrome is the production Launcher.
func LaunchChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Browser, error) {
	m, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launch Launcher
}

// NewComponentFactory creates a factory that drives a real Chrome.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{launch: LaunchChrome}
}

// NewComponentFactoryWithLauncher creates a factory over a custom browser.
func NewComponentFactoryWithLauncher(l Launcher) ComponentFactory {
	return &concreteFactory{launch: l}
}

// Create wires every component. Credentials are checked before anything
// is started. A configured but unreachable journal is reported and skipped.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...orchestrator.Option) (*Components, error) {
	if !cfg.Auth().HasCredentials() {
		return nil, schemas.NewError(schemas.KindSetup, "create components", config.ErrMissingCredentials)
	}

	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Ledger
	q, err := OpenLedger(cfg, logger)
	if err != nil {
		initializationErr = schemas.NewError(schemas.KindSetup, "create components", err)
		return nil, initializationErr
	}
	components.Queue = q

	// 2. Journal (optional)
	journal, pool, err := InitializeJournal(ctx, cfg.Database(), logger)
	if err != nil {
		logger.Warn("Outcome journal unavailable; continuing with the ledger files only.", zap.Error(err))
	} else if journal != nil {
		components.Journal = journal
		components.DBPool = pool
		opts = append([]orchestrator.Option{orchestrator.WithJournal(journal)}, opts...)
	}

	// 3. Browser
	b, err := f.launch(ctx, cfg.Browser(), logger)
	if err != nil {
		initializationErr = schemas.NewError(schemas.KindTransport, "launch browser", err)
		return nil, initializationErr
	}
	components.Browser = b
	components.Handle = browser.NewHandle(b, logger)
	logger.Debug("Browser initialized.")

	// 4. Session
	components.Session = session.NewManager(components.Handle, cfg, session.NewFileStore(cfg.Auth().SnapshotPath), logger)
	if _, err := components.Session.Restore(ctx); err != nil {
		logger.Warn("Could not restore the saved session; a fresh login will be needed.", zap.Error(err))
	}

	// 5. Navigation and search
	resolver, err := navigation.NewResolver(components.Handle, components.Session, cfg, logger)
	if err != nil {
		initializationErr = schemas.NewError(schemas.KindSetup, "create components", err)
		return nil, initializationErr
	}
	components.Resolver = resolver
	components.Searcher = search.NewClassifier(components.Handle, resolver, resolver.Classifier(), cfg, logger)

	// 6. Orchestrator
	orch, err := orchestrator.New(cfg, logger, resolver, components.Searcher, q, opts...)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch
	logger.Debug("Components initialized.")
	return components, nil
}
