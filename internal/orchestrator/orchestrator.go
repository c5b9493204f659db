// File: internal/orchestrator/orchestrator.go
// Description: Drives one batch run. It is injected with the navigation,
// search and ledger components via interfaces, so it stays decoupled and testable.

package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/input"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
)

// Navigator makes the search surface the active page.
type Navigator interface {
	Reach(ctx context.Context) (*navigation.Trace, error)
}

// Searcher submits one identifier and classifies what the catalogue says.
type Searcher interface {
	SubmitAndClassify(ctx context.Context, isbn string) (schemas.Result, error)
}

// Ledger is the durable queue plus outcome sets.
type Ledger interface {
	Initialize(ids []string) (int, error)
	Peek() (string, bool)
	RecordAndAdvance(res schemas.Result) error
	Tally() schemas.Tally
}

// Journal mirrors recorded outcomes somewhere else. It is never the source
// of truth, so its failures are logged and ignored.
type Journal interface {
	Record(ctx context.Context, runID string, res schemas.Result) error
}

// Summary describes one run.
type Summary struct {
	RunID       string
	Enqueued    int
	Results     []schemas.Result
	Tally       schemas.Tally
	Started     time.Time
	Finished    time.Time
	Interrupted bool
}

// Processed is the number of identifiers that reached an outcome in this run.
func (s *Summary) Processed() int { return len(s.Results) }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal mirrors every recorded outcome to j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver calls fn after each outcome is durably recorded.
func WithObserver(fn func(schemas.Result)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// Orchestrator processes the queue one identifier at a time against a
// single browser session.
type Orchestrator struct {
	cfg      config.BatchConfig
	logger   *zap.Logger
	nav      Navigator
	searcher Searcher
	ledger   Ledger
	journal  Journal
	observe  func(schemas.Result)
	now      func() time.Time

	inflight atomic.Pointer[schemas.WorkItem]
}

// New creates a new Orchestrator. The journal and observer are optional.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	nav Navigator,
	searcher Searcher,
	ledger Ledger,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		nav == nil ||
		searcher == nil ||
		ledger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:      cfg.Batch(),
		logger:   logger.Named("orchestrator"),
		nav:      nav,
		searcher: searcher,
		ledger:   ledger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// InFlight returns the item currently being processed, if any.
func (o *Orchestrator) InFlight() (schemas.WorkItem, bool) {
	item := o.inflight.Load()
	if item == nil {
		return schemas.WorkItem{}, false
	}
	return *item, true
}

func (o *Orchestrator) limiter() *rate.Limiter {
	if o.cfg.MinInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.cfg.MinInterval), 1)
}

// Run merges ids into the queue and processes it until it is empty or ctx
// is canceled. Cancellation is honored only between items. The returned
// error is non-nil only when the run could not start or the ledger could
// not be written; per-item failures are outcomes.
func (o *Orchestrator) Run(ctx context.Context, ids []string) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString(), Started: o.now()}
	logger := o.logger.With(zap.String("run_id", sum.RunID))
	defer func() {
		sum.Finished = o.now()
		sum.Tally = o.ledger.Tally()
	}()

	if len(ids) == 0 && o.ledger.Tally().Pending == 0 {
		return sum, schemas.NewError(schemas.KindSetup, "start batch", input.ErrNoIdentifiers)
	}
	for _, id := range ids {
		if !input.ValidISBN(id) {
			logger.Warn("Identifier does not look like an ISBN; submitting anyway.", zap.String("isbn", id))
		}
	}

	n, err := o.ledger.Initialize(ids)
	if err != nil {
		return sum, fmt.Errorf("failed to initialize queue: %w", err)
	}
	sum.Enqueued = n

	if _, ok := o.ledger.Peek(); !ok {
		logger.Info("Nothing to do; every identifier already has an outcome.")
		return sum, nil
	}

	logger.Info("Batch starting.", zap.Int("pending", o.ledger.Tally().Pending), zap.Int("enqueued", n))
	if _, err := o.nav.Reach(ctx); err != nil {
		if ctx.Err() != nil {
			sum.Interrupted = true
			return sum, nil
		}
		return sum, fmt.Errorf("search surface unreachable before the first item: %w", err)
	}

	limiter := o.limiter()
	for {
		isbn, ok := o.ledger.Peek()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			sum.Interrupted = true
			break
		}

		o.inflight.Store(&schemas.WorkItem{ISBN: isbn, State: schemas.ItemInFlight})
		res := o.process(ctx, isbn, logger)
		err := o.ledger.RecordAndAdvance(res)
		o.inflight.Store(nil)
		if err != nil {
			return sum, fmt.Errorf("failed to record outcome for %s: %w", isbn, err)
		}
		sum.Results = append(sum.Results, res)
		o.mirror(ctx, sum.RunID, res, logger)
		if o.observe != nil {
			o.observe(res)
		}
	}

	if sum.Interrupted {
		logger.Warn("Batch interrupted between items; rerun to resume.", zap.Int("processed", sum.Processed()))
	} else {
		logger.Info("Batch finished.", zap.Int("processed", sum.Processed()))
	}
	return sum, nil
}

// process runs one item to an outcome. The item gets its own timeout and
// is not canceled by ctx, so a save already in progress completes.
func (o *Orchestrator) process(ctx context.Context, isbn string, logger *zap.Logger) (res schemas.Result) {
	itemCtx := browser.Detach(ctx)
	if o.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, o.cfg.ItemTimeout)
		defer cancel()
	}

	logger = logger.With(zap.String("isbn", isbn))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing item.", zap.Any("panic", r), zap.Stack("stack"))
			res = schemas.Result{ISBN: isbn, Outcome: schemas.OutcomeError, Message: fmt.Sprintf("panic: %v", r), At: o.now()}
		}
	}()

	res, err := o.searcher.SubmitAndClassify(itemCtx, isbn)
	if err != nil {
		logger.Warn("Item failed.", zap.String("kind", string(schemas.KindOf(err))), zap.Error(err))
		if res.Outcome != schemas.OutcomeError {
			res.Outcome = schemas.OutcomeError
			res.Message = err.Error()
		}
	}
	res.ISBN = isbn
	if !res.Outcome.Valid() {
		res.Outcome = schemas.OutcomeUnknown
	}
	if res.At.IsZero() {
		res.At = o.now()
	}
	logger.Info("Item resolved.", zap.String("outcome", string(res.Outcome)), zap.String("message", res.Message))
	return res
}

func (o *Orchestrator) mirror(ctx context.Context, runID string, res schemas.Result, logger *zap.Logger) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(browser.Detach(ctx), runID, res); err != nil {
		logger.Warn("Could not mirror outcome to the journal.", zap.String("isbn", res.ISBN), zap.Error(err))
	}
}
