// Package navigation reaches the catalogue's search surface. Strategies are
// tried in the configured order; each one runs inside a small state machine
// with an explicit attempt ceiling so that termination is auditable.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
)

var (
	// ErrUnreachable is returned when every strategy gave up.
	ErrUnreachable = errors.New("search surface unreachable")
	// ErrAttemptsExhausted means a strategy hit its attempt ceiling.
	ErrAttemptsExhausted = errors.New("navigation attempts exhausted")
	// ErrNoSearchInput means the page looked right but the search input never rendered.
	ErrNoSearchInput = errors.New("search input not present")
)

// Authenticator is the part of the session manager the resolver needs.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) (schemas.AuthResult, error)
}

// State is a state of the per-strategy machine.
type State int

const (
	StateProbing State = iota
	StateAuthenticating
	StateNavigating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateAuthenticating:
		return "authenticating"
	case StateNavigating:
		return "navigating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Trace records what one Reach call did.
type Trace struct {
	// Strategy is the strategy that reached the surface, empty on failure.
	Strategy string
	// Reused is true when the active page already was the search surface.
	Reused bool
	// Attempts counts navigation attempts per strategy name.
	Attempts map[string]int
	// Logins counts how many times credentials were actually submitted.
	Logins int
	// States lists every state entered, across strategies, in order.
	States []State
}

// Resolver implements the navigation state machine.
type Resolver struct {
	handle      *browser.Handle
	auth        Authenticator
	strategies  []Strategy
	classifier  *Classifier
	site        config.SiteConfig
	maxAttempts int
	inputWait   time.Duration
	logger      *zap.Logger
}

// NewResolver builds a resolver whose strategies come from the configuration.
func NewResolver(h *browser.Handle, auth Authenticator, cfg config.Interface, logger *zap.Logger) (*Resolver, error) {
	logger = logger.Named("navigation")
	classifier := NewClassifier(cfg.Site())
	strategies, err := NewStrategies(h, cfg, classifier, logger)
	if err != nil {
		return nil, err
	}
	return NewResolverWithStrategies(h, auth, cfg, classifier, strategies, logger), nil
}

// NewResolverWithStrategies builds a resolver over an explicit strategy list.
func NewResolverWithStrategies(h *browser.Handle, auth Authenticator, cfg config.Interface, classifier *Classifier, strategies []Strategy, logger *zap.Logger) *Resolver {
	nav := cfg.Navigation()
	return &Resolver{
		handle:      h,
		auth:        auth,
		strategies:  strategies,
		classifier:  classifier,
		site:        cfg.Site(),
		maxAttempts: nav.MaxAttempts,
		inputWait:   nav.InputTimeout,
		logger:      logger,
	}
}

// Classifier exposes the page classifier shared with the search step.
func (r *Resolver) Classifier() *Classifier { return r.classifier }

// Reach makes the active page the search surface. Strategies run in order
// until one succeeds. A setup error aborts at once; an authentication
// failure is reported as a navigation failure without trying further
// strategies, since none of them can work without a session.
func (r *Resolver) Reach(ctx context.Context) (*Trace, error) {
	trace := &Trace{Attempts: make(map[string]int)}
	var errs []error

	for _, s := range r.strategies {
		err := r.run(ctx, s, trace)
		if err == nil {
			trace.Strategy = s.Name()
			r.logger.Info("Search surface reached.",
				zap.String("strategy", s.Name()),
				zap.Int("attempts", trace.Attempts[s.Name()]),
				zap.Bool("reused", trace.Reused))
			return trace, nil
		}
		if ctx.Err() != nil {
			return trace, ctx.Err()
		}
		switch schemas.KindOf(err) {
		case schemas.KindSetup:
			return trace, err
		case schemas.KindAuth:
			return trace, schemas.NewError(schemas.KindNavigation, "reach search surface",
				fmt.Errorf("%w: %w", ErrUnreachable, err))
		}
		r.logger.Warn("Navigation strategy failed.", zap.String("strategy", s.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	return trace, schemas.NewError(schemas.KindNavigation, "reach search surface",
		fmt.Errorf("%w: %w", ErrUnreachable, errors.Join(errs...)))
}

// run drives one strategy through the state machine.
func (r *Resolver) run(ctx context.Context, s Strategy, trace *Trace) error {
	var (
		state   State
		losses  int
		lastErr error
		name    = s.Name()
	)
	enter := func(next State) {
		r.logger.Debug("Navigation state change.",
			zap.String("strategy", name),
			zap.Stringer("from", state),
			zap.Stringer("to", next),
			zap.Int("attempt", trace.Attempts[name]))
		state = next
		trace.States = append(trace.States, next)
	}
	state = StateProbing
	trace.States = append(trace.States, StateProbing)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case StateProbing:
			if r.probe(ctx) {
				trace.Reused = true
				enter(StateReady)
			} else if s.AuthenticatesFirst() {
				enter(StateAuthenticating)
			} else {
				enter(StateNavigating)
			}

		case StateAuthenticating:
			res, err := r.auth.EnsureAuthenticated(ctx)
			if res.LoggedIn {
				trace.Logins++
			}
			if err != nil {
				lastErr = err
				enter(StateFailed)
				continue
			}
			enter(StateNavigating)

		case StateNavigating:
			if trace.Attempts[name] >= r.maxAttempts {
				lastErr = fmt.Errorf("%w after %d: %w", ErrAttemptsExhausted, trace.Attempts[name], lastErr)
				enter(StateFailed)
				continue
			}
			trace.Attempts[name]++

			readiness, err := s.Reach(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("Navigation attempt failed.",
					zap.String("strategy", name),
					zap.Int("attempt", trace.Attempts[name]),
					zap.Error(err))
				lastErr = err
				continue
			}
			if readiness == schemas.ReadinessReady {
				if err := r.confirmInput(ctx); err != nil {
					lastErr = err
					continue
				}
				enter(StateReady)
				continue
			}

			lastErr = fmt.Errorf("landed on %s", readiness)
			next := s.React(readiness, losses)
			r.logger.Info("Navigation did not land on the search surface.",
				zap.String("strategy", name),
				zap.String("readiness", string(readiness)),
				zap.Stringer("next", next),
				zap.Int("attempt", trace.Attempts[name]))
			if readiness.SessionLoss() {
				losses++
			}
			switch next {
			case actionAuthenticate:
				enter(StateAuthenticating)
			case actionAbandon:
				enter(StateFailed)
			}

		case StateReady:
			return nil

		case StateFailed:
			if lastErr == nil {
				lastErr = ErrAttemptsExhausted
			}
			return lastErr
		}
	}
}

// probe reports whether the active page already is a usable search surface.
// Errors only mean "no".
func (r *Resolver) probe(ctx context.Context) bool {
	p := r.handle.Current()
	if p == nil || browser.IsClosed(p) {
		return false
	}
	readiness, err := r.classifier.Classify(ctx, p)
	if err != nil || readiness != schemas.ReadinessReady {
		return false
	}
	ok, err := p.Visible(ctx, r.site.Selectors.SearchInput)
	return err == nil && ok
}

func (r *Resolver) confirmInput(ctx context.Context) error {
	p, err := r.handle.Page(ctx)
	if err != nil {
		return err
	}
	if err := p.WaitVisible(ctx, r.site.Selectors.SearchInput, r.inputWait); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSearchInput, err)
	}
	return nil
}
