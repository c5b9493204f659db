package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
)

var (
	// ErrNoVisibleEntry means the submenu entry exists only as hidden elements.
	ErrNoVisibleEntry = errors.New("submenu entry has no visible element")
	// ErrMenuMissing means the top-level menu never became visible, even after a reload.
	ErrMenuMissing = errors.New("menu control did not appear")
)

// action is what the resolver does after a landing that was not Ready.
type action int

const (
	actionRetry action = iota
	actionAuthenticate
	actionAbandon
)

func (a action) String() string {
	switch a {
	case actionAuthenticate:
		return "authenticate"
	case actionAbandon:
		return "abandon"
	default:
		return "retry"
	}
}

// Strategy is one way of reaching the search surface.
type Strategy interface {
	Name() string
	// AuthenticatesFirst reports whether the strategy needs a session before
	// its first navigation.
	AuthenticatesFirst() bool
	// Reach performs one navigation attempt and classifies where it landed.
	Reach(ctx context.Context) (schemas.Readiness, error)
	// React picks the follow-up for a landing that was not Ready. losses is
	// how many permission-denied or redirect landings this run has already
	// recovered from.
	React(r schemas.Readiness, losses int) action
}

// NewStrategies builds the strategies named in cfg.Strategies, in order.
func NewStrategies(h *browser.Handle, cfg config.Interface, classifier *Classifier, logger *zap.Logger) ([]Strategy, error) {
	nav := cfg.Navigation()
	out := make([]Strategy, 0, len(nav.Strategies))
	for _, name := range nav.Strategies {
		switch name {
		case config.StrategyDirect:
			out = append(out, &directStrategy{
				handle:     h,
				site:       cfg.Site(),
				settle:     cfg.Search().SettleDelay,
				classifier: classifier,
				logger:     logger.Named(name),
			})
		case config.StrategyMenu:
			out = append(out, &menuStrategy{
				handle:     h,
				site:       cfg.Site(),
				cfg:        nav,
				settle:     cfg.Search().SettleDelay,
				classifier: classifier,
				logger:     logger.Named(name),
			})
		default:
			return nil, fmt.Errorf("unknown navigation strategy %q", name)
		}
	}
	return out, nil
}

// directStrategy loads the search URL.
type directStrategy struct {
	handle     *browser.Handle
	site       config.SiteConfig
	settle     time.Duration
	classifier *Classifier
	logger     *zap.Logger
}

func (d *directStrategy) Name() string             { return config.StrategyDirect }
func (d *directStrategy) AuthenticatesFirst() bool { return false }

func (d *directStrategy) Reach(ctx context.Context) (schemas.Readiness, error) {
	p, err := d.handle.Page(ctx)
	if err != nil {
		return "", err
	}
	if err := p.Navigate(ctx, d.site.SearchURL()); err != nil {
		return "", err
	}
	if err := p.WaitSettled(ctx, d.settle); err != nil {
		return "", err
	}
	return d.classifier.Classify(ctx, p)
}

// React retries after a login, but gives a denied or redirected landing a
// single post-login retry before leaving it to the next strategy.
func (d *directStrategy) React(r schemas.Readiness, losses int) action {
	switch {
	case r == schemas.ReadinessLoginRequired:
		return actionAuthenticate
	case r.SessionLoss() && losses == 0:
		return actionAuthenticate
	case r.SessionLoss():
		return actionAbandon
	}
	return actionRetry
}

// menuStrategy opens the top-level menu on the landing page and follows the
// cataloguing search entry, adopting a new tab if the click opens one.
type menuStrategy struct {
	handle     *browser.Handle
	site       config.SiteConfig
	cfg        config.NavigationConfig
	settle     time.Duration
	classifier *Classifier
	logger     *zap.Logger
}

func (m *menuStrategy) Name() string             { return config.StrategyMenu }
func (m *menuStrategy) AuthenticatesFirst() bool { return true }

func (m *menuStrategy) React(r schemas.Readiness, _ int) action {
	if r == schemas.ReadinessLoginRequired || r.SessionLoss() {
		return actionAuthenticate
	}
	return actionRetry
}

func (m *menuStrategy) Reach(ctx context.Context) (schemas.Readiness, error) {
	sels := m.site.Selectors
	p, err := m.handle.Page(ctx)
	if err != nil {
		return "", err
	}
	if err := p.Navigate(ctx, m.site.LandingURL()); err != nil {
		return "", err
	}
	if err := p.WaitSettled(ctx, m.settle); err != nil {
		return "", err
	}
	// The session may have lapsed since the last check.
	if login, err := p.Visible(ctx, sels.LoginLink); err != nil {
		return "", err
	} else if login {
		return schemas.ReadinessLoginRequired, nil
	}

	if err := m.waitMenu(ctx, p); err != nil {
		return "", err
	}
	if err := m.openMenu(ctx, p); err != nil {
		return "", err
	}
	idx, err := m.visibleEntry(ctx, p)
	if err != nil {
		return "", err
	}

	switched, err := m.handle.ClickFollowingPopup(ctx, sels.SubmenuEntry, idx, m.cfg.PopupWindow)
	if err != nil {
		return "", fmt.Errorf("clicking submenu entry: %w", err)
	}
	if switched {
		m.logger.Info("Search surface opened in a new tab.")
	}

	p, err = m.handle.Page(ctx)
	if err != nil {
		return "", err
	}
	if err := p.WaitSettled(ctx, m.settle); err != nil {
		return "", err
	}
	return m.classifier.Classify(ctx, p)
}

// waitMenu waits for the menu toggle, reloading the page once if it does
// not show up in time.
func (m *menuStrategy) waitMenu(ctx context.Context, p browser.Page) error {
	sel := m.site.Selectors.MenuToggle
	err := p.WaitVisible(ctx, sel, m.cfg.MenuTimeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, browser.ErrWaitTimeout) {
		return err
	}

	m.logger.Warn("Menu control not visible; reloading once.", zap.Duration("waited", m.cfg.MenuTimeout))
	if err := p.Reload(ctx); err != nil {
		return err
	}
	if err := p.WaitSettled(ctx, m.settle); err != nil {
		return err
	}
	if err := p.WaitVisible(ctx, sel, m.cfg.MenuTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrMenuMissing, err)
	}
	return nil
}

// openMenu clicks the toggle, dismissing any overlay that intercepts it.
func (m *menuStrategy) openMenu(ctx context.Context, p browser.Page) error {
	sels := m.site.Selectors
	return retry.Do(
		func() error {
			return p.Click(ctx, sels.MenuToggle)
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.ClickAttempts)),
		retry.Delay(m.cfg.ClickDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, browser.ErrClickBlocked) || errors.Is(err, browser.ErrNotVisible)
		}),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debug("Menu click intercepted.", zap.Uint("attempt", n+1), zap.Error(err))
			m.dismissOverlay(ctx, p)
		}),
	)
}

func (m *menuStrategy) dismissOverlay(ctx context.Context, p browser.Page) {
	sel := m.site.Selectors.Overlay
	if sel == "" {
		return
	}
	if ok, err := p.Visible(ctx, sel); err != nil || !ok {
		return
	}
	if err := p.Click(ctx, sel); err != nil {
		m.logger.Debug("Could not dismiss overlay.", zap.Error(err))
	}
}

// visibleEntry returns the document position of the visible submenu entry.
// The entry is rendered twice under the same id with one copy hidden, so
// the first match is not necessarily clickable.
func (m *menuStrategy) visibleEntry(ctx context.Context, p browser.Page) (int, error) {
	sel := m.site.Selectors.SubmenuEntry
	var idx []int
	err := browser.Poll(ctx, m.cfg.MenuTimeout, 0, func(ctx context.Context) (bool, error) {
		var err error
		idx, err = p.VisibleIndexes(ctx, sel)
		return len(idx) > 0, err
	})
	if err == nil {
		if idx[0] != 0 {
			m.logger.Debug("Skipping hidden duplicate of the submenu entry.", zap.Int("index", idx[0]))
		}
		return idx[0], nil
	}
	if errors.Is(err, browser.ErrWaitTimeout) {
		exists, xerr := p.Exists(ctx, sel)
		if xerr == nil && exists {
			m.logger.Error("Submenu entry is present but every copy is hidden.", zap.String("selector", sel))
			return 0, fmt.Errorf("%w: %s", ErrNoVisibleEntry, sel)
		}
		return 0, fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
	return 0, err
}
