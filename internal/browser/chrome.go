// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/browser/stealth"
	"github.com/xkilldash9x/catalog-cli/internal/config"
)

const (
	defaultActionTimeout     = 15 * time.Second
	defaultNavigationTimeout = 60 * time.Second
	settleCeiling            = 30 * time.Second
	closeTimeout             = 10 * time.Second
)

// Manager is the chromedp-backed Browser. It owns one Chrome process; all
// tabs share its cookie jar.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed map[target.ID]chan struct{}
	pages  map[target.ID]*chromePage
}

var _ Browser = (*Manager)(nil)

// NewManager launches Chrome and returns once the DevTools connection is up.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
		closed: make(map[target.ID]chan struct{}),
		pages:  make(map[target.ID]*chromePage),
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	m.logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	chromedp.ListenBrowser(browserCtx, m.onBrowserEvent)
	return m, nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", m.cfg.Headless),
	)
	if m.cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.UserDataDir))
	}
	if ua := m.cfg.Persona.UserAgent; ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	for _, arg := range m.cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

func (m *Manager) onBrowserEvent(ev interface{}) {
	destroyed, ok := ev.(*target.EventTargetDestroyed)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.closed[destroyed.TargetID]; ok {
		close(ch)
		delete(m.closed, destroyed.TargetID)
		delete(m.pages, destroyed.TargetID)
		m.logger.Debug("Tab destroyed.", zap.String("page_id", string(destroyed.TargetID)))
	}
}

// NewPage opens a new tab.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	p, err := m.attach(ctx, tabCtx, cancel)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WaitNewPage registers a new-target listener before running trigger so a
// tab opened by the click cannot be missed. The listener goes away when
// this call returns.
func (m *Manager) WaitNewPage(ctx context.Context, opener Page, window time.Duration, trigger func(context.Context) error) (Page, error) {
	var openerID target.ID
	if cp, ok := opener.(*chromePage); ok {
		openerID = cp.id
	}

	listenCtx, stop := context.WithCancel(m.browserCtx)
	defer stop()
	ch := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		return info.Type == "page" && (openerID == "" || info.OpenerID == openerID)
	})

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case id := <-ch:
		tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(id))
		p, err := m.attach(ctx, tabCtx, cancel)
		if err != nil {
			return nil, fmt.Errorf("failed to attach to new tab: %w", err)
		}
		return p, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newChromePage(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *chromePage {
	p := &chromePage{
		ctx:           tabCtx,
		cancel:        cancel,
		logger:        logger,
		actionTimeout: orDefault(cfg.ActionTimeout, defaultActionTimeout),
		navTimeout:    orDefault(cfg.NavigationTimeout, defaultNavigationTimeout),
		postLoadWait:  cfg.PostLoadWait,
	}
	p.lastActivity.Store(time.Now().UnixNano())
	return p
}

func (m *Manager) attach(ctx context.Context, tabCtx context.Context, cancel context.CancelFunc) (*chromePage, error) {
	p := newChromePage(tabCtx, cancel, m.cfg, m.logger)

	setup := append(chromedp.Tasks{network.Enable()}, stealth.Apply(m.cfg.Persona, m.logger)...)
	runCtx, runCancel := CombineContext(tabCtx, ctx)
	defer runCancel()
	if err := chromedp.Run(runCtx, setup); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set up tab: %w", err)
	}

	t := chromedp.FromContext(tabCtx).Target
	if t == nil {
		cancel()
		return nil, errors.New("tab has no target after setup")
	}
	p.id = t.TargetID

	m.mu.Lock()
	p.closed = make(chan struct{})
	m.closed[p.id] = p.closed
	m.pages[p.id] = p
	m.mu.Unlock()

	chromedp.ListenTarget(tabCtx, p.onTargetEvent)
	m.logger.Debug("Tab attached.", zap.String("page_id", p.ID()))
	return p, nil
}

// Cookies returns every cookie in the browser's default context.
func (m *Manager) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := m.runBrowser(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (m *Manager) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		// Session cookies report -1.
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	if err := m.runBrowser(ctx, storage.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}
	return nil
}

// runBrowser executes a browser-level command (no tab attached).
func (m *Manager) runBrowser(ctx context.Context, action chromedp.Action) error {
	opCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()
	c := chromedp.FromContext(m.browserCtx)
	if c == nil || c.Browser == nil {
		return errors.New("browser is not running")
	}
	return action.Do(cdp.WithExecutor(opCtx, c.Browser))
}

// Close shuts every tab and the Chrome process down.
func (m *Manager) Close() error {
	m.mu.Lock()
	pages := make([]*chromePage, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.Unlock()

	for _, p := range pages {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := chromedp.Cancel(m.browserCtx); err != nil {
			m.logger.Debug("Graceful browser cancel failed.", zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		m.logger.Warn("Timed out waiting for the browser to close.")
	}

	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser closed.")
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
