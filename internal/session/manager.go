// Package session owns the catalogue login state: it proves whether the
// active page is authenticated, logs in when it is not, and persists the
// resulting session snapshot for the next run.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/observability"
)

// ErrNotAuthenticated means a login was attempted but never confirmed.
var ErrNotAuthenticated = errors.New("login could not be confirmed")

var errDialogNotReady = errors.New("login dialog did not show credential fields")

// dialogRetryDelay is the pause between two login dialog attempts.
var dialogRetryDelay = 500 * time.Millisecond

// Credentials are opaque. Neither value is ever printed.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%s Password:%s}", mask(c.Username), mask(c.Password))
}

func (c Credentials) GoString() string { return c.String() }

func mask(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "[REDACTED]"
}

// Manager is the session state machine.
type Manager struct {
	handle *browser.Handle
	site   config.SiteConfig
	cfg    config.AuthConfig
	creds  Credentials
	store  SnapshotStore
	settle time.Duration
	logger *zap.Logger
}

func NewManager(h *browser.Handle, cfg config.Interface, store SnapshotStore, logger *zap.Logger) *Manager {
	auth := cfg.Auth()
	return &Manager{
		handle: h,
		site:   cfg.Site(),
		cfg:    auth,
		creds:  Credentials{Username: auth.Username, Password: auth.Password},
		store:  store,
		settle: cfg.Search().SettleDelay,
		logger: logger.Named("session"),
	}
}

// Restore loads a saved snapshot into the browser. It reports whether one
// was applied. Whether the snapshot still works is learned by probing.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	snap, err := m.store.Load()
	if errors.Is(err, ErrNoSnapshot) {
		m.logger.Info("No saved session; a fresh login will be needed.")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := snap.RestoreCookies(ctx, m.handle.Browser()); err != nil {
		return false, err
	}
	p, err := m.handle.Page(ctx)
	if err != nil {
		return false, err
	}
	if err := p.Navigate(ctx, m.site.LandingURL()); err != nil {
		return false, err
	}
	written, err := snap.RestoreStorage(ctx, p)
	if err != nil {
		return false, err
	}
	if written {
		if err := p.Reload(ctx); err != nil {
			return false, err
		}
	}
	m.logger.Info("Restored saved session.",
		zap.Time("saved_at", snap.SavedAt),
		zap.Int("cookies", len(snap.Cookies)))
	return true, nil
}

// Probe reports whether the active page proves an authenticated session:
// the login affordance is absent and the logout affordance is present.
// A page that is not on the catalogue is first sent to the landing page.
func (m *Manager) Probe(ctx context.Context) (bool, error) {
	p, err := m.handle.Page(ctx)
	if err != nil {
		return false, err
	}
	loc, err := p.URL(ctx)
	if err != nil {
		return false, err
	}
	if !strings.HasPrefix(loc, m.site.BaseURL) {
		if err := p.Navigate(ctx, m.site.LandingURL()); err != nil {
			return false, err
		}
	}
	return m.authenticated(ctx, p)
}

func (m *Manager) authenticated(ctx context.Context, p browser.Page) (bool, error) {
	login, err := p.Visible(ctx, m.site.Selectors.LoginLink)
	if err != nil {
		return false, err
	}
	if login {
		return false, nil
	}
	return p.Visible(ctx, m.site.Selectors.LogoutLink)
}

// EnsureAuthenticated logs in unless the active page already proves a
// session. A login counts only once the logout affordance appears.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (schemas.AuthResult, error) {
	var res schemas.AuthResult

	ok, err := m.Probe(ctx)
	if err != nil {
		return res, schemas.NewError(schemas.KindTransport, "probe session", err)
	}
	if ok {
		res.Authenticated = true
		return res, nil
	}
	if m.creds.Username == "" || m.creds.Password == "" {
		return res, schemas.NewError(schemas.KindSetup, "ensure authenticated", config.ErrMissingCredentials)
	}

	m.logger.Info("Session is not authenticated; logging in.",
		observability.Secret("username", m.creds.Username),
		zap.Int("max_attempts", m.cfg.DialogAttempts))

	err = retry.Do(
		func() error {
			res.Attempts++
			submitted, err := m.attempt(ctx)
			if submitted {
				res.LoggedIn = true
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.DialogAttempts)),
		retry.Delay(dialogRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("Login attempt failed.", zap.Uint("attempt", n+1), zap.Error(err))
			m.dismissDialog(ctx)
		}),
	)
	if err != nil {
		return res, schemas.NewError(schemas.KindAuth, "ensure authenticated",
			fmt.Errorf("%w after %d attempts: %v", ErrNotAuthenticated, res.Attempts, err))
	}

	res.Authenticated = true
	m.logger.Info("Login confirmed.", zap.Int("attempts", res.Attempts))
	m.saveSnapshot(ctx)
	return res, nil
}

// attempt runs one pass of the login dialog. It reports whether the
// credentials were submitted.
func (m *Manager) attempt(ctx context.Context) (bool, error) {
	sels := m.site.Selectors
	p, err := m.handle.Page(ctx)
	if err != nil {
		return false, err
	}

	visible, err := p.Visible(ctx, sels.LoginLink)
	if err != nil {
		return false, err
	}
	if !visible {
		if err := p.Navigate(ctx, m.site.LandingURL()); err != nil {
			return false, err
		}
		// Another path may have logged in meanwhile.
		if ok, err := m.authenticated(ctx, p); err == nil && ok {
			return false, nil
		}
	}

	if err := p.Click(ctx, sels.LoginLink); err != nil {
		return false, fmt.Errorf("opening login dialog: %w", err)
	}
	if err := p.WaitVisible(ctx, sels.UsernameField, m.cfg.DialogTimeout); err != nil {
		return false, fmt.Errorf("%w: %v", errDialogNotReady, err)
	}

	if err := p.Fill(ctx, sels.UsernameField, m.creds.Username); err != nil {
		return false, fmt.Errorf("filling username: %w", err)
	}
	if err := p.Fill(ctx, sels.PasswordField, m.creds.Password); err != nil {
		return false, fmt.Errorf("filling password: %w", err)
	}
	if err := p.Click(ctx, sels.LoginSubmit); err != nil {
		return false, fmt.Errorf("submitting login: %w", err)
	}

	if err := p.WaitSettled(ctx, m.settle); err != nil {
		return true, err
	}
	if err := p.WaitVisible(ctx, sels.LogoutLink, m.cfg.ConfirmTimeout); err != nil {
		return true, fmt.Errorf("logout affordance never appeared: %w", err)
	}
	ok, err := m.authenticated(ctx, p)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, errors.New("login affordance still visible after submit")
	}
	return true, nil
}

func (m *Manager) dismissDialog(ctx context.Context) {
	p := m.handle.Current()
	if p == nil || browser.IsClosed(p) {
		return
	}
	sel := m.site.Selectors.DialogClose
	if ok, err := p.Visible(ctx, sel); err != nil || !ok {
		return
	}
	if err := p.Click(ctx, sel); err != nil {
		m.logger.Debug("Could not dismiss login dialog.", zap.Error(err))
	}
}

// saveSnapshot overwrites the stored snapshot. Failure is logged only; the
// live session is still good.
func (m *Manager) saveSnapshot(ctx context.Context) {
	p := m.handle.Current()
	if p == nil {
		return
	}
	snap, err := browser.Capture(ctx, m.handle.Browser(), p)
	if err != nil {
		m.logger.Warn("Could not capture session snapshot.", zap.Error(err))
		return
	}
	if err := m.store.Save(snap); err != nil {
		m.logger.Warn("Could not save session snapshot.", zap.Error(err))
		return
	}
	m.logger.Debug("Session snapshot saved.", zap.Int("cookies", len(snap.Cookies)))
}
