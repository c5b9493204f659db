package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/catalog-cli/internal/config"
)

func TestMain(m *testing.M) {
	dialogRetryDelay = 0
	goleak.VerifyTestMain(m)
}

type fixture struct {
	site    *browsertest.Site
	browser *browsertest.Browser
	handle  *browser.Handle
	store   *FileStore
	mgr     *Manager
	logs    *observer.ObservedLogs
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SiteCfg = browsertest.DefaultSiteConfig()
	cfg.AuthCfg.Username = "cataloger"
	cfg.AuthCfg.Password = "s3cret"
	cfg.SearchCfg.SettleDelay = 0
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	site := browsertest.NewSite(cfg.Site(), "cataloger", "s3cret")
	b := browsertest.NewBrowser(site)
	h := browser.NewHandle(b, logger)
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	return &fixture{
		site:    site,
		browser: b,
		handle:  h,
		store:   store,
		mgr:     NewManager(h, cfg, store, logger),
		logs:    logs,
	}
}

func TestEnsureAuthenticated(t *testing.T) {
	ctx := context.Background()

	t.Run("logs in once and saves a snapshot", func(t *testing.T) {
		f := newFixture(t, testConfig())

		res, err := f.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		assert.Equal(t, schemas.AuthResult{Authenticated: true, LoggedIn: true, Attempts: 1}, res)
		assert.Equal(t, 1, f.site.LoginSubmissions())

		snap, err := f.store.Load()
		require.NoError(t, err)
		assert.NotEmpty(t, snap.Cookies)
		assert.Equal(t, "https://catalog.test", snap.Origin)
	})

	t.Run("reuses an authenticated session", func(t *testing.T) {
		f := newFixture(t, testConfig())
		_, err := f.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)

		res, err := f.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		assert.True(t, res.Authenticated)
		assert.False(t, res.LoggedIn)
		assert.Equal(t, 1, f.site.LoginSubmissions(), "no second login")
	})

	t.Run("reopens a dialog that shows no fields", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.site.DialogFailures = 2

		res, err := f.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, f.site.DialogOpens())
		assert.Equal(t, 1, f.site.LoginSubmissions())
	})

	t.Run("gives up after the attempt ceiling", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.site.DialogFailures = 10

		res, err := f.mgr.EnsureAuthenticated(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Equal(t, schemas.KindAuth, schemas.KindOf(err))
		assert.False(t, res.Authenticated)
		assert.False(t, res.LoggedIn)
		assert.Equal(t, 3, f.site.DialogOpens())

		_, err = f.store.Load()
		assert.ErrorIs(t, err, ErrNoSnapshot, "no snapshot without a confirmed login")
	})

	t.Run("wrong credentials are never confirmed", func(t *testing.T) {
		cfg := testConfig()
		cfg.AuthCfg.Password = "wrong"
		f := newFixture(t, cfg)

		res, err := f.mgr.EnsureAuthenticated(ctx)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.True(t, res.LoggedIn, "credentials were submitted")
		assert.False(t, res.Authenticated)
		assert.Equal(t, 3, f.site.LoginSubmissions())
	})

	t.Run("missing credentials are a setup error", func(t *testing.T) {
		cfg := testConfig()
		cfg.AuthCfg.Password = ""
		f := newFixture(t, cfg)

		_, err := f.mgr.EnsureAuthenticated(ctx)
		assert.ErrorIs(t, err, config.ErrMissingCredentials)
		assert.Equal(t, schemas.KindSetup, schemas.KindOf(err))
		assert.Zero(t, f.site.DialogOpens())
	})

	t.Run("credentials never reach the log", func(t *testing.T) {
		cfg := testConfig()
		cfg.AuthCfg.Password = "wrong-but-secret"
		f := newFixture(t, cfg)
		_, _ = f.mgr.EnsureAuthenticated(ctx)

		require.NotZero(t, f.logs.Len())
		for _, entry := range f.logs.All() {
			assert.NotContains(t, entry.Message, "wrong-but-secret")
			assert.NotContains(t, entry.Message, "cataloger")
			for k, v := range entry.ContextMap() {
				s, _ := v.(string)
				assert.NotContains(t, s, "wrong-but-secret", "field %s", k)
				assert.NotContains(t, s, "cataloger", "field %s", k)
			}
		}
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("no snapshot", func(t *testing.T) {
		f := newFixture(t, testConfig())
		ok, err := f.mgr.Restore(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a saved session skips the login", func(t *testing.T) {
		cfg := testConfig()
		first := newFixture(t, cfg)
		_, err := first.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)

		// Same remote site, new browser process, same snapshot file.
		b := browsertest.NewBrowser(first.site)
		h := browser.NewHandle(b, zap.NewNop())
		mgr := NewManager(h, cfg, first.store, zap.NewNop())

		ok, err := mgr.Restore(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		res, err := mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		assert.False(t, res.LoggedIn)
		assert.Equal(t, 1, first.site.LoginSubmissions())
	})

	t.Run("an expired snapshot falls back to login", func(t *testing.T) {
		cfg := testConfig()
		f := newFixture(t, cfg)
		_, err := f.mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		f.site.ExpireSessions()

		b := browsertest.NewBrowser(f.site)
		mgr := NewManager(browser.NewHandle(b, zap.NewNop()), cfg, f.store, zap.NewNop())
		ok, err := mgr.Restore(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		authed, err := mgr.Probe(ctx)
		require.NoError(t, err)
		assert.False(t, authed)

		res, err := mgr.EnsureAuthenticated(ctx)
		require.NoError(t, err)
		assert.True(t, res.LoggedIn)
		assert.Equal(t, 2, f.site.LoginSubmissions())
	})
}

func TestCredentialsString(t *testing.T) {
	c := Credentials{Username: "cataloger", Password: "s3cret"}
	for _, s := range []string{c.String(), c.GoString()} {
		assert.NotContains(t, s, "cataloger")
		assert.NotContains(t, s, "s3cret")
	}
	assert.Contains(t, Credentials{}.String(), "<unset>")
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "nested", "session.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	in := &browser.Snapshot{
		Cookies:      []browser.Cookie{{Name: "catalog_session", Value: "tok-1", Domain: "catalog.test", Path: "/"}},
		Origin:       "https://catalog.test",
		LocalStorage: map[string]string{"prefs": "compact"},
	}
	require.NoError(t, store.Save(in))

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove(), "removing twice is fine")

	require.NoError(t, os.WriteFile(store.Path, []byte("{not json"), 0o600))
	_, err = store.Load()
	assert.ErrorContains(t, err, "decoding session snapshot")

	t.Run("no temp files are left behind", func(t *testing.T) {
		require.NoError(t, store.Save(in))
		entries, err := os.ReadDir(filepath.Dir(store.Path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "session.json", entries[0].Name())
	})

	t.Run("directory sync", func(t *testing.T) {
		require.NoError(t, syncDir(dir))
		assert.ErrorContains(t, syncDir(filepath.Join(dir, "missing")), "opening snapshot directory")
	})
}
