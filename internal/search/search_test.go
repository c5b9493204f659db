package search_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
	"github.com/xkilldash9x/catalog-cli/internal/search"
	"github.com/xkilldash9x/catalog-cli/internal/session"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SiteCfg = browsertest.DefaultSiteConfig()
	cfg.AuthCfg.Username = "cataloger"
	cfg.AuthCfg.Password = "s3cret"
	cfg.NavigationCfg.MenuTimeout = 10 * time.Millisecond
	cfg.NavigationCfg.PopupWindow = 10 * time.Millisecond
	cfg.NavigationCfg.ClickDelay = 0
	cfg.NavigationCfg.InputTimeout = 10 * time.Millisecond
	cfg.SearchCfg.StatusTimeout = 50 * time.Millisecond
	cfg.SearchCfg.PollInterval = time.Millisecond
	cfg.SearchCfg.GraceDelay = 0
	cfg.SearchCfg.ModalTimeout = time.Millisecond
	cfg.SearchCfg.SettleDelay = 0
	return cfg
}

func newClassifier(t *testing.T, cfg *config.Config, tweak func(*browsertest.Site)) (*search.Classifier, *browsertest.Site) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	site := browsertest.NewSite(cfg.Site(), "cataloger", "s3cret")
	if tweak != nil {
		tweak(site)
	}
	h := browser.NewHandle(browsertest.NewBrowser(site), logger)
	mgr := session.NewManager(h, cfg, session.NewFileStore(filepath.Join(t.TempDir(), "s.json")), logger)
	nav, err := navigation.NewResolver(h, mgr, cfg, logger)
	require.NoError(t, err)
	return search.NewClassifier(h, nav, nav.Classifier(), cfg, logger), site
}

func TestSubmitAndClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled save control is clicked once", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("9780545139700", browsertest.Available)

		res, err := c.SubmitAndClassify(ctx, "9780545139700")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeAdded, res.Outcome)
		assert.Equal(t, "9780545139700", res.ISBN)
		assert.False(t, res.At.IsZero())
		assert.Equal(t, 1, site.SaveClicks("9780545139700"))
		assert.Equal(t, browsertest.Cataloged, site.Record("9780545139700"))
	})

	t.Run("no matching resource", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)

		res, err := c.SubmitAndClassify(ctx, "000")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeNotFound, res.Outcome)
		assert.Zero(t, site.TotalSaveClicks())
	})

	t.Run("disabled save control is never clicked", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("9780306406157", browsertest.Cataloged)

		for i := 0; i < 2; i++ {
			res, err := c.SubmitAndClassify(ctx, "9780306406157")
			require.NoError(t, err)
			assert.Equal(t, schemas.OutcomeAlreadyExists, res.Outcome)
		}
		assert.Equal(t, 2, site.Searches("9780306406157"))
		assert.Zero(t, site.TotalSaveClicks())
		assert.Equal(t, 1, site.LoginSubmissions(), "the session is reused across items")
	})

	t.Run("added then already exists", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("0306406152", browsertest.Available)

		first, err := c.SubmitAndClassify(ctx, "0306406152")
		require.NoError(t, err)
		second, err := c.SubmitAndClassify(ctx, "0306406152")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeAdded, first.Outcome)
		assert.Equal(t, schemas.OutcomeAlreadyExists, second.Outcome)
		assert.Equal(t, 1, site.SaveClicks("0306406152"))
	})

	t.Run("found without a save control", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("111", browsertest.NoSave)

		res, err := c.SubmitAndClassify(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeUnknown, res.Outcome)
		assert.Equal(t, "found but no save control", res.Message)
	})

	t.Run("unrecognised status", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("222", browsertest.Garbled)

		res, err := c.SubmitAndClassify(ctx, "222")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeUnknown, res.Outcome)
		assert.Equal(t, "Service temporarily unavailable", res.Message)
	})

	t.Run("status stuck on searching", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("333", browsertest.Silent)

		res, err := c.SubmitAndClassify(ctx, "333")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeUnknown, res.Outcome)
		assert.Equal(t, "Searching...", res.Message)
		assert.Equal(t, 1, site.Searches("333"), "a slow status is not a session loss")
	})

	t.Run("terminal message without a transient phase", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), func(s *browsertest.Site) { s.SearchingPolls = 0 })

		res, err := c.SubmitAndClassify(ctx, "000")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeNotFound, res.Outcome)
		// Same text as the previous search; only the grace delay settles it.
		res, err = c.SubmitAndClassify(ctx, "000")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeNotFound, res.Outcome)
		assert.Equal(t, 2, site.Searches("000"))
	})

	t.Run("modals are dismissed", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), func(s *browsertest.Site) { s.ModalAfterSearch = true })
		site.SetRecord("444", browsertest.Available)

		res, err := c.SubmitAndClassify(ctx, "444")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeAdded, res.Outcome)
	})
}

func TestSubmitAndClassifySessionLoss(t *testing.T) {
	ctx := context.Background()

	t.Run("logged out mid search", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("555", browsertest.Available)
		site.LoseSessionOnSearch("555", browsertest.PageLogin)

		res, err := c.SubmitAndClassify(ctx, "555")
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeAdded, res.Outcome)
		assert.Equal(t, 2, site.Searches("555"))
		assert.Equal(t, 2, site.LoginSubmissions())
		assert.Equal(t, 1, site.SaveClicks("555"))
	})

	for name, state := range map[string]browsertest.PageState{
		"permission denied":   browsertest.PageDenied,
		"unexpected redirect": browsertest.PageLanding,
	} {
		t.Run(name+" is recovered the same way", func(t *testing.T) {
			c, site := newClassifier(t, testConfig(), nil)
			site.LoseSessionOnSearch("666", state)

			res, err := c.SubmitAndClassify(ctx, "666")
			require.NoError(t, err)
			assert.Equal(t, schemas.OutcomeNotFound, res.Outcome)
			assert.Equal(t, 2, site.Searches("666"))
			assert.Equal(t, 1, site.LoginSubmissions())
		})
	}

	t.Run("retries are bounded", func(t *testing.T) {
		c, site := newClassifier(t, testConfig(), nil)
		site.SetRecord("777", browsertest.Available)
		site.LoseSessionOnSearch("777", browsertest.PageDenied, browsertest.PageDenied, browsertest.PageDenied)

		res, err := c.SubmitAndClassify(ctx, "777")
		require.Error(t, err)
		assert.ErrorIs(t, err, search.ErrSessionLost)
		assert.Equal(t, schemas.KindSessionLoss, schemas.KindOf(err))
		assert.Equal(t, schemas.OutcomeError, res.Outcome)
		assert.Contains(t, res.Message, "PERMISSION_DENIED")
		assert.Equal(t, 3, site.Searches("777"))
		assert.Zero(t, site.TotalSaveClicks())
	})
}

func TestSubmitAndClassifyUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.NavigationCfg.Strategies = []string{config.StrategyMenu}
	c, site := newClassifier(t, cfg, func(s *browsertest.Site) { s.NoVisibleEntry = true })

	res, err := c.SubmitAndClassify(context.Background(), "888")
	require.Error(t, err)
	assert.ErrorIs(t, err, navigation.ErrUnreachable)
	assert.Equal(t, schemas.KindNavigation, schemas.KindOf(err))
	assert.Equal(t, schemas.OutcomeError, res.Outcome)
	assert.NotEmpty(t, res.Message)
	assert.Zero(t, site.Searches("888"))
}
