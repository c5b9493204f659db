package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
	"github.com/xkilldash9x/catalog-cli/internal/search"
	"github.com/xkilldash9x/catalog-cli/internal/session"
)

func batchConfig() *config.Config {
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
	cfg.BatchCfg.MinInterval = 0
	cfg.BatchCfg.ItemTimeout = 5 * time.Second
	return cfg
}

// harness wires the real components against the scripted catalogue. A
// fresh harness over the same data dir and site behaves like a restarted
// process.
type harness struct {
	site  *browsertest.Site
	queue *queue.Queue
	orch  *orchestrator.Orchestrator
}

func newHarness(t *testing.T, cfg *config.Config, site *browsertest.Site, dataDir string, opts ...orchestrator.Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	h := browser.NewHandle(browsertest.NewBrowser(site), logger)
	mgr := session.NewManager(h, cfg, session.NewFileStore(filepath.Join(dataDir, "session.json")), logger)
	_, err := mgr.Restore(context.Background())
	require.NoError(t, err)
	nav, err := navigation.NewResolver(h, mgr, cfg, logger)
	require.NoError(t, err)
	searcher := search.NewClassifier(h, nav, nav.Classifier(), cfg, logger)

	q, err := queue.Open(dataDir, logger)
	require.NoError(t, err)
	orch, err := orchestrator.New(cfg, logger, nav, searcher, q, opts...)
	require.NoError(t, err)
	return &harness{site: site, queue: q, orch: orch}
}

func newSite(cfg *config.Config) *browsertest.Site {
	return browsertest.NewSite(cfg.Site(), "cataloger", "s3cret")
}

func TestBatchScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("found with enabled save control is added", func(t *testing.T) {
		cfg := batchConfig()
		site := newSite(cfg)
		site.SetRecord("9780545139700", browsertest.Available)
		dir := t.TempDir()
		h := newHarness(t, cfg, site, dir)

		sum, err := h.orch.Run(ctx, []string{"9780545139700"})
		require.NoError(t, err)
		require.Equal(t, 1, sum.Processed())
		assert.Equal(t, schemas.OutcomeAdded, sum.Results[0].Outcome)
		assert.Equal(t, []queue.Entry{{ISBN: "9780545139700"}}, h.queue.Entries(queue.SetAdded))
		assert.Empty(t, h.queue.Pending())
		assert.Equal(t, 1, site.SaveClicks("9780545139700"))

		added, err := os.ReadFile(queue.LedgerPath(dir, queue.SetAdded))
		require.NoError(t, err)
		assert.Equal(t, "9780545139700\n", string(added))
	})

	t.Run("no matching resource is not found", func(t *testing.T) {
		cfg := batchConfig()
		h := newHarness(t, cfg, newSite(cfg), t.TempDir())

		sum, err := h.orch.Run(ctx, []string{"000"})
		require.NoError(t, err)
		assert.Equal(t, schemas.OutcomeNotFound, sum.Results[0].Outcome)
		assert.Equal(t, schemas.Tally{NotFound: 1}, sum.Tally)
	})

	t.Run("one login serves the whole batch", func(t *testing.T) {
		cfg := batchConfig()
		site := newSite(cfg)
		site.SetRecord("9780545139700", browsertest.Available)
		site.SetRecord("9780306406157", browsertest.Cataloged)
		site.SetRecord("0306406152", browsertest.Garbled)
		h := newHarness(t, cfg, site, t.TempDir())

		sum, err := h.orch.Run(ctx, []string{"9780545139700", "9780306406157", "000", "0306406152"})
		require.NoError(t, err)
		assert.Equal(t, schemas.Tally{Added: 1, AlreadyExists: 1, NotFound: 1, Errors: 1}, sum.Tally)
		assert.Equal(t, 1, site.LoginSubmissions())
		assert.Zero(t, site.SaveClicks("9780306406157"))
	})

	t.Run("every identifier ends in exactly one set", func(t *testing.T) {
		cfg := batchConfig()
		site := newSite(cfg)
		ids := []string{"1", "2", "3", "4", "5"}
		site.SetRecord("1", browsertest.Available)
		site.SetRecord("2", browsertest.Cataloged)
		site.SetRecord("4", browsertest.NoSave)
		site.SetRecord("5", browsertest.Silent)
		h := newHarness(t, cfg, site, t.TempDir())

		_, err := h.orch.Run(ctx, append(ids, "1", "3"))
		require.NoError(t, err)
		for _, id := range ids {
			_, ok := h.queue.SetOf(id)
			assert.True(t, ok, id)
		}
		tally := h.queue.Tally()
		assert.Equal(t, len(ids), tally.Total())
		assert.Zero(t, tally.Pending)
		assert.Equal(t, 1, site.Searches("1"), "duplicates are submitted once")
	})
}

func TestBatchIdempotence(t *testing.T) {
	ctx := context.Background()
	cfg := batchConfig()
	site := newSite(cfg)
	site.SetRecord("9780545139700", browsertest.Available)
	dir := t.TempDir()
	ids := []string{"9780545139700", "000"}

	_, err := newHarness(t, cfg, site, dir).orch.Run(ctx, ids)
	require.NoError(t, err)

	again := newHarness(t, cfg, site, dir)
	sum, err := again.orch.Run(ctx, ids)
	require.NoError(t, err)
	assert.Zero(t, sum.Enqueued)
	assert.Zero(t, sum.Processed())
	assert.Equal(t, 1, site.Searches("9780545139700"))
	assert.Equal(t, 1, site.Searches("000"))
	assert.Equal(t, 1, site.SaveClicks("9780545139700"))
}

func TestBatchResume(t *testing.T) {
	cfg := batchConfig()
	site := newSite(cfg)
	dir := t.TempDir()
	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		site.SetRecord(id, browsertest.Available)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := newHarness(t, cfg, site, dir, orchestrator.WithObserver(func(res schemas.Result) {
		if res.ISBN == "2" {
			cancel()
		}
	}))
	sum, err := first.orch.Run(ctx, ids)
	require.NoError(t, err)
	require.True(t, sum.Interrupted)
	assert.Equal(t, 2, sum.Processed())

	// Conservation holds at the checkpoint.
	tally := first.queue.Tally()
	assert.Equal(t, len(ids), tally.Total())

	second := newHarness(t, cfg, site, dir)
	sum, err = second.orch.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 3, sum.Processed())
	for _, id := range ids {
		assert.Equal(t, 1, site.Searches(id), id)
		assert.Equal(t, 1, site.SaveClicks(id), id)
	}
	assert.Equal(t, 1, site.LoginSubmissions(), "the saved session is reused after restart")
}

func TestBatchUnreachable(t *testing.T) {
	cfg := batchConfig()
	cfg.NavigationCfg.Strategies = []string{config.StrategyDirect}
	site := newSite(cfg)
	site.DirectDenied = true
	h := newHarness(t, cfg, site, t.TempDir())

	sum, err := h.orch.Run(context.Background(), []string{"9780545139700"})
	require.Error(t, err)
	assert.ErrorIs(t, err, navigation.ErrUnreachable)
	assert.Equal(t, schemas.KindNavigation, schemas.KindOf(err))
	assert.Zero(t, site.Searches("9780545139700"))
	assert.Equal(t, []string{"9780545139700"}, h.queue.Pending())
	assert.Zero(t, sum.Processed())
}
