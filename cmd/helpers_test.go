// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/service"
)

const testConfigTemplate = `
site:
  base_url: https://catalog.test
auth:
  snapshot_path: %[1]s/session.json
queue:
  data_dir: %[1]s/data
navigation:
  menu_timeout: 10ms
  popup_window: 10ms
  click_delay: 0s
  input_timeout: 10ms
search:
  status_timeout: 50ms
  poll_interval: 1ms
  grace_delay: 0s
  modal_timeout: 1ms
  settle_delay: 0s
batch:
  min_interval: 0s
`

// testEnv is one isolated CLI environment: a config file in a temp dir,
// credentials in the environment, and a scripted catalogue behind the
// component factory.
type testEnv struct {
	dir      string
	cfgPath  string
	site     *browsertest.Site
	launches int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfigTemplate, dir)), 0o600))

	t.Setenv("CATALOG_AUTH_USERNAME", "cataloger")
	t.Setenv("CATALOG_AUTH_PASSWORD", "s3cret")

	return &testEnv{
		dir:     dir,
		cfgPath: cfgPath,
		site:    browsertest.NewSite(browsertest.DefaultSiteConfig(), "cataloger", "s3cret"),
	}
}

func (e *testEnv) dataDir() string { return filepath.Join(e.dir, "data") }

func (e *testEnv) launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Browser, error) {
	e.launches++
	return browsertest.NewBrowser(e.site), nil
}

// execute runs the CLI with args and returns stdout and stderr.
func (e *testEnv) execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand(
		WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))),
		WithComponentFactory(service.NewComponentFactoryWithLauncher(e.launch)),
	)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
