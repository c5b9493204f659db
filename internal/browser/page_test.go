package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/catalog-cli/internal/config"
)

func TestNewChromePage(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p := newChromePage(context.Background(), func() {}, config.BrowserConfig{PostLoadWait: 1500 * time.Millisecond}, logger)
	assert.Equal(t, defaultActionTimeout, p.actionTimeout)
	assert.Equal(t, defaultNavigationTimeout, p.navTimeout)
	assert.Equal(t, 1500*time.Millisecond, p.postLoadWait)

	p = newChromePage(context.Background(), func() {}, config.BrowserConfig{
		ActionTimeout:     time.Second,
		NavigationTimeout: 2 * time.Second,
	}, logger)
	assert.Equal(t, time.Second, p.actionTimeout)
	assert.Equal(t, 2*time.Second, p.navTimeout)
	assert.Zero(t, p.postLoadWait)
}

func TestAfterLoad(t *testing.T) {
	logger := zaptest.NewLogger(t)
	closed := make(chan struct{})
	close(closed)

	t.Run("no wait configured", func(t *testing.T) {
		p := newChromePage(context.Background(), func() {}, config.BrowserConfig{}, logger)
		p.closed = closed
		assert.NoError(t, p.afterLoad(context.Background()))
	})

	t.Run("configured wait settles the page", func(t *testing.T) {
		p := newChromePage(context.Background(), func() {}, config.BrowserConfig{PostLoadWait: time.Millisecond}, logger)
		p.closed = closed
		// A closed tab ends the settle wait at once, which shows it was entered.
		assert.ErrorIs(t, p.afterLoad(context.Background()), ErrPageClosed)
	})
}
