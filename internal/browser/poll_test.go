// internal/browser/poll_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestPoll(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	t.Run("returns once the condition holds", func(t *testing.T) {
		calls := 0
		err := Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out with the last error attached", func(t *testing.T) {
		err := Poll(ctx, 20*time.Millisecond, time.Millisecond, func(context.Context) (bool, error) {
			return false, errors.New("execution context was destroyed")
		})
		assert.ErrorIs(t, err, ErrWaitTimeout)
		assert.ErrorContains(t, err, "execution context was destroyed")
	})

	t.Run("stops at once on a closed page", func(t *testing.T) {
		calls := 0
		err := Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return false, ErrPageClosed
		})
		assert.ErrorIs(t, err, ErrPageClosed)
		assert.Equal(t, 1, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Poll(cctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestControlStateString(t *testing.T) {
	assert.Equal(t, "absent", ControlAbsent.String())
	assert.Equal(t, "disabled", ControlDisabled.String())
	assert.Equal(t, "enabled", ControlEnabled.String())
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://catalog.test", origin("https://catalog.test/cataloging/search?x=1"))
	assert.Equal(t, "", origin("about:blank"))
	assert.Equal(t, "", origin("::not a url"))
}
