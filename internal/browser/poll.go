// internal/browser/poll.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Poll calls cond every interval until it reports true or timeout elapses.
// Errors from cond are treated as "not yet", except ErrPageClosed which
// ends the wait at once. On timeout the last cond error, if any, is
// attached to ErrWaitTimeout.
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = pollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		switch {
		case errors.Is(err, ErrPageClosed):
			return err
		case err != nil:
			lastErr = err
		case ok:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", ErrWaitTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		case <-ticker.C:
		}
	}
}
