// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from tabCtx, which carries the chromedp
// target, that is also canceled when opCtx is done. If opCtx has a deadline
// earlier than tabCtx's, the combined context adopts it.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if d, ok := opCtx.Deadline(); ok {
		combined, cancel = context.WithDeadline(tabCtx, d)
	} else {
		combined, cancel = context.WithCancel(tabCtx)
	}

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detachedContext keeps the values of its parent but none of its
// cancellation or deadline.
type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

// Detach returns a context that inherits ctx's values but is never canceled by it.
// One item of a batch runs under a detached context so that an interrupt
// never lands in the middle of a save.
func Detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}
