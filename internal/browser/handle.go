// internal/browser/handle.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DialogRegistry remembers which pages already have the dialog-accept
// handler installed. It holds page IDs only, never the pages.
type DialogRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDialogRegistry() *DialogRegistry {
	return &DialogRegistry{seen: make(map[string]struct{})}
}

// Register installs the handler on p unless it was installed before.
// It reports whether a handler was installed by this call.
func (r *DialogRegistry) Register(ctx context.Context, p Page) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[p.ID()]; ok {
		return false, nil
	}
	if err := p.AcceptDialogs(ctx); err != nil {
		return false, fmt.Errorf("registering dialog handler on page %s: %w", p.ID(), err)
	}
	r.seen[p.ID()] = struct{}{}
	return true, nil
}

// Forget drops a page that no longer exists.
func (r *DialogRegistry) Forget(id string) {
	r.mu.Lock()
	delete(r.seen, id)
	r.mu.Unlock()
}

func (r *DialogRegistry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[id]
	return ok
}

// Handle owns the single active page. The active page changes in exactly
// two places: Page, when the current one is missing or closed, and
// ClickFollowingPopup, when a click opens a new tab.
//
// A Handle is not safe for concurrent use; the batch runs one item at a time.
type Handle struct {
	browser Browser
	dialogs *DialogRegistry
	logger  *zap.Logger
	active  Page
}

func NewHandle(b Browser, logger *zap.Logger) *Handle {
	return &Handle{
		browser: b,
		dialogs: NewDialogRegistry(),
		logger:  logger.Named("handle"),
	}
}

func (h *Handle) Browser() Browser { return h.browser }

// Dialogs exposes the registry, mostly for tests.
func (h *Handle) Dialogs() *DialogRegistry { return h.dialogs }

// Current returns the active page without ensuring it is alive. It may be nil.
func (h *Handle) Current() Page { return h.active }

// Page returns a live active page, opening a new tab when the current one
// is missing or was closed.
func (h *Handle) Page(ctx context.Context) (Page, error) {
	if h.active != nil && !IsClosed(h.active) {
		return h.active, nil
	}
	if h.active != nil {
		h.logger.Warn("Active page was closed; opening a replacement.", zap.String("page_id", h.active.ID()))
		h.dialogs.Forget(h.active.ID())
		h.active = nil
	}

	p, err := h.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	if err := h.adopt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ClickFollowingPopup clicks the n-th match of sel on the active page and
// adopts any tab the click opens within window. It reports whether the
// active page changed. The previous page is left as is.
func (h *Handle) ClickFollowingPopup(ctx context.Context, sel string, n int, window time.Duration) (bool, error) {
	opener, err := h.Page(ctx)
	if err != nil {
		return false, err
	}

	popup, err := h.browser.WaitNewPage(ctx, opener, window, func(ctx context.Context) error {
		return opener.ClickNth(ctx, sel, n)
	})
	if err != nil {
		return false, err
	}
	if popup == nil {
		return false, nil
	}

	h.logger.Info("Click opened a new tab; adopting it.",
		zap.String("previous_page", opener.ID()),
		zap.String("page_id", popup.ID()))
	if err := h.adopt(ctx, popup); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handle) adopt(ctx context.Context, p Page) error {
	if _, err := h.dialogs.Register(ctx, p); err != nil {
		return err
	}
	h.active = p
	return nil
}
