// internal/browser/browser.go
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPageClosed is returned by any Page call made after the page went away.
	ErrPageClosed = errors.New("browser: page closed")
	// ErrNotFound means the selector matched no element.
	ErrNotFound = errors.New("browser: element not found")
	// ErrNotVisible means the element exists but is not rendered.
	ErrNotVisible = errors.New("browser: element not visible")
	// ErrClickBlocked means another element (usually an overlay) sits on top of the click target.
	ErrClickBlocked = errors.New("browser: click intercepted by another element")
	// ErrWaitTimeout is returned when a bounded wait expires.
	ErrWaitTimeout = errors.New("browser: wait timed out")
)

// ControlState describes a form control at the moment it was inspected.
type ControlState int

const (
	ControlAbsent ControlState = iota
	ControlDisabled
	ControlEnabled
)

func (s ControlState) String() string {
	switch s {
	case ControlDisabled:
		return "disabled"
	case ControlEnabled:
		return "enabled"
	default:
		return "absent"
	}
}

// Page is one browser tab. Every method is bounded by ctx; selectors are CSS.
type Page interface {
	// ID is stable for the lifetime of the tab.
	ID() string
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	Exists(ctx context.Context, sel string) (bool, error)
	// Visible reports whether any element matching sel is rendered.
	Visible(ctx context.Context, sel string) (bool, error)
	// VisibleIndexes returns the positions, among all matches of sel in
	// document order, of the elements that are rendered.
	VisibleIndexes(ctx context.Context, sel string) ([]int, error)
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error

	// Click clicks the first visible match of sel.
	Click(ctx context.Context, sel string) error
	// ClickNth clicks the n-th match of sel in document order.
	ClickNth(ctx context.Context, sel string, n int) error
	// Fill clears the input matching sel and types value into it.
	Fill(ctx context.Context, sel, value string) error

	// HTML returns the inner HTML of the first match, or "" when nothing matches.
	HTML(ctx context.Context, sel string) (string, error)
	ControlState(ctx context.Context, sel string) (ControlState, error)

	// WaitSettled waits for the document to finish loading and then for quiet.
	WaitSettled(ctx context.Context, quiet time.Duration) error

	LocalStorage(ctx context.Context) (map[string]string, error)
	SetLocalStorage(ctx context.Context, items map[string]string) error

	// AcceptDialogs installs a handler that accepts every JavaScript dialog
	// on this page. Callers go through a DialogRegistry so it runs once.
	AcceptDialogs(ctx context.Context) error

	// Closed is closed when the tab is destroyed.
	Closed() <-chan struct{}
}

// Browser owns the process and its tabs.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// WaitNewPage runs trigger and races it against a tab opened by opener
	// within window. It returns the new tab, or nil when none appeared.
	WaitNewPage(ctx context.Context, opener Page, window time.Duration, trigger func(context.Context) error) (Page, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error

	Close() error
}

// Cookie is the subset of a browser cookie needed to restore a session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// IsClosed reports whether p has been destroyed without blocking.
func IsClosed(p Page) bool {
	if p == nil {
		return true
	}
	select {
	case <-p.Closed():
		return true
	default:
		return false
	}
}
