// internal/browser/snapshot.go
package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Snapshot is the persisted proof of an authenticated session: the cookie
// jar plus the local storage of the origin it was taken on.
type Snapshot struct {
	Cookies      []Cookie          `json:"cookies"`
	Origin       string            `json:"origin,omitempty"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Capture reads cookies from b and local storage from p.
func Capture(ctx context.Context, b Browser, p Page) (*Snapshot, error) {
	cookies, err := b.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Cookies: cookies, SavedAt: time.Now().UTC()}

	loc, err := p.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page url: %w", err)
	}
	snap.Origin = origin(loc)
	if snap.Origin != "" {
		items, err := p.LocalStorage(ctx)
		if err != nil {
			return nil, err
		}
		snap.LocalStorage = items
	}
	return snap, nil
}

// RestoreCookies loads the snapshot's cookies into b.
func (s *Snapshot) RestoreCookies(ctx context.Context, b Browser) error {
	return b.SetCookies(ctx, s.Cookies)
}

// RestoreStorage writes the snapshot's local storage into p when p is on
// the origin the snapshot came from. It reports whether anything was written.
func (s *Snapshot) RestoreStorage(ctx context.Context, p Page) (bool, error) {
	if len(s.LocalStorage) == 0 {
		return false, nil
	}
	loc, err := p.URL(ctx)
	if err != nil {
		return false, err
	}
	if origin(loc) != s.Origin {
		return false, nil
	}
	if err := p.SetLocalStorage(ctx, s.LocalStorage); err != nil {
		return false, err
	}
	return true, nil
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
