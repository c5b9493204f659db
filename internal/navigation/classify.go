package navigation

import (
	"context"
	"strings"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
)

// Classifier reduces the page a navigation landed on to a Readiness.
// The remote application has no status endpoint, so the verdict comes from
// URL fragments and from which affordances are rendered.
type Classifier struct {
	site config.SiteConfig
}

func NewClassifier(site config.SiteConfig) *Classifier {
	return &Classifier{site: site}
}

// Classify inspects p without navigating. Ready only means the URL and the
// affordances look right; callers still confirm the search input.
func (c *Classifier) Classify(ctx context.Context, p browser.Page) (schemas.Readiness, error) {
	loc, err := p.URL(ctx)
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(loc)
	m := c.site.Markers

	if containsAny(lower, m.LoginURLs) {
		return schemas.ReadinessLoginRequired, nil
	}
	if containsAny(lower, m.DeniedURLs) {
		return schemas.ReadinessPermissionDenied, nil
	}

	login, err := p.Visible(ctx, c.site.Selectors.LoginLink)
	if err != nil {
		return "", err
	}
	if login {
		return schemas.ReadinessLoginRequired, nil
	}
	if sel := c.site.Selectors.PermissionDenied; sel != "" {
		denied, err := p.Visible(ctx, sel)
		if err != nil {
			return "", err
		}
		if denied {
			return schemas.ReadinessPermissionDenied, nil
		}
	}

	if frag := strings.ToLower(m.SearchURLFragment); frag != "" && !strings.Contains(lower, frag) {
		return schemas.ReadinessRedirected, nil
	}
	return schemas.ReadinessReady, nil
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
