package stealth

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/config"
)

// AcceptLanguage builds an Accept-Language header value from a locale such
// as "en-US": the full tag first, then its base language.
func AcceptLanguage(locale string) string {
	if locale == "" {
		return ""
	}
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, base)
}

// Apply returns the CDP actions that present the configured persona on a
// tab. Unset fields are left at the browser's own values.
func Apply(p config.PersonaConfig, logger *zap.Logger) chromedp.Tasks {
	if logger != nil {
		logger.Debug("Applying browser persona.",
			zap.String("user_agent", p.UserAgent),
			zap.String("locale", p.Locale),
			zap.String("timezone", p.Timezone),
		)
	}

	var tasks chromedp.Tasks
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if lang := AcceptLanguage(p.Locale); lang != "" {
			ua = ua.WithAcceptLanguage(lang)
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks,
			emulation.SetLocaleOverride().WithLocale(p.Locale),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": AcceptLanguage(p.Locale)}),
		)
	}
	return tasks
}
