// Package browsertest provides an in-memory stand-in for the remote
// catalogue and the browser that drives it. It implements browser.Browser
// and browser.Page against a scripted Site so that session, navigation,
// search and batch logic can be tested without Chrome.
package browsertest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/catalog-cli/internal/config"
)

// Record describes how the catalogue answers a search for one ISBN.
type Record int

const (
	// Missing: "no matching resource".
	Missing Record = iota
	// Available: found, save control enabled.
	Available
	// Cataloged: found, save control disabled.
	Cataloged
	// NoSave: found, but the page renders no save control.
	NoSave
	// Garbled: a terminal status that matches no known message.
	Garbled
	// Silent: the status never leaves the "searching" phase.
	Silent
)

// PageState is where a fake tab currently is.
type PageState int

const (
	PageBlank PageState = iota
	PageLanding
	PageLogin
	PageDenied
	PageSearch
)

// SessionCookie is the cookie the fake catalogue issues on login.
const SessionCookie = "catalog_session"

// Site is the scripted catalogue. Exported fields configure its behavior
// and may be set before the first call; counters are read through methods.
type Site struct {
	Cfg      config.SiteConfig
	Username string
	Password string

	// DialogFailures is how many login dialog openings show no credential fields.
	DialogFailures int
	// DirectRedirects sends authenticated direct visits to the search URL back to the landing page.
	DirectRedirects bool
	// DirectDenied sends authenticated direct visits to the search URL to the access-denied page.
	DirectDenied bool
	// MenuNeedsReload hides the menu toggle until the page was reloaded once.
	MenuNeedsReload bool
	// OverlayBlocks is how many menu toggle clicks the overlay intercepts.
	OverlayBlocks int
	// MenuOpensPopup makes the submenu entry open the search surface in a new tab.
	MenuOpensPopup bool
	// NoVisibleEntry renders both submenu entries hidden.
	NoVisibleEntry bool
	// SearchingPolls is how many status reads return the transient message.
	SearchingPolls int
	// ModalAfterSearch shows a confirmation modal after every search.
	ModalAfterSearch bool

	mu        sync.Mutex
	records   map[string]Record
	tokens    map[string]bool
	tokenSeq  int
	storage   map[string]string
	lossQueue map[string][]PageState

	dialogOpens       int
	loginSubmissions  int
	hiddenEntryClicks int
	reloads           int
	searches          map[string]int
	saveClicks        map[string]int
}

// NewSite returns a catalogue that accepts username/password. Every ISBN
// is Missing until scripted otherwise, and each search shows the
// "searching" message once before its result.
func NewSite(cfg config.SiteConfig, username, password string) *Site {
	return &Site{
		Cfg:            cfg,
		Username:       username,
		Password:       password,
		SearchingPolls: 1,
		records:        make(map[string]Record),
		tokens:         make(map[string]bool),
		storage:        make(map[string]string),
		lossQueue:      make(map[string][]PageState),
		searches:       make(map[string]int),
		saveClicks:     make(map[string]int),
	}
}

// DefaultSiteConfig is the default site configuration pointed at a fake host.
func DefaultSiteConfig() config.SiteConfig {
	cfg := config.NewDefaultConfig().Site()
	cfg.BaseURL = "https://catalog.test"
	return cfg
}

// SetRecord scripts the answer for isbn.
func (s *Site) SetRecord(isbn string, r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[isbn] = r
}

func (s *Site) Record(isbn string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[isbn]
}

// LoseSessionOnSearch makes the next searches for isbn end in the given
// states instead of a status message, one per search, in order.
// PageLogin logs the user out, PageDenied lands on the access-denied page
// and PageLanding is an unexpected redirect.
func (s *Site) LoseSessionOnSearch(isbn string, states ...PageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lossQueue[isbn] = append(s.lossQueue[isbn], states...)
}

// ExpireSessions invalidates every issued session cookie.
func (s *Site) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

func (s *Site) DialogOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogOpens
}

func (s *Site) LoginSubmissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginSubmissions
}

func (s *Site) HiddenEntryClicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hiddenEntryClicks
}

func (s *Site) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

func (s *Site) Searches(isbn string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches[isbn]
}

func (s *Site) SaveClicks(isbn string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveClicks[isbn]
}

// TotalSaveClicks sums save clicks across every ISBN.
func (s *Site) TotalSaveClicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.saveClicks {
		n += c
	}
	return n
}

// URLs of the fake catalogue.
func (s *Site) LandingURL() string { return s.Cfg.LandingURL() }
func (s *Site) SearchURL() string  { return s.Cfg.SearchURL() }
func (s *Site) LoginURL() string   { return strings.TrimRight(s.Cfg.BaseURL, "/") + "/login" }
func (s *Site) DeniedURL() string  { return strings.TrimRight(s.Cfg.BaseURL, "/") + "/accessdenied" }

// issueToken must be called with s.mu held.
func (s *Site) issueToken() string {
	s.tokenSeq++
	tok := fmt.Sprintf("tok-%d", s.tokenSeq)
	s.tokens[tok] = true
	return tok
}

func (s *Site) validToken(tok string) bool {
	return tok != "" && s.tokens[tok]
}

// stateFor resolves which page a GET of rawURL lands on. Called with s.mu held.
func (s *Site) stateFor(rawURL string, authed, viaMenu bool) (PageState, string) {
	switch {
	case rawURL == s.SearchURL():
		switch {
		case !authed:
			return PageLogin, s.LoginURL()
		case viaMenu:
			return PageSearch, s.SearchURL()
		case s.DirectDenied:
			return PageDenied, s.DeniedURL()
		case s.DirectRedirects:
			return PageLanding, s.LandingURL()
		}
		return PageSearch, s.SearchURL()
	case rawURL == s.LoginURL():
		return PageLogin, rawURL
	case rawURL == s.DeniedURL():
		return PageDenied, rawURL
	case strings.HasPrefix(rawURL, s.Cfg.BaseURL):
		return PageLanding, rawURL
	}
	return PageBlank, rawURL
}
