package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/catalog-cli/internal/browser"
)

// Browser is a fake browser.Browser bound to one Site.
type Browser struct {
	site *Site

	// NewPageErr, when set, is returned by NewPage.
	NewPageErr error

	// The fields below are guarded by site.mu.
	jar    map[string]browser.Cookie
	pages  []*Page
	popups []*Page
	seq    int
}

var _ browser.Browser = (*Browser)(nil)

func NewBrowser(site *Site) *Browser {
	return &Browser{site: site, jar: make(map[string]browser.Cookie)}
}

func (b *Browser) Site() *Site { return b.site }

// Pages returns every tab ever opened, closed or not.
func (b *Browser) Pages() []*Page {
	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	return b.newPageLocked(PageBlank, "about:blank"), nil
}

func (b *Browser) newPageLocked(state PageState, url string) *Page {
	b.seq++
	p := &Page{
		id:     fmt.Sprintf("page-%d", b.seq),
		b:      b,
		closed: make(chan struct{}),
		state:  state,
		url:    url,
		fields: make(map[string]string),
	}
	b.pages = append(b.pages, p)
	return p
}

// WaitNewPage returns the first tab opened while trigger ran. The window is
// not waited out: the fake opens popups synchronously.
func (b *Browser) WaitNewPage(ctx context.Context, opener browser.Page, window time.Duration, trigger func(context.Context) error) (browser.Page, error) {
	b.site.mu.Lock()
	b.popups = nil
	b.site.mu.Unlock()

	if err := trigger(ctx); err != nil {
		return nil, err
	}

	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	if len(b.popups) == 0 {
		return nil, nil
	}
	p := b.popups[0]
	b.popups = nil
	return p, nil
}

func (b *Browser) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	out := make([]browser.Cookie, 0, len(b.jar))
	for _, c := range b.jar {
		out = append(out, c)
	}
	return out, nil
}

func (b *Browser) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	b.site.mu.Lock()
	defer b.site.mu.Unlock()
	for _, c := range cookies {
		b.jar[c.Name] = c
	}
	return nil
}

func (b *Browser) Close() error {
	for _, p := range b.Pages() {
		p.Close()
	}
	return nil
}

// authed must be called with site.mu held.
func (b *Browser) authed() bool {
	return b.site.validToken(b.jar[SessionCookie].Value)
}

// Page is a fake browser.Page.
type Page struct {
	id        string
	b         *Browser
	closed    chan struct{}
	closeOnce sync.Once

	// Guarded by site.mu.
	state          PageState
	url            string
	fields         map[string]string
	dialogOpen     bool
	dialogFields   bool
	menuOpen       bool
	modalOpen      bool
	searchISBN     string
	statusPolls    int
	dialogHandlers int
}

var _ browser.Page = (*Page)(nil)

func (p *Page) ID() string              { return p.id }
func (p *Page) Closed() <-chan struct{} { return p.closed }

// Close destroys the tab.
func (p *Page) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// DialogHandlers is how many times AcceptDialogs ran on this page.
func (p *Page) DialogHandlers() int {
	p.b.site.mu.Lock()
	defer p.b.site.mu.Unlock()
	return p.dialogHandlers
}

// State reports where the tab is.
func (p *Page) State() PageState {
	p.b.site.mu.Lock()
	defer p.b.site.mu.Unlock()
	return p.state
}

// lock checks the page is usable and takes site.mu.
func (p *Page) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if browser.IsClosed(p) {
		return browser.ErrPageClosed
	}
	p.b.site.mu.Lock()
	return nil
}

func (p *Page) unlock() { p.b.site.mu.Unlock() }

func (p *Page) load(url string, viaMenu bool) {
	p.state, p.url = p.b.site.stateFor(url, p.b.authed(), viaMenu)
	p.dialogOpen = false
	p.menuOpen = false
	p.modalOpen = false
	p.searchISBN = ""
	p.statusPolls = 0
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()
	p.load(url, false)
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()
	p.b.site.reloads++
	p.load(p.url, p.state == PageSearch)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.lock(ctx); err != nil {
		return "", err
	}
	defer p.unlock()
	return p.url, nil
}

// matches returns how many elements sel matches and which of them are
// visible. Called with site.mu held.
func (p *Page) matches(sel string) (int, []int) {
	s := p.b.site
	sels := s.Cfg.Selectors
	authed := p.b.authed()
	onSite := p.state == PageLanding || p.state == PageSearch || p.state == PageDenied || p.state == PageLogin
	one := func(cond bool) (int, []int) {
		if cond {
			return 1, []int{0}
		}
		return 0, nil
	}

	switch sel {
	case sels.LoginLink:
		return one(onSite && !authed)
	case sels.LogoutLink:
		return one(onSite && authed && p.state != PageLogin)
	case sels.UsernameField, sels.PasswordField, sels.LoginSubmit:
		return one(p.dialogOpen && p.dialogFields)
	case sels.DialogClose:
		return one(p.dialogOpen)
	case sels.MenuToggle:
		return one(authed && (p.state == PageLanding || p.state == PageSearch) && (!s.MenuNeedsReload || s.reloads > 0))
	case sels.Overlay:
		return one(authed && (p.state == PageLanding || p.state == PageSearch) && s.OverlayBlocks > 0)
	case sels.SubmenuEntry:
		if !p.menuOpen {
			return 0, nil
		}
		// Two elements share the entry's id; the first is a hidden duplicate.
		if s.NoVisibleEntry {
			return 2, nil
		}
		return 2, []int{1}
	case sels.SearchInput, sels.SearchButton, sels.StatusArea:
		return one(authed && p.state == PageSearch)
	case sels.SaveButton:
		r := s.records[p.searchISBN]
		return one(authed && p.state == PageSearch && p.terminal() && (r == Available || r == Cataloged))
	case sels.ModalConfirm:
		return one(p.modalOpen)
	case sels.PermissionDenied:
		return one(p.state == PageDenied)
	}
	return 0, nil
}

// terminal reports whether the status area shows a final message.
func (p *Page) terminal() bool {
	s := p.b.site
	return p.searchISBN != "" && s.records[p.searchISBN] != Silent && p.statusPolls >= s.SearchingPolls
}

func (p *Page) Exists(ctx context.Context, sel string) (bool, error) {
	if err := p.lock(ctx); err != nil {
		return false, err
	}
	defer p.unlock()
	n, _ := p.matches(sel)
	return n > 0, nil
}

func (p *Page) Visible(ctx context.Context, sel string) (bool, error) {
	idx, err := p.VisibleIndexes(ctx, sel)
	return len(idx) > 0, err
}

func (p *Page) VisibleIndexes(ctx context.Context, sel string) ([]int, error) {
	if err := p.lock(ctx); err != nil {
		return nil, err
	}
	defer p.unlock()
	_, vis := p.matches(sel)
	return vis, nil
}

// WaitVisible checks once; nothing in the fake changes on its own.
func (p *Page) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	ok, err := p.Visible(ctx, sel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w after %s: %s", browser.ErrWaitTimeout, timeout, sel)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	idx, err := p.VisibleIndexes(ctx, sel)
	if err != nil {
		return err
	}
	if len(idx) == 0 {
		ok, err := p.Exists(ctx, sel)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
		}
		return fmt.Errorf("%w: %s", browser.ErrNotVisible, sel)
	}
	return p.ClickNth(ctx, sel, idx[0])
}

func (p *Page) ClickNth(ctx context.Context, sel string, n int) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()

	s := p.b.site
	sels := s.Cfg.Selectors
	count, vis := p.matches(sel)
	if n < 0 || n >= count {
		return fmt.Errorf("%w: %s[%d]", browser.ErrNotFound, sel, n)
	}
	if !contains(vis, n) {
		if sel == sels.SubmenuEntry {
			s.hiddenEntryClicks++
		}
		return fmt.Errorf("%w: %s[%d]", browser.ErrNotVisible, sel, n)
	}

	switch sel {
	case sels.LoginLink:
		s.dialogOpens++
		p.dialogOpen = true
		p.dialogFields = s.dialogOpens > s.DialogFailures
	case sels.DialogClose:
		p.dialogOpen = false
	case sels.LoginSubmit:
		s.loginSubmissions++
		if p.fields[sels.UsernameField] == s.Username && p.fields[sels.PasswordField] == s.Password {
			p.b.jar[SessionCookie] = browser.Cookie{
				Name:   SessionCookie,
				Value:  s.issueToken(),
				Domain: "catalog.test",
				Path:   "/",
			}
			p.dialogOpen = false
			if p.state == PageLogin {
				p.load(s.LandingURL(), false)
			}
		}
	case sels.LogoutLink:
		delete(p.b.jar, SessionCookie)
	case sels.MenuToggle:
		if s.OverlayBlocks > 0 {
			return fmt.Errorf("%w: %s", browser.ErrClickBlocked, sel)
		}
		p.menuOpen = true
	case sels.Overlay:
		s.OverlayBlocks--
	case sels.SubmenuEntry:
		p.menuOpen = false
		if s.MenuOpensPopup {
			popup := p.b.newPageLocked(PageBlank, "about:blank")
			popup.load(s.SearchURL(), true)
			p.b.popups = append(p.b.popups, popup)
			return nil
		}
		p.load(s.SearchURL(), true)
	case sels.SearchButton:
		p.search(p.fields[sels.SearchInput])
	case sels.SaveButton:
		s.saveClicks[p.searchISBN]++
		if s.records[p.searchISBN] == Available {
			s.records[p.searchISBN] = Cataloged
			p.modalOpen = true
		}
	case sels.ModalConfirm:
		p.modalOpen = false
	}
	return nil
}

// search runs with site.mu held.
func (p *Page) search(isbn string) {
	s := p.b.site
	s.searches[isbn]++
	p.modalOpen = false

	if q := s.lossQueue[isbn]; len(q) > 0 {
		next := q[0]
		s.lossQueue[isbn] = q[1:]
		switch next {
		case PageLogin:
			delete(s.tokens, p.b.jar[SessionCookie].Value)
			p.state, p.url = PageLogin, s.LoginURL()
		case PageDenied:
			p.state, p.url = PageDenied, s.DeniedURL()
		default:
			p.state, p.url = PageLanding, s.LandingURL()
		}
		p.searchISBN = ""
		return
	}

	p.searchISBN = isbn
	p.statusPolls = 0
	p.modalOpen = s.ModalAfterSearch
}

func (p *Page) Fill(ctx context.Context, sel, value string) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()
	if _, vis := p.matches(sel); len(vis) == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotVisible, sel)
	}
	p.fields[sel] = value
	return nil
}

// HTML renders the status area; every other selector reads as empty.
func (p *Page) HTML(ctx context.Context, sel string) (string, error) {
	if err := p.lock(ctx); err != nil {
		return "", err
	}
	defer p.unlock()

	s := p.b.site
	if sel != s.Cfg.Selectors.StatusArea {
		return "", nil
	}
	if _, vis := p.matches(sel); len(vis) == 0 || p.searchISBN == "" {
		return "", nil
	}
	if !p.terminal() {
		p.statusPolls++
		return `<p class="info"><i class="spinner"></i> Searching...</p>`, nil
	}
	switch s.records[p.searchISBN] {
	case Missing:
		return fmt.Sprintf(`<div class="alert alert-warning">No matching resource found for <b>%s</b>.</div>`, p.searchISBN), nil
	case Garbled:
		return `<div class="alert alert-danger">Service temporarily unavailable</div>`, nil
	default:
		return `<div class="alert alert-success">Found matching resource: <b>A Title</b></div>`, nil
	}
}

func (p *Page) ControlState(ctx context.Context, sel string) (browser.ControlState, error) {
	if err := p.lock(ctx); err != nil {
		return browser.ControlAbsent, err
	}
	defer p.unlock()
	if n, _ := p.matches(sel); n == 0 {
		return browser.ControlAbsent, nil
	}
	if sel == p.b.site.Cfg.Selectors.SaveButton && p.b.site.records[p.searchISBN] == Cataloged {
		return browser.ControlDisabled, nil
	}
	return browser.ControlEnabled, nil
}

func (p *Page) WaitSettled(ctx context.Context, quiet time.Duration) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	p.unlock()
	return nil
}

func (p *Page) LocalStorage(ctx context.Context) (map[string]string, error) {
	if err := p.lock(ctx); err != nil {
		return nil, err
	}
	defer p.unlock()
	out := make(map[string]string, len(p.b.site.storage))
	for k, v := range p.b.site.storage {
		out[k] = v
	}
	return out, nil
}

func (p *Page) SetLocalStorage(ctx context.Context, items map[string]string) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()
	for k, v := range items {
		p.b.site.storage[k] = v
	}
	return nil
}

func (p *Page) AcceptDialogs(ctx context.Context) error {
	if err := p.lock(ctx); err != nil {
		return err
	}
	defer p.unlock()
	p.dialogHandlers++
	return nil
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
