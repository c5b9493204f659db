// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const pollInterval = 200 * time.Millisecond

// Scripts take their arguments as JSON literals.
const (
	visibleIndexesJS = `(function(sel){
	const visible = (el) => {
		const s = window.getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const out = [];
	document.querySelectorAll(sel).forEach((el, i) => { if (visible(el)) out.push(i); });
	return out;
})(%s)`

	clickNthJS = `(function(sel, n){
	const el = document.querySelectorAll(sel)[n];
	if (!el) return 'missing';
	el.scrollIntoView({block: 'center', inline: 'center'});
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return 'hidden';
	const top = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
	if (top && top !== el && !el.contains(top) && !top.contains(el)) return 'blocked';
	el.click();
	return 'ok';
})(%s, %d)`

	existsJS = `document.querySelector(%s) !== null`

	innerHTMLJS = `(function(sel){
	const el = document.querySelector(sel);
	return el ? el.innerHTML : '';
})(%s)`

	controlStateJS = `(function(sel){
	const el = document.querySelector(sel);
	if (!el) return 'absent';
	if (el.disabled || el.getAttribute('aria-disabled') === 'true' || el.classList.contains('disabled')) return 'disabled';
	return 'enabled';
})(%s)`

	readyStateJS = `document.readyState`

	readStorageJS = `(function(){
	const out = {};
	for (let i = 0; i < window.localStorage.length; i++) {
		const k = window.localStorage.key(i);
		out[k] = window.localStorage.getItem(k);
	}
	return out;
})()`

	writeStorageJS = `(function(items){
	for (const k of Object.keys(items)) window.localStorage.setItem(k, items[k]);
	return true;
})(%s)`
)

type chromePage struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
	logger *zap.Logger

	actionTimeout time.Duration
	navTimeout    time.Duration
	// postLoadWait is the network quiet period awaited after every load.
	postLoadWait time.Duration

	inflight     atomic.Int64
	lastActivity atomic.Int64
}

var _ Page = (*chromePage)(nil)

func (p *chromePage) ID() string              { return string(p.id) }
func (p *chromePage) Closed() <-chan struct{} { return p.closed }

func (p *chromePage) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.inflight.Add(1)
	case *network.EventLoadingFinished, *network.EventLoadingFailed:
		if p.inflight.Add(-1) < 0 {
			p.inflight.Store(0)
		}
	case *page.EventJavascriptDialogOpening:
		// Handled by the listener AcceptDialogs installs; this only records it.
		p.logger.Debug("JavaScript dialog opened.", zap.String("page_id", p.ID()), zap.String("type", string(e.Type)))
		return
	default:
		return
	}
	p.lastActivity.Store(time.Now().UnixNano())
}

// run executes actions on this tab, bounded by ctx and timeout.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if IsClosed(p) {
		return ErrPageClosed
	}
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		opCtx, tcancel = context.WithTimeout(opCtx, timeout)
		defer tcancel()
	}

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if IsClosed(p) || p.ctx.Err() != nil {
		return ErrPageClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrWaitTimeout, err)
	}
	return err
}

func (p *chromePage) eval(ctx context.Context, script string, res interface{}) error {
	return p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, res))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating.", zap.String("page_id", p.ID()), zap.String("url", url))
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return p.afterLoad(ctx)
}

func (p *chromePage) Reload(ctx context.Context) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return p.afterLoad(ctx)
}

// afterLoad lets late scripts and XHRs finish before the page is read.
func (p *chromePage) afterLoad(ctx context.Context) error {
	if p.postLoadWait <= 0 {
		return nil
	}
	return p.WaitSettled(ctx, p.postLoadWait)
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Exists(ctx context.Context, sel string) (bool, error) {
	var ok bool
	err := p.eval(ctx, fmt.Sprintf(existsJS, quote(sel)), &ok)
	return ok, err
}

func (p *chromePage) Visible(ctx context.Context, sel string) (bool, error) {
	idx, err := p.VisibleIndexes(ctx, sel)
	return len(idx) > 0, err
}

func (p *chromePage) VisibleIndexes(ctx context.Context, sel string) ([]int, error) {
	var idx []int
	if err := p.eval(ctx, fmt.Sprintf(visibleIndexesJS, quote(sel)), &idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return Poll(ctx, timeout, pollInterval, func(ctx context.Context) (bool, error) {
		return p.Visible(ctx, sel)
	})
}

func (p *chromePage) Click(ctx context.Context, sel string) error {
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
			return fmt.Errorf("%w: %s", ErrNotFound, sel)
		}
		return fmt.Errorf("%w: %s", ErrNotVisible, sel)
	}
	return p.ClickNth(ctx, sel, idx[0])
}

func (p *chromePage) ClickNth(ctx context.Context, sel string, n int) error {
	var status string
	if err := p.eval(ctx, fmt.Sprintf(clickNthJS, quote(sel), n), &status); err != nil {
		return err
	}
	switch status {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s[%d]", ErrNotFound, sel, n)
	case "hidden":
		return fmt.Errorf("%w: %s[%d]", ErrNotVisible, sel, n)
	case "blocked":
		return fmt.Errorf("%w: %s[%d]", ErrClickBlocked, sel, n)
	default:
		return fmt.Errorf("unexpected click result %q for %s[%d]", status, sel, n)
	}
}

func (p *chromePage) Fill(ctx context.Context, sel, value string) error {
	return p.run(ctx, p.actionTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (p *chromePage) HTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := p.eval(ctx, fmt.Sprintf(innerHTMLJS, quote(sel)), &html)
	return html, err
}

func (p *chromePage) ControlState(ctx context.Context, sel string) (ControlState, error) {
	var state string
	if err := p.eval(ctx, fmt.Sprintf(controlStateJS, quote(sel)), &state); err != nil {
		return ControlAbsent, err
	}
	switch state {
	case "enabled":
		return ControlEnabled, nil
	case "disabled":
		return ControlDisabled, nil
	default:
		return ControlAbsent, nil
	}
}

// WaitSettled waits for document.readyState to reach "complete" and then for
// a period of quiet with no network activity. Neither wait runs past
// settleCeiling; a page that never goes quiet is treated as settled.
func (p *chromePage) WaitSettled(ctx context.Context, quiet time.Duration) error {
	err := Poll(ctx, settleCeiling, pollInterval, func(ctx context.Context) (bool, error) {
		var state string
		if err := p.eval(ctx, readyStateJS, &state); err != nil {
			return false, err
		}
		return state == "complete", nil
	})
	if err != nil {
		if errors.Is(err, ErrPageClosed) || ctx.Err() != nil {
			return err
		}
		p.logger.Debug("Ready state wait failed during settle.", zap.Error(err))
	}

	err = Poll(ctx, settleCeiling, pollInterval, func(context.Context) (bool, error) {
		idleFor := time.Since(time.Unix(0, p.lastActivity.Load()))
		return p.inflight.Load() == 0 && idleFor >= quiet, nil
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Debug("Network did not go idle during settle.", zap.Error(err))
		return nil
	}
	return err
}

func (p *chromePage) LocalStorage(ctx context.Context) (map[string]string, error) {
	items := map[string]string{}
	if err := p.eval(ctx, readStorageJS, &items); err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	return items, nil
}

func (p *chromePage) SetLocalStorage(ctx context.Context, items map[string]string) error {
	if len(items) == 0 {
		return nil
	}
	payload, err := json.MarshalToString(items)
	if err != nil {
		return err
	}
	var ok bool
	if err := p.eval(ctx, fmt.Sprintf(writeStorageJS, payload), &ok); err != nil {
		return fmt.Errorf("failed to write local storage: %w", err)
	}
	return nil
}

// AcceptDialogs installs a listener that accepts every JavaScript dialog
// this tab opens. Installing it twice accepts each dialog twice.
func (p *chromePage) AcceptDialogs(ctx context.Context) error {
	if IsClosed(p) {
		return ErrPageClosed
	}
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
			return
		}
		// Listener callbacks must not block the event loop.
		go func() {
			if err := p.run(context.Background(), p.actionTimeout, page.HandleJavaScriptDialog(true)); err != nil {
				p.logger.Debug("Failed to accept dialog.", zap.String("page_id", p.ID()), zap.Error(err))
			}
		}()
	})
	return nil
}

func quote(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		// Marshalling a string cannot fail.
		panic(err)
	}
	return out
}
