// Package search submits one identifier on the search surface and reduces
// the resulting page to one of the five canonical outcomes.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/browser"
	"github.com/xkilldash9x/catalog-cli/internal/config"
	"github.com/xkilldash9x/catalog-cli/internal/navigation"
)

// ErrSessionLost is returned when every retry of a search ended on a page
// other than the search surface.
var ErrSessionLost = errors.New("session lost during search")

// Navigator brings the active page back to the search surface.
type Navigator interface {
	Reach(ctx context.Context) (*navigation.Trace, error)
}

// Classifier runs the submit-and-classify protocol.
type Classifier struct {
	handle *browser.Handle
	nav    Navigator
	pages  *navigation.Classifier
	site   config.SiteConfig
	cfg    config.SearchConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewClassifier(h *browser.Handle, nav Navigator, pages *navigation.Classifier, cfg config.Interface, logger *zap.Logger) *Classifier {
	return &Classifier{
		handle: h,
		nav:    nav,
		pages:  pages,
		site:   cfg.Site(),
		cfg:    cfg.Search(),
		now:    time.Now,
		logger: logger.Named("search"),
	}
}

// SubmitAndClassify searches for isbn and returns its outcome. The error is
// non-nil exactly when the outcome is OutcomeError; it carries the kind of
// failure. A save click is never repeated: once it happens the outcome is
// Added or Error, and no navigation retry follows.
func (c *Classifier) SubmitAndClassify(ctx context.Context, isbn string) (schemas.Result, error) {
	logger := c.logger.With(zap.String("isbn", isbn))
	var lossErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		res, lost, err := c.once(ctx, isbn, logger)
		if !lost {
			return c.finish(res, err)
		}

		lossErr = err
		logger.Warn("Session lost during search; re-navigating.",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxRetries),
			zap.Error(err))
		if _, err := c.nav.Reach(ctx); err != nil {
			return c.finish(schemas.Result{ISBN: isbn}, err)
		}
	}

	err := schemas.NewError(schemas.KindSessionLoss, "submit and classify",
		fmt.Errorf("%w after %d attempts: %v", ErrSessionLost, c.cfg.MaxRetries, lossErr))
	return c.finish(schemas.Result{ISBN: isbn}, err)
}

func (c *Classifier) finish(res schemas.Result, err error) (schemas.Result, error) {
	res.At = c.now().UTC()
	if err != nil {
		res.Outcome = schemas.OutcomeError
		res.Message = err.Error()
		return res, err
	}
	return res, nil
}

// once runs a single submit-and-classify cycle. lost reports a session loss
// that happened before any save click; err then describes the landing.
func (c *Classifier) once(ctx context.Context, isbn string, logger *zap.Logger) (res schemas.Result, lost bool, err error) {
	sels := c.site.Selectors
	res.ISBN = isbn

	p, err := c.surface(ctx)
	if err != nil {
		return res, false, err
	}

	before, err := p.HTML(ctx, sels.StatusArea)
	if err != nil {
		return res, false, transport("read status", err)
	}
	if err := p.Fill(ctx, sels.SearchInput, isbn); err != nil {
		return res, false, transport("fill search input", err)
	}
	if err := p.Click(ctx, sels.SearchButton); err != nil {
		return res, false, transport("trigger search", err)
	}
	if err := p.WaitSettled(ctx, c.cfg.SettleDelay); err != nil {
		return res, false, transport("settle after search", err)
	}
	c.dismissModal(ctx, p)

	if readiness, err := c.pages.Classify(ctx, p); err != nil {
		return res, false, transport("classify page", err)
	} else if readiness != schemas.ReadinessReady {
		return res, true, fmt.Errorf("%w: landed on %s", ErrSessionLost, readiness)
	}

	text, err := c.awaitStatus(ctx, p, statusText(before))
	if err != nil {
		return res, false, transport("await status", err)
	}
	v := classifyText(text, c.site.Markers)
	logger.Debug("Search status read.", zap.String("status", text), zap.Stringer("verdict", v))

	switch v {
	case verdictNotFound:
		res.Outcome = schemas.OutcomeNotFound
		return res, false, nil
	case verdictFound:
		return c.record(ctx, p, res, logger)
	}

	// An empty or unrecognised status may just mean the page went away.
	if readiness, err := c.pages.Classify(ctx, p); err == nil && readiness != schemas.ReadinessReady {
		return res, true, fmt.Errorf("%w: landed on %s while awaiting status", ErrSessionLost, readiness)
	}
	res.Outcome = schemas.OutcomeUnknown
	res.Message = text
	if text == "" {
		res.Message = "empty status"
	}
	logger.Warn("Search status matched no known message.", zap.String("status", text))
	return res, false, nil
}

// surface returns the active page, re-navigating if the search input is gone.
func (c *Classifier) surface(ctx context.Context) (browser.Page, error) {
	p, err := c.handle.Page(ctx)
	if err != nil {
		return nil, transport("open page", err)
	}
	ok, err := p.Visible(ctx, c.site.Selectors.SearchInput)
	if err == nil && ok {
		return p, nil
	}
	c.logger.Info("Search input not present; re-navigating.")
	if _, err := c.nav.Reach(ctx); err != nil {
		return nil, err
	}
	return c.handle.Page(ctx)
}

// awaitStatus waits for a terminal status: non-empty, not the transient
// "searching" message, and either preceded by that message or different
// from what the area showed before the search. If none shows up in time it
// waits the grace delay and returns whatever is there.
func (c *Classifier) awaitStatus(ctx context.Context, p browser.Page, before string) (string, error) {
	sel := c.site.Selectors.StatusArea
	var (
		text      string
		transient bool
	)
	err := browser.Poll(ctx, c.cfg.StatusTimeout, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		c.dismissModal(ctx, p)
		html, err := p.HTML(ctx, sel)
		if err != nil {
			return false, err
		}
		text = statusText(html)
		switch {
		case text == "":
			return false, nil
		case classifyText(text, c.site.Markers) == verdictSearching:
			transient = true
			return false, nil
		}
		return transient || text != before, nil
	})
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, browser.ErrWaitTimeout) {
		return "", err
	}

	c.logger.Debug("No terminal status yet; waiting the grace delay.", zap.Duration("grace", c.cfg.GraceDelay))
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.cfg.GraceDelay):
	}
	html, err := p.HTML(ctx, sel)
	if err != nil {
		return "", err
	}
	return statusText(html), nil
}

// record inspects the save control and clicks it when enabled.
func (c *Classifier) record(ctx context.Context, p browser.Page, res schemas.Result, logger *zap.Logger) (schemas.Result, bool, error) {
	sels := c.site.Selectors
	state, err := p.ControlState(ctx, sels.SaveButton)
	if err != nil {
		return res, false, transport("inspect save control", err)
	}

	switch state {
	case browser.ControlAbsent:
		res.Outcome = schemas.OutcomeUnknown
		res.Message = "found but no save control"
		return res, false, nil
	case browser.ControlDisabled:
		res.Outcome = schemas.OutcomeAlreadyExists
		return res, false, nil
	}

	logger.Info("Saving resource.")
	if err := p.Click(ctx, sels.SaveButton); err != nil {
		// The click may or may not have reached the server; never repeat it.
		return res, false, transport("click save", err)
	}
	res.Outcome = schemas.OutcomeAdded

	if err := p.WaitVisible(ctx, sels.ModalConfirm, c.cfg.ModalTimeout); err == nil {
		c.dismissModal(ctx, p)
	}
	if err := p.WaitSettled(ctx, c.cfg.SettleDelay); err != nil {
		logger.Warn("Page did not settle after save.", zap.Error(err))
	}
	return res, false, nil
}

// dismissModal clicks the confirmation modal if one is showing. Best effort.
func (c *Classifier) dismissModal(ctx context.Context, p browser.Page) {
	sel := c.site.Selectors.ModalConfirm
	if sel == "" {
		return
	}
	if ok, err := p.Visible(ctx, sel); err != nil || !ok {
		return
	}
	if err := p.Click(ctx, sel); err != nil {
		c.logger.Debug("Could not dismiss modal.", zap.Error(err))
	}
}

func transport(op string, err error) error {
	var kinded *schemas.Error
	if errors.As(err, &kinded) {
		return err
	}
	return schemas.NewError(schemas.KindTransport, op, err)
}
