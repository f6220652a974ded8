// internal/engine/extract/extractor.go
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/ratelimit"
	"github.com/law-makers/locscrape/internal/reqctx"
	"github.com/law-makers/locscrape/pkg/models"
)

// Pipeline step names, used in logs and screenshot file names
const (
	StepNavigate    = "navigate"
	StepCheckEmpty  = "check_empty"
	StepWaitSection = "wait_section"
	StepExpand      = "expand"
	StepParse       = "parse"
)

const screenshotTimeout = 5 * time.Second

// Selectors locate the parts of a title's locations page
type Selectors struct {
	Section          string // locations list container
	Item             string // one card, matched inside Section
	ItemAddress      string // primary link text, inside Item
	ItemDescription  string // optional attribute text, inside Item
	SeeMore          string // pagination control
	NoResultsRegion  string // region searched for NoResultsPattern
	NoResultsPattern string // regexp
	NoContent        string // shape rendered for a title with zero locations
}

// Options configures the extractor
type Options struct {
	BaseURL           string
	URLTemplate       string // {base} and {id} are substituted
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	NoContentTimeout  time.Duration
	ExpandTimeout     time.Duration
	MaxExpansions     int
	Placeholders      []string
}

// Extractor turns a live page and an identifier into location records. It
// holds no per-task state.
type Extractor struct {
	sel       Selectors
	opts      Options
	noResults *regexp.Regexp
	items     string // Item scoped to Section
	limiter   ratelimit.RateLimiter
	shots     engine.ScreenshotSink
	now       func() time.Time
}

// New creates an Extractor. limiter and shots may be nil.
func New(sel Selectors, opts Options, limiter ratelimit.RateLimiter, shots engine.ScreenshotSink) (*Extractor, error) {
	if sel.Section == "" || sel.Item == "" || sel.ItemAddress == "" {
		return nil, fmt.Errorf("section, item and item address selectors are required")
	}
	if opts.URLTemplate == "" {
		opts.URLTemplate = "{base}/{id}/locations"
	}
	if opts.MaxExpansions < 0 {
		opts.MaxExpansions = 0
	}

	x := &Extractor{
		sel:     sel,
		opts:    opts,
		items:   scopeSelector(sel.Section, sel.Item),
		limiter: limiter,
		shots:   shots,
		now:     time.Now,
	}

	if sel.NoResultsPattern != "" {
		re, err := regexp.Compile(sel.NoResultsPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid no-results pattern: %w", err)
		}
		x.noResults = re
	}

	return x, nil
}

// URL returns the locations page URL for identifier
func (x *Extractor) URL(identifier string) string {
	base := strings.TrimRight(x.opts.BaseURL, "/")
	r := strings.NewReplacer("{base}", base, "{id}", identifier)
	return r.Replace(x.opts.URLTemplate)
}

// Process runs navigate, check-empty, wait-for-section, expand and parse
// against page. A title with no locations yields an empty, non-nil slice
// and no error.
func (x *Extractor) Process(ctx context.Context, page engine.Page, identifier string) ([]models.RawLocationRecord, error) {
	logger := reqctx.Logger(ctx)
	start := x.now()

	if err := x.navigate(ctx, page, identifier); err != nil {
		return nil, err
	}

	if x.hasNoResults(ctx, page) {
		logger.Debug().Str("step", StepCheckEmpty).Msg("No-results marker present")
		return []models.RawLocationRecord{}, nil
	}

	empty, err := x.waitForSection(ctx, page, identifier)
	if err != nil {
		return nil, err
	}
	if empty {
		logger.Debug().Str("step", StepWaitSection).Msg("No-content shape rendered")
		return []models.RawLocationRecord{}, nil
	}

	rounds, partial := x.expand(ctx, page)

	html, err := page.OuterHTML(ctx, x.sel.Section)
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeParseError, "read locations section", err).
			WithDetail("identifier", identifier)
	}

	records, err := ParseLocations(html, x.sel, x.opts.Placeholders)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int("records", len(records)).
		Int("expansions", rounds).
		Bool("partial", partial).
		Dur("duration", x.now().Sub(start)).
		Msg("Locations extracted")

	return records, nil
}

func (x *Extractor) navigate(ctx context.Context, page engine.Page, identifier string) error {
	url := x.URL(identifier)

	if x.limiter != nil {
		if err := x.limiter.Wait(ctx, url); err != nil {
			return engine.NewEngineError(engine.ErrCodeNavigationTimeout, "rate limiter wait", err)
		}
	}

	navCtx, cancel := withTimeout(ctx, x.opts.NavigationTimeout)
	defer cancel()

	err := page.Navigate(navCtx, url)
	if err == nil {
		return nil
	}

	code := engine.ErrCodeNavigationError
	if errors.Is(err, context.DeadlineExceeded) {
		code = engine.ErrCodeNavigationTimeout
	}
	x.capture(ctx, page, identifier, StepNavigate)
	return engine.NewEngineError(code, "load "+url, err).
		WithRetry().
		WithDetail("identifier", identifier)
}

// hasNoResults looks for the no-results text without waiting. Lookup
// errors are treated as "not present".
func (x *Extractor) hasNoResults(ctx context.Context, page engine.Page) bool {
	if x.noResults == nil || x.sel.NoResultsRegion == "" {
		return false
	}

	checkCtx, cancel := withTimeout(ctx, x.opts.NoContentTimeout)
	defer cancel()

	present, err := page.Exists(checkCtx, x.sel.NoResultsRegion)
	if err != nil || !present {
		return false
	}
	text, err := page.Text(checkCtx, x.sel.NoResultsRegion)
	if err != nil {
		reqctx.Logger(ctx).Debug().Err(err).Str("step", StepCheckEmpty).Msg("Could not read no-results region")
		return false
	}
	return x.noResults.MatchString(text)
}

// waitForSection waits for the locations section. If it never shows, a
// shorter wait for the no-content shape decides between Empty and failure.
func (x *Extractor) waitForSection(ctx context.Context, page engine.Page, identifier string) (empty bool, err error) {
	waitCtx, cancel := withTimeout(ctx, x.opts.SelectorTimeout)
	sectionErr := page.WaitVisible(waitCtx, x.sel.Section)
	cancel()
	if sectionErr == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, engine.NewEngineError(engine.ErrCodeSelectorTimeout, "wait for locations section", ctx.Err())
	}

	if x.sel.NoContent != "" {
		fbCtx, fbCancel := withTimeout(ctx, x.opts.NoContentTimeout)
		fbErr := page.WaitVisible(fbCtx, x.sel.NoContent)
		fbCancel()
		if fbErr == nil {
			return true, nil
		}
	}

	// The marker can render late, after the first check
	if x.hasNoResults(ctx, page) {
		return true, nil
	}

	code := engine.ErrCodeSelectorNotFound
	if errors.Is(sectionErr, context.DeadlineExceeded) {
		code = engine.ErrCodeSelectorTimeout
	}
	x.capture(ctx, page, identifier, StepWaitSection)
	return false, engine.NewEngineError(code, "locations section "+x.sel.Section, sectionErr).
		WithRetry().
		WithDetail("identifier", identifier)
}

// expand clicks the see-more control until it disappears, MaxExpansions is
// reached, or a round stops growing the list. It returns the number of
// rounds that grew the list and whether expansion ended early.
//
// A round that does not grow is ambiguous: the list may be complete with
// the control still rendered, or the click may have silently failed. Both
// are treated as partial and logged.
func (x *Extractor) expand(ctx context.Context, page engine.Page) (rounds int, partial bool) {
	if x.sel.SeeMore == "" || x.opts.MaxExpansions == 0 {
		return 0, false
	}
	logger := reqctx.Logger(ctx)

	for rounds < x.opts.MaxExpansions {
		present, err := page.Exists(ctx, x.sel.SeeMore)
		if err != nil || !present {
			return rounds, false
		}

		before, err := page.Count(ctx, x.items)
		if err != nil {
			logger.Warn().Err(err).Str("step", StepExpand).Msg("Could not count items, keeping partial list")
			return rounds, true
		}

		roundCtx, cancel := withTimeout(ctx, x.opts.ExpandTimeout)
		err = page.ScrollIntoView(roundCtx, x.sel.SeeMore)
		if err == nil {
			err = page.Click(roundCtx, x.sel.SeeMore)
		}
		if err == nil {
			err = page.WaitForCountAbove(roundCtx, x.items, before)
		}
		cancel()

		if err != nil {
			logger.Warn().
				Err(err).
				Str("step", StepExpand).
				Int("round", rounds+1).
				Int("items", before).
				Msg("Expansion stalled, keeping partial list")
			return rounds, true
		}
		rounds++
	}

	logger.Debug().Int("max_expansions", x.opts.MaxExpansions).Msg("Expansion round limit reached")
	return rounds, true
}

// capture saves a diagnostic screenshot. Best effort: it gets its own short
// deadline so it still runs when ctx already expired.
func (x *Extractor) capture(ctx context.Context, page engine.Page, identifier, step string) {
	if x.shots == nil {
		return
	}
	logger := reqctx.Logger(ctx)

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	png, err := page.Screenshot(shotCtx)
	if err != nil {
		logger.Debug().Err(err).Str("step", step).Msg("Diagnostic screenshot failed")
		return
	}
	path, err := x.shots.Save(identifier, step, png, x.now())
	if err != nil {
		logger.Debug().Err(err).Str("step", step).Msg("Could not store diagnostic screenshot")
		return
	}
	logger.Info().Str("step", step).Str("path", path).Msg("Diagnostic screenshot saved")
}

// scopeSelector returns a selector for item matched inside scope. Both may
// be selector lists.
func scopeSelector(scope, item string) string {
	var parts []string
	for _, s := range strings.Split(scope, ",") {
		for _, i := range strings.Split(item, ",") {
			parts = append(parts, strings.TrimSpace(s)+" "+strings.TrimSpace(i))
		}
	}
	return strings.Join(parts, ", ")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
