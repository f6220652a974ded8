// internal/engine/dynamic/page.go
package dynamic

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/law-makers/locscrape/internal/engine"
)

const countPollInterval = 250 * time.Millisecond

// ChromePage implements engine.Page on a chromedp tab
type ChromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	browserID string
	closeOnce sync.Once
}

// run executes actions on the tab, bounded by the caller's ctx. The tab
// ctx itself is never given a deadline since cancelling it closes the tab.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if dl, ok := ctx.Deadline(); ok {
		var cancelDl context.CancelFunc
		runCtx, cancelDl = context.WithDeadline(runCtx, dl)
		defer cancelDl()
	}

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case p.ctx.Err() != nil:
		// chromedp cancels the tab when the browser connection drops
		return crashError(p.browserID, err)
	}
	return err
}

func crashError(browserID string, cause error) error {
	return engine.NewEngineError(engine.ErrCodeBrowserCrash, "browser connection lost", nil).
		WithRetry().
		WithDetail("browser_id", browserID).
		WithDetail("cause", cause.Error())
}

// Navigate loads url and waits for the load event
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// Exists reports whether selector matches right now, without waiting
func (p *ChromePage) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := p.Count(ctx, selector)
	return n > 0, err
}

// Count returns the number of nodes matching selector, without waiting
func (p *ChromePage) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// Text returns the text content of the first match
func (p *ChromePage) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

// WaitVisible waits for selector to become visible
func (p *ChromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// ScrollIntoView scrolls the first match into the viewport
func (p *ChromePage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

// Click clicks the first visible match
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// WaitForCountAbove polls until more than n nodes match selector
func (p *ChromePage) WaitForCountAbove(ctx context.Context, selector string, n int) error {
	ticker := time.NewTicker(countPollInterval)
	defer ticker.Stop()

	for {
		count, err := p.Count(ctx, selector)
		if err != nil {
			return err
		}
		if count > n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// OuterHTML returns the outer HTML of the first match
func (p *ChromePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

// Screenshot captures the full page
func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// Close closes the tab
func (p *ChromePage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	return err
}
