// internal/engine/dynamic/session.go
package dynamic

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"github.com/law-makers/locscrape/internal/config"
	"github.com/law-makers/locscrape/internal/engine"
	"github.com/rs/zerolog/log"
)

// SessionOptions configures every page opened by a PageSession
type SessionOptions struct {
	ViewportWidth    int
	ViewportHeight   int
	UserAgent        string
	Headers          map[string]string
	Stealth          bool
	BlockedResources []string // CDP resource type names
	SetupTimeout     time.Duration
}

// TabOpener is implemented by browsers that can open a new tab
type TabOpener interface {
	NewTab() (context.Context, context.CancelFunc)
}

// PageSession opens configured pages on pooled browsers and closes them
type PageSession struct {
	opts    SessionOptions
	blocked map[network.ResourceType]bool
}

// NewPageSession creates a PageSession
func NewPageSession(opts SessionOptions) *PageSession {
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = config.DefaultViewportWidth, config.DefaultViewportHeight
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = config.DefaultPageSetupTimeout
	}

	blocked := make(map[network.ResourceType]bool, len(opts.BlockedResources))
	for _, rt := range opts.BlockedResources {
		blocked[network.ResourceType(rt)] = true
	}

	return &PageSession{opts: opts, blocked: blocked}
}

// Setup opens a tab on the handle's browser with the fixed viewport, user
// agent and request filtering applied.
func (s *PageSession) Setup(ctx context.Context, h *Handle) (engine.Page, error) {
	opener, ok := h.Browser().(TabOpener)
	if !ok {
		return nil, engine.NewEngineError(engine.ErrCodeSessionError,
			fmt.Sprintf("browser %s cannot open tabs", h.ID()), nil)
	}

	tabCtx, cancel := opener.NewTab()

	if len(s.blocked) > 0 {
		chromedp.ListenTarget(tabCtx, func(ev interface{}) {
			if ev, ok := ev.(*fetch.EventRequestPaused); ok {
				go s.handlePaused(tabCtx, ev)
			}
		})
	}

	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight), 1, false),
		emulation.SetUserAgentOverride(s.opts.UserAgent),
	}

	if len(s.opts.Headers) > 0 {
		headers := make(network.Headers, len(s.opts.Headers))
		for k, v := range s.opts.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}

	if s.opts.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}))
	}

	if len(s.blocked) > 0 {
		actions = append(actions, fetch.Enable())
	}

	// First Run on a tab creates the target; a deadline ctx here would
	// close the tab when it fires, so bound it from outside instead.
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx, actions...)
	}()

	timer := time.NewTimer(s.opts.SetupTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		lost := ctx.Err() == nil && tabCtx.Err() != nil
		cancel()
		if lost {
			return nil, crashError(h.ID(), err)
		}
		return nil, engine.NewEngineError(engine.ErrCodeSessionError, "page setup failed", err).
			WithDetail("browser_id", h.ID())
	}

	log.Debug().Str("browser_id", h.ID()).Msg("Page ready")

	return &ChromePage{ctx: tabCtx, cancel: cancel, browserID: h.ID()}, nil
}

func (s *PageSession) handlePaused(tabCtx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(tabCtx, c.Target)

	var err error
	if s.blocked[ev.ResourceType] {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && tabCtx.Err() == nil {
		log.Debug().Err(err).Str("resource_type", string(ev.ResourceType)).Msg("Request interception reply failed")
	}
}

// Teardown closes the page. Failures are logged, never returned.
func (s *PageSession) Teardown(p engine.Page) {
	if p == nil {
		return
	}
	closer, ok := p.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close page")
	}
}
