// internal/engine/dynamic/launcher.go
package dynamic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/law-makers/locscrape/internal/config"
	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/proxy"
	"github.com/rs/zerolog/log"
)

// LauncherOptions configures how Chrome processes are started
type LauncherOptions struct {
	Headless      bool
	UserAgent     string
	ChromePath    string // empty means auto-detect
	LaunchTimeout time.Duration
	ExtraArgs     []chromedp.ExecAllocatorOption
}

// ChromeLauncher starts one Chrome process per Launch, rotating proxies
type ChromeLauncher struct {
	opts    LauncherOptions
	proxies *proxy.ProxyPool

	pathOnce   sync.Once
	chromePath string
}

// NewChromeLauncher creates a launcher. proxies may be nil.
func NewChromeLauncher(opts LauncherOptions, proxies *proxy.ProxyPool) *ChromeLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = config.DefaultLaunchTimeout
	}
	return &ChromeLauncher{opts: opts, proxies: proxies}
}

func (l *ChromeLauncher) execPath() string {
	l.pathOnce.Do(func() {
		l.chromePath = l.opts.ChromePath
		if l.chromePath == "" {
			l.chromePath = FindChrome()
		}
	})
	return l.chromePath
}

func (l *ChromeLauncher) allocatorOptions(proxyURL string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disk-cache-size", "0"),
		chromedp.UserAgent(l.opts.UserAgent),
	}

	if path := l.execPath(); path != "" {
		opts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(path)}, opts...)
	}

	if l.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	return append(opts, l.opts.ExtraArgs...)
}

// Launch starts a browser process and waits until it is ready
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	proxyURL := l.proxies.GetNext()

	// Process lifetime must not be tied to ctx: it outlives this call
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(proxyURL)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run starts the process. It must not get a deadline ctx or
	// the browser dies when the deadline fires, so bound it from outside.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(l.opts.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			cleanup()
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, engine.NewEngineError(engine.ErrCodeBrowserNotFound, "chrome executable not found", err).
					WithDetail("path", l.execPath())
			}
			l.proxies.MarkFailed(proxyURL)
			return nil, engine.NewEngineError(engine.ErrCodeLaunch, "failed to start chrome", err)
		}
	case <-timer.C:
		cleanup()
		l.proxies.MarkFailed(proxyURL)
		return nil, engine.NewEngineError(engine.ErrCodeLaunch,
			fmt.Sprintf("chrome did not start within %s", l.opts.LaunchTimeout), context.DeadlineExceeded)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}

	b := &ChromeBrowser{
		id:          uuid.NewString(),
		proxy:       proxyURL,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}

	log.Debug().
		Str("browser_id", b.id).
		Bool("proxied", proxyURL != "").
		Msg("Chrome launched")

	return b, nil
}

// Retired marks the proxy of a browser retired for errors or a lost
// connection as failed so the next launches avoid it.
func (l *ChromeLauncher) Retired(b Browser, reason string) {
	cb, ok := b.(*ChromeBrowser)
	if !ok || cb.proxy == "" {
		return
	}
	if reason == ReasonErrors || reason == ReasonDead {
		l.proxies.MarkFailed(cb.proxy)
	}
}

// Succeeded clears any cooldown on the proxy of a browser that just served
// a page, so a recovered proxy rejoins rotation early.
func (l *ChromeLauncher) Succeeded(b Browser) {
	if cb, ok := b.(*ChromeBrowser); ok && cb.proxy != "" {
		l.proxies.MarkHealthy(cb.proxy)
	}
}

// ChromeBrowser is one Chrome process driven through chromedp
type ChromeBrowser struct {
	id          string
	proxy       string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closed      atomic.Bool
}

// ID returns the browser id
func (b *ChromeBrowser) ID() string {
	return b.id
}

// Alive reports whether the CDP connection is still up
func (b *ChromeBrowser) Alive() bool {
	if b.closed.Load() {
		return false
	}
	select {
	case <-b.ctx.Done():
		return false
	default:
	}
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return false
	}
	select {
	case <-c.Browser.LostConnection:
		return false
	default:
		return true
	}
}

// NewTab opens a new tab context on this browser
func (b *ChromeBrowser) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(b.ctx)
}

// Close shuts the browser down. Safe to call more than once.
func (b *ChromeBrowser) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}
