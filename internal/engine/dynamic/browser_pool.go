// internal/engine/dynamic/browser_pool.go
package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/retry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Browser is one running browser process owned by the pool
type Browser interface {
	ID() string
	// Alive must not block
	Alive() bool
	Close() error
}

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Retirer is optionally implemented by a Launcher that wants to know when
// and why a browser it launched is being replaced.
type Retirer interface {
	Retired(b Browser, reason string)
}

// SuccessObserver is optionally implemented by a Launcher that wants to
// hear about browsers that just served a page successfully.
type SuccessObserver interface {
	Succeeded(b Browser)
}

// Retirement reasons
const (
	ReasonErrors = "error_threshold"
	ReasonDead   = "connection_lost"
	ReasonStale  = "max_age"
)

var errNoCapacity = errors.New("no browser capacity")

// PoolOptions configures the browser pool
type PoolOptions struct {
	MinSize          int
	MaxSize          int
	PagesPerBrowser  int
	RetrieveAttempts int
	RetrieveBackoff  time.Duration
	ErrorThreshold   int
	MaxAge           time.Duration // 0 disables staleness replacement
	FillAttempts     int           // launch attempts per slot in EnsureMinimumSize
	FillBackoff      time.Duration
	CloseConcurrency int
}

func (o *PoolOptions) normalize() {
	if o.MaxSize <= 0 {
		o.MaxSize = 3
	}
	if o.MinSize < 0 {
		o.MinSize = 0
	}
	if o.MinSize > o.MaxSize {
		o.MinSize = o.MaxSize
	}
	if o.PagesPerBrowser <= 0 {
		o.PagesPerBrowser = 1
	}
	if o.RetrieveAttempts <= 0 {
		o.RetrieveAttempts = 1
	}
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = 3
	}
	if o.FillAttempts <= 0 {
		o.FillAttempts = 1
	}
	if o.CloseConcurrency <= 0 {
		o.CloseConcurrency = 4
	}
}

type entry struct {
	browser     Browser
	available   bool
	activePages int
	errorCount  int
	lastUsedAt  time.Time
	createdAt   time.Time
	retiring    bool // no new pages; replaced once activePages drops to zero
	replacing   bool // close-then-relaunch in flight
	retireWhy   string
}

// Handle is a checked-out page slot on one pooled browser
type Handle struct {
	entry   *entry
	browser Browser
}

// ID returns the id of the browser behind the handle
func (h *Handle) ID() string {
	if h == nil || h.browser == nil {
		return ""
	}
	return h.browser.ID()
}

// Browser returns the browser behind the handle. The pool keeps ownership:
// callers must not close it.
func (h *Handle) Browser() Browser {
	return h.browser
}

// BrowserPool owns every browser process. All entry bookkeeping happens
// under mu; process launch and close happen outside it.
type BrowserPool struct {
	opts     PoolOptions
	launcher Launcher
	now      func() time.Time

	mu         sync.Mutex
	entries    []*entry
	launching  int
	generation int
	rebuilding bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBrowserPool creates an empty pool. Call EnsureMinimumSize to warm it.
func NewBrowserPool(launcher Launcher, opts PoolOptions) *BrowserPool {
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())

	log.Debug().
		Int("min_size", opts.MinSize).
		Int("max_size", opts.MaxSize).
		Int("pages_per_browser", opts.PagesPerBrowser).
		Msg("Creating browser pool")

	return &BrowserPool{
		opts:     opts,
		launcher: launcher,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// EnsureMinimumSize prunes dead browsers and starts launching enough new
// ones to reach n in the background. It never waits for a launch.
func (bp *BrowserPool) EnsureMinimumSize(ctx context.Context, n int) {
	if n > bp.opts.MaxSize {
		n = bp.opts.MaxSize
	}

	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return
	}

	var dead []Browser
	kept := bp.entries[:0]
	for _, e := range bp.entries {
		if !e.replacing && !e.browser.Alive() {
			dead = append(dead, e.browser)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(bp.entries); i++ {
		bp.entries[i] = nil
	}
	bp.entries = kept

	deficit := n - len(bp.entries) - bp.launching
	if deficit < 0 {
		deficit = 0
	}
	bp.launching += deficit
	gen := bp.generation
	bp.mu.Unlock()

	for _, b := range dead {
		log.Warn().Str("browser_id", b.ID()).Msg("Pruning dead browser")
		bp.notifyRetired(b, ReasonDead)
		bp.closeBrowser(b)
	}

	if deficit == 0 {
		return
	}

	log.Debug().Int("deficit", deficit).Int("target", n).Msg("Filling browser pool")

	for i := 0; i < deficit; i++ {
		bp.wg.Add(1)
		go bp.fillSlot(gen)
	}
}

func (bp *BrowserPool) fillSlot(gen int) {
	defer bp.wg.Done()

	b, err := retry.Do(bp.ctx, bp.launchConfig("browser launch"), bp.launcher.Launch)

	bp.mu.Lock()
	bp.launching--
	if err != nil {
		bp.mu.Unlock()
		log.Warn().Err(err).Msg("Failed to launch browser, will retry on next fill")
		return
	}
	if bp.closed || gen != bp.generation || len(bp.entries) >= bp.opts.MaxSize {
		bp.mu.Unlock()
		bp.closeBrowser(b)
		return
	}
	bp.entries = append(bp.entries, bp.newEntry(b))
	size := len(bp.entries)
	bp.mu.Unlock()

	log.Debug().Str("browser_id", b.ID()).Int("pool_size", size).Msg("Browser added to pool")
}

// launchConfig retries background launches, except when there is no
// browser executable to launch at all
func (bp *BrowserPool) launchConfig(name string) retry.Config {
	return retry.Config{
		Name:        name,
		MaxAttempts: bp.opts.FillAttempts,
		Backoff:     retry.Constant(bp.opts.FillBackoff),
		Retryable: func(err error) bool {
			return !errors.Is(err, engine.ErrBrowserNotFound)
		},
	}
}

// Acquire checks out a page slot on the least loaded healthy browser.
//
// When the pool is saturated it waits and retries; once those attempts are
// spent the whole pool is rebuilt once and the wait repeats. If that fails
// too the error matches engine.ErrPoolExhausted.
func (bp *BrowserPool) Acquire(ctx context.Context) (*Handle, error) {
	bp.mu.Lock()
	gen := bp.generation
	bp.mu.Unlock()

	h, err := bp.acquireWithRetry(ctx)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, errNoCapacity) {
		return nil, err
	}

	log.Warn().
		Int("attempts", bp.opts.RetrieveAttempts).
		Msg("No browser available, rebuilding pool")

	if err := bp.rebuild(ctx, gen); err != nil {
		return nil, err
	}

	h, err = bp.acquireWithRetry(ctx)
	if err == nil {
		return h, nil
	}
	if errors.Is(err, errNoCapacity) {
		return nil, engine.NewEngineError(engine.ErrCodePoolExhausted, "no browser available after pool rebuild", err)
	}
	return nil, err
}

func (bp *BrowserPool) acquireWithRetry(ctx context.Context) (*Handle, error) {
	cfg := retry.Config{
		Name:        "browser acquire",
		MaxAttempts: bp.opts.RetrieveAttempts,
		Backoff:     retry.Constant(bp.opts.RetrieveBackoff),
		Retryable: func(err error) bool {
			return errors.Is(err, errNoCapacity)
		},
	}
	return retry.Do(ctx, cfg, bp.tryAcquire)
}

func (bp *BrowserPool) tryAcquire(ctx context.Context) (*Handle, error) {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil, engine.ErrPoolClosed
	}

	if e := bp.pickLocked(); e != nil {
		h := bp.checkoutLocked(e)
		bp.mu.Unlock()
		return h, nil
	}

	if len(bp.entries)+bp.launching >= bp.opts.MaxSize {
		bp.mu.Unlock()
		return nil, errNoCapacity
	}

	bp.launching++
	gen := bp.generation
	bp.mu.Unlock()

	b, err := bp.launcher.Launch(ctx)

	bp.mu.Lock()
	bp.launching--
	if err != nil {
		bp.mu.Unlock()
		log.Warn().Err(err).Msg("On-demand browser launch failed")
		return nil, fmt.Errorf("%w: %v", errNoCapacity, err)
	}
	if bp.closed {
		bp.mu.Unlock()
		bp.closeBrowser(b)
		return nil, engine.ErrPoolClosed
	}
	if gen != bp.generation && len(bp.entries) >= bp.opts.MaxSize {
		bp.mu.Unlock()
		bp.closeBrowser(b)
		return nil, errNoCapacity
	}
	e := bp.newEntry(b)
	bp.entries = append(bp.entries, e)
	h := bp.checkoutLocked(e)
	size := len(bp.entries)
	bp.mu.Unlock()

	log.Debug().Str("browser_id", b.ID()).Int("pool_size", size).Msg("Pool grew on demand")
	return h, nil
}

// pickLocked returns the healthy entry with the fewest active pages, oldest
// lastUsedAt first on ties. Dead idle entries are queued for replacement.
func (bp *BrowserPool) pickLocked() *entry {
	var best *entry
	for _, e := range bp.entries {
		if !e.available || e.retiring || e.replacing {
			continue
		}
		if e.errorCount >= bp.opts.ErrorThreshold || e.activePages >= bp.opts.PagesPerBrowser {
			continue
		}
		if !e.browser.Alive() {
			bp.retireLocked(e, ReasonDead)
			continue
		}
		if best == nil ||
			e.activePages < best.activePages ||
			(e.activePages == best.activePages && e.lastUsedAt.Before(best.lastUsedAt)) {
			best = e
		}
	}
	return best
}

func (bp *BrowserPool) checkoutLocked(e *entry) *Handle {
	e.activePages++
	e.lastUsedAt = bp.now()
	if e.activePages >= bp.opts.PagesPerBrowser {
		e.available = false
	}
	return &Handle{entry: e, browser: e.browser}
}

func (bp *BrowserPool) newEntry(b Browser) *entry {
	now := bp.now()
	return &entry{
		browser:    b,
		available:  true,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// Release returns a page slot. A browser over its error threshold, with a
// lost connection, or past its max age is replaced in the background once
// its last page is released.
func (bp *BrowserPool) Release(h *Handle) {
	if h == nil {
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	e := h.entry
	if e.activePages > 0 {
		e.activePages--
	}
	e.lastUsedAt = bp.now()
	if bp.closed {
		return
	}

	if !e.retiring {
		switch {
		case e.errorCount >= bp.opts.ErrorThreshold:
			bp.retireLocked(e, ReasonErrors)
		case !e.browser.Alive():
			bp.retireLocked(e, ReasonDead)
		case bp.opts.MaxAge > 0 && bp.now().Sub(e.createdAt) > bp.opts.MaxAge:
			bp.retireLocked(e, ReasonStale)
		default:
			e.available = true
		}
	}

	if e.retiring && e.activePages == 0 && !e.replacing {
		bp.startReplaceLocked(e)
	}
}

func (bp *BrowserPool) retireLocked(e *entry, reason string) {
	if e.retiring {
		return
	}
	e.retiring = true
	e.available = false
	e.retireWhy = reason

	log.Info().
		Str("browser_id", e.browser.ID()).
		Str("reason", reason).
		Int("error_count", e.errorCount).
		Msg("Browser scheduled for replacement")

	if e.activePages == 0 {
		bp.startReplaceLocked(e)
	}
}

func (bp *BrowserPool) startReplaceLocked(e *entry) {
	if bp.indexLocked(e) < 0 {
		return
	}
	e.replacing = true
	bp.wg.Add(1)
	go bp.replace(e)
}

// replace closes the old browser and launches a new one into the same slot
func (bp *BrowserPool) replace(old *entry) {
	defer bp.wg.Done()

	bp.notifyRetired(old.browser, old.retireWhy)
	bp.closeBrowser(old.browser)

	b, err := retry.Do(bp.ctx, bp.launchConfig("browser relaunch"), bp.launcher.Launch)

	bp.mu.Lock()
	idx := bp.indexLocked(old)
	switch {
	case idx < 0 || bp.closed:
		// Slot vanished (rebuild or shutdown) while we were launching
		bp.mu.Unlock()
		if b != nil {
			bp.closeBrowser(b)
		}
		return
	case err != nil:
		bp.entries = append(bp.entries[:idx], bp.entries[idx+1:]...)
		bp.mu.Unlock()
		log.Warn().Err(err).Str("old_browser_id", old.browser.ID()).Msg("Relaunch failed, slot dropped")
		return
	}
	bp.entries[idx] = bp.newEntry(b)
	bp.mu.Unlock()

	log.Info().
		Str("old_browser_id", old.browser.ID()).
		Str("browser_id", b.ID()).
		Msg("Browser replaced")
}

// rebuild tears down every browser and relaunches MinSize (at least one).
// gen is the generation the caller observed; if another caller already
// rebuilt since then this is a no-op.
func (bp *BrowserPool) rebuild(ctx context.Context, gen int) error {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return engine.ErrPoolClosed
	}
	if gen != bp.generation || bp.rebuilding {
		bp.mu.Unlock()
		return nil
	}
	bp.generation++
	bp.rebuilding = true
	gen = bp.generation
	old := bp.entries
	bp.entries = nil

	target := bp.opts.MinSize
	if target < 1 {
		target = 1
	}
	bp.launching += target
	bp.mu.Unlock()

	log.Warn().Int("closing", len(old)).Int("relaunching", target).Msg("Rebuilding browser pool")

	defer func() {
		bp.mu.Lock()
		bp.rebuilding = false
		bp.mu.Unlock()
	}()

	bp.closeAll(entryBrowsers(old))

	var g errgroup.Group
	for i := 0; i < target; i++ {
		g.Go(func() error {
			b, err := bp.launcher.Launch(ctx)

			bp.mu.Lock()
			bp.launching--
			if err != nil {
				bp.mu.Unlock()
				log.Warn().Err(err).Msg("Browser launch during rebuild failed")
				return nil
			}
			// an on-demand launch may have filled the slot meanwhile
			if bp.closed || gen != bp.generation || len(bp.entries) >= bp.opts.MaxSize {
				bp.mu.Unlock()
				bp.closeBrowser(b)
				return nil
			}
			bp.entries = append(bp.entries, bp.newEntry(b))
			bp.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// RecordError counts a failure attributable to the browser behind h
func (bp *BrowserPool) RecordError(h *Handle) {
	if h == nil {
		return
	}
	bp.mu.Lock()
	h.entry.errorCount++
	bp.mu.Unlock()
}

// RecordSuccess resets the consecutive error count of the browser behind h
func (bp *BrowserPool) RecordSuccess(h *Handle) {
	if h == nil {
		return
	}
	bp.mu.Lock()
	h.entry.errorCount = 0
	bp.mu.Unlock()

	if o, ok := bp.launcher.(SuccessObserver); ok {
		o.Succeeded(h.browser)
	}
}

// Shutdown closes every browser. Individual close failures are logged and
// joined into the returned error; they never stop the remaining closes.
func (bp *BrowserPool) Shutdown(ctx context.Context) error {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil
	}
	bp.closed = true
	browsers := entryBrowsers(bp.entries)
	bp.entries = nil
	bp.mu.Unlock()

	bp.cancel()

	log.Debug().Int("browsers", len(browsers)).Msg("Closing browser pool")

	err := bp.closeAll(browsers)

	// Background launches close their own browser once they see closed
	done := make(chan struct{})
	go func() {
		bp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for background browser work")
	}

	log.Info().Msg("Browser pool closed")
	return err
}

func (bp *BrowserPool) closeAll(browsers []Browser) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(bp.opts.CloseConcurrency)
	for _, b := range browsers {
		g.Go(func() error {
			if err := bp.closeBrowser(b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (bp *BrowserPool) closeBrowser(b Browser) error {
	if err := b.Close(); err != nil {
		log.Warn().Err(err).Str("browser_id", b.ID()).Msg("Failed to close browser")
		return fmt.Errorf("close browser %s: %w", b.ID(), err)
	}
	log.Debug().Str("browser_id", b.ID()).Msg("Browser closed")
	return nil
}

func (bp *BrowserPool) notifyRetired(b Browser, reason string) {
	if r, ok := bp.launcher.(Retirer); ok {
		r.Retired(b, reason)
	}
}

func (bp *BrowserPool) indexLocked(e *entry) int {
	for i, cur := range bp.entries {
		if cur == e {
			return i
		}
	}
	return -1
}

// entryBrowsers skips entries mid-replacement; their replace goroutine owns
// closing the old browser.
func entryBrowsers(entries []*entry) []Browser {
	out := make([]Browser, 0, len(entries))
	for _, e := range entries {
		if e.replacing {
			continue
		}
		out = append(out, e.browser)
	}
	return out
}

// EntryStats describes one pooled browser
type EntryStats struct {
	ID          string
	ActivePages int
	ErrorCount  int
	Available   bool
	Replacing   bool
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

// PoolStats is a point-in-time snapshot of the pool
type PoolStats struct {
	Size        int
	Launching   int
	ActivePages int
	Generation  int
	Closed      bool
	Entries     []EntryStats
}

// Stats returns a snapshot of the pool for logging and tests
func (bp *BrowserPool) Stats() PoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	s := PoolStats{
		Size:       len(bp.entries),
		Launching:  bp.launching,
		Generation: bp.generation,
		Closed:     bp.closed,
		Entries:    make([]EntryStats, 0, len(bp.entries)),
	}
	for _, e := range bp.entries {
		s.ActivePages += e.activePages
		s.Entries = append(s.Entries, EntryStats{
			ID:          e.browser.ID(),
			ActivePages: e.activePages,
			ErrorCount:  e.errorCount,
			Available:   e.available && !e.retiring,
			Replacing:   e.retiring || e.replacing,
			LastUsedAt:  e.lastUsedAt,
			CreatedAt:   e.createdAt,
		})
	}
	return s
}
