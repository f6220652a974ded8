// internal/engine/batch/scraper.go
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/engine/dynamic"
	"github.com/law-makers/locscrape/internal/reqctx"
	"github.com/law-makers/locscrape/internal/retry"
	"github.com/law-makers/locscrape/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Pass names
const (
	PassFirst  = "first"
	PassSecond = "second"
)

// Pool is the part of the browser pool the orchestrator uses
type Pool interface {
	Acquire(ctx context.Context) (*dynamic.Handle, error)
	Release(h *dynamic.Handle)
	RecordError(h *dynamic.Handle)
	RecordSuccess(h *dynamic.Handle)
}

// Sessions opens and closes configured pages
type Sessions interface {
	Setup(ctx context.Context, h *dynamic.Handle) (engine.Page, error)
	Teardown(p engine.Page)
}

// Extractor reads location records off a page
type Extractor interface {
	Process(ctx context.Context, page engine.Page, identifier string) ([]models.RawLocationRecord, error)
}

// Options configures batching and retries
type Options struct {
	ChunkSize             int
	ConcurrentPages       int // chunks per wave
	WaveDelay             time.Duration
	MaxRetries            int // retries after the first attempt
	RetryDelay            time.Duration
	SecondPassChunkSize   int
	SecondPassConcurrency int
	SecondPassDelay       time.Duration
	TaskTimeout           time.Duration // per attempt; 0 means unbounded
}

// ProgressEvent reports one finished identifier
type ProgressEvent struct {
	Pass       string
	Identifier string
	Succeeded  bool
	Done       int
	Total      int
}

// Orchestrator runs identifiers through acquire, setup, extract, teardown
// and release, with per-identifier retries and a second pass for whatever
// is still missing. It owns every ScrapeTask state transition.
type Orchestrator struct {
	pool       Pool
	sessions   Sessions
	extractor  Extractor
	opts       Options
	onProgress func(ProgressEvent)
}

// New creates an Orchestrator
func New(pool Pool, sessions Sessions, extractor Extractor, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	if opts.ConcurrentPages <= 0 {
		opts.ConcurrentPages = OptimalConcurrency(1, 1)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.SecondPassChunkSize <= 0 {
		opts.SecondPassChunkSize = max(1, opts.ChunkSize/2)
	}
	if opts.SecondPassConcurrency <= 0 {
		opts.SecondPassConcurrency = 1
	}
	return &Orchestrator{
		pool:      pool,
		sessions:  sessions,
		extractor: extractor,
		opts:      opts,
	}
}

// OnProgress registers a callback invoked after each identifier finishes a
// pass. It may be called from several goroutines at once.
func (o *Orchestrator) OnProgress(fn func(ProgressEvent)) {
	o.onProgress = fn
}

// ScrapeOne scrapes a single identifier with the same retry policy as a
// batch. Every failure is reported on the returned task; the only error
// returned is pool exhaustion.
func (o *Orchestrator) ScrapeOne(ctx context.Context, identifier string) (*models.ScrapeTask, error) {
	task := models.NewScrapeTask(identifier)
	if err := CheckIdentifier(identifier); err != nil {
		task.Status = models.StatusFailed
		task.LastError = err
		return task, nil
	}
	if err := o.runTask(ctx, task); errors.Is(err, engine.ErrPoolExhausted) {
		return task, err
	}
	return task, nil
}

// ScrapeBatch scrapes identifiers in chunked waves, then gives everything
// still missing one more pass with smaller chunks. It never fails: the
// result accounts for every distinct input identifier exactly once, with
// unusable identifiers reported as failures without being scraped.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, identifiers []string) *models.BatchResult {
	ids := Dedupe(identifiers)
	result := models.NewBatchResult()
	start := time.Now()

	var mu sync.Mutex
	lastErr := make(map[string]error, len(ids))

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := CheckIdentifier(id); err != nil {
			log.Warn().Str("identifier", id).Err(err).Msg("Skipping identifier")
			lastErr[id] = err
			continue
		}
		valid = append(valid, id)
	}

	collect := func(task *models.ScrapeTask) {
		mu.Lock()
		defer mu.Unlock()
		if task.Status == models.StatusSucceeded {
			result.Locations[task.Identifier] = task.Records
			delete(lastErr, task.Identifier)
			return
		}
		lastErr[task.Identifier] = task.LastError
	}

	log.Info().
		Int("identifiers", len(valid)).
		Int("skipped", len(ids)-len(valid)).
		Int("chunk_size", o.opts.ChunkSize).
		Int("concurrent_pages", o.opts.ConcurrentPages).
		Msg("Starting batch scrape")

	o.runPass(ctx, PassFirst, valid, o.opts.ChunkSize, o.opts.ConcurrentPages, o.opts.WaveDelay, collect)

	missing := o.missing(valid, result, &mu)
	if len(missing) > 0 && ctx.Err() == nil {
		log.Info().
			Int("missing", len(missing)).
			Int("chunk_size", o.opts.SecondPassChunkSize).
			Msg("Starting second pass")
		o.runPass(ctx, PassSecond, missing, o.opts.SecondPassChunkSize, o.opts.SecondPassConcurrency, o.opts.SecondPassDelay, collect)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if _, ok := result.Locations[id]; ok {
			continue
		}
		result.Failed = append(result.Failed, id)
		result.Errors[id] = failureReason(lastErr[id], ctx.Err())
	}

	log.Info().
		Int("succeeded", len(result.Locations)).
		Int("failed", len(result.Failed)).
		Int("records", result.RecordCount()).
		Dur("duration", time.Since(start)).
		Msg("Batch scrape finished")

	return result
}

func (o *Orchestrator) missing(ids []string, result *models.BatchResult, mu *sync.Mutex) []string {
	mu.Lock()
	defer mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := result.Locations[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func failureReason(err, ctxErr error) string {
	switch {
	case err != nil:
		return err.Error()
	case ctxErr != nil:
		return fmt.Sprintf("not processed: %v", ctxErr)
	default:
		return "not processed"
	}
}

// runPass processes ids in waves of up to parallel chunks, sleeping delay
// between waves. Identifiers inside a chunk run one after another.
func (o *Orchestrator) runPass(ctx context.Context, pass string, ids []string, chunkSize, parallel int, delay time.Duration, collect func(*models.ScrapeTask)) {
	chunks := Chunk(ids, chunkSize)
	total := len(ids)

	var (
		doneMu sync.Mutex
		done   int
	)
	finish := func(task *models.ScrapeTask) {
		collect(task)
		doneMu.Lock()
		done++
		n := done
		doneMu.Unlock()
		if o.onProgress != nil {
			o.onProgress(ProgressEvent{
				Pass:       pass,
				Identifier: task.Identifier,
				Succeeded:  task.Status == models.StatusSucceeded,
				Done:       n,
				Total:      total,
			})
		}
	}

	for wave := 0; wave*parallel < len(chunks); wave++ {
		if wave > 0 {
			if err := retry.Sleep(ctx, delay); err != nil {
				log.Warn().Err(err).Str("pass", pass).Msg("Batch cancelled between waves")
				return
			}
		}

		lo := wave * parallel
		hi := min(lo+parallel, len(chunks))

		log.Debug().
			Str("pass", pass).
			Int("wave", wave+1).
			Int("chunks", hi-lo).
			Msg("Running wave")

		var g errgroup.Group
		for _, chunk := range chunks[lo:hi] {
			g.Go(func() error {
				o.runChunk(ctx, chunk, finish)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (o *Orchestrator) runChunk(ctx context.Context, chunk []string, finish func(*models.ScrapeTask)) {
	for _, id := range chunk {
		task := models.NewScrapeTask(id)
		if err := ctx.Err(); err != nil {
			task.Status = models.StatusFailed
			task.LastError = err
			finish(task)
			continue
		}
		_ = o.runTask(ctx, task)
		finish(task)
	}
}

// runTask drives one identifier to Succeeded or Failed, retrying with a
// linearly growing delay. Pool exhaustion is not retried here.
func (o *Orchestrator) runTask(ctx context.Context, task *models.ScrapeTask) error {
	task.Status = models.StatusInProgress

	attempt := 0
	attemptCtx := ctx
	cfg := retry.Config{
		Name:        "scrape " + task.Identifier,
		MaxAttempts: o.opts.MaxRetries + 1,
		Backoff:     retry.Linear(o.opts.RetryDelay),
		Retryable:   engine.IsRetryable,
		OnRetry: func(n int, err error, wait time.Duration) {
			task.RetryCount = n
			log.Debug().
				Str("identifier", task.Identifier).
				Int("retry", n).
				Dur("wait", wait).
				Err(err).
				Msg("Retrying identifier")
		},
	}

	records, err := retry.Do(ctx, cfg, func(ctx context.Context) ([]models.RawLocationRecord, error) {
		attempt++
		attemptCtx = reqctx.WithTask(ctx, task.Identifier, attempt)
		return o.attempt(attemptCtx, task.Identifier)
	})
	if err != nil {
		// the task id ties the reported reason to the attempt's log lines
		err = reqctx.NewTaskError(attemptCtx, err)
		task.Status = models.StatusFailed
		task.LastError = err
		log.Warn().
			Str("identifier", task.Identifier).
			Int("attempts", attempt).
			Str("code", string(engine.CodeOf(err))).
			Err(err).
			Msg("Identifier failed")
		return err
	}

	task.Status = models.StatusSucceeded
	task.Records = records
	return nil
}

// attempt is one acquire, setup, extract, teardown, release cycle. The page
// is always torn down before its browser is released.
func (o *Orchestrator) attempt(ctx context.Context, identifier string) (records []models.RawLocationRecord, err error) {
	logger := reqctx.Logger(ctx)

	if o.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TaskTimeout)
		defer cancel()
	}

	h, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var page engine.Page
	defer func() {
		if page != nil {
			o.sessions.Teardown(page)
		}
		o.pool.Release(h)
	}()

	page, err = o.sessions.Setup(ctx, h)
	if err != nil {
		o.pool.RecordError(h)
		return nil, err
	}

	records, err = o.extractor.Process(ctx, page, identifier)
	if err != nil {
		if engine.IsBrowserFault(err) {
			o.pool.RecordError(h)
		}
		return nil, err
	}

	o.pool.RecordSuccess(h)
	logger.Debug().Str("browser_id", h.ID()).Int("records", len(records)).Msg("Identifier scraped")
	return records, nil
}
