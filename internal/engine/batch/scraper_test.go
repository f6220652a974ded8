package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/engine/dynamic"
	"github.com/law-makers/locscrape/internal/engine/extract"
	"github.com/law-makers/locscrape/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

type fakePool struct {
	log         *eventLog
	acquireErr  error
	acquires    atomic.Int32
	releases    atomic.Int32
	errorsSeen  atomic.Int32
	successSeen atomic.Int32
}

func (p *fakePool) Acquire(ctx context.Context) (*dynamic.Handle, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires.Add(1)
	p.log.add("acquire")
	return &dynamic.Handle{}, nil
}

func (p *fakePool) Release(h *dynamic.Handle) {
	p.releases.Add(1)
	p.log.add("release")
}

func (p *fakePool) RecordError(h *dynamic.Handle)   { p.errorsSeen.Add(1) }
func (p *fakePool) RecordSuccess(h *dynamic.Handle) { p.successSeen.Add(1) }

// stubPage satisfies engine.Page; the fake extractor never calls it
type stubPage struct{ engine.Page }

type fakeSessions struct {
	log       *eventLog
	page      engine.Page // handed out when set, stubPage otherwise
	setups    atomic.Int32
	teardowns atomic.Int32
}

func (s *fakeSessions) Setup(ctx context.Context, h *dynamic.Handle) (engine.Page, error) {
	s.setups.Add(1)
	s.log.add("setup")
	if s.page != nil {
		return s.page, nil
	}
	return stubPage{}, nil
}

func (s *fakeSessions) Teardown(p engine.Page) {
	s.teardowns.Add(1)
	s.log.add("teardown")
}

type outcome func(call int) ([]models.RawLocationRecord, error)

type fakeExtractor struct {
	mu       sync.Mutex
	outcomes map[string]outcome
	calls    map[string]int

	inflight    atomic.Int32
	maxInflight atomic.Int32
	hold        time.Duration
}

func newFakeExtractor(outcomes map[string]outcome) *fakeExtractor {
	return &fakeExtractor{outcomes: outcomes, calls: map[string]int{}}
}

func (x *fakeExtractor) Process(ctx context.Context, page engine.Page, identifier string) ([]models.RawLocationRecord, error) {
	n := x.inflight.Add(1)
	defer x.inflight.Add(-1)
	for {
		cur := x.maxInflight.Load()
		if n <= cur || x.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if x.hold > 0 {
		time.Sleep(x.hold)
	}

	x.mu.Lock()
	x.calls[identifier]++
	call := x.calls[identifier]
	fn := x.outcomes[identifier]
	x.mu.Unlock()

	if fn == nil {
		return []models.RawLocationRecord{{Address: identifier + " Street, Springfield"}}, nil
	}
	return fn(call)
}

func (x *fakeExtractor) callsFor(id string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls[id]
}

func navTimeout(id string) error {
	return engine.NewEngineError(engine.ErrCodeNavigationTimeout, "load "+id, context.DeadlineExceeded)
}

func alwaysFail(err error) outcome {
	return func(int) ([]models.RawLocationRecord, error) { return nil, err }
}

func empty() outcome {
	return func(int) ([]models.RawLocationRecord, error) { return []models.RawLocationRecord{}, nil }
}

func failFirst(n int, err error) outcome {
	return func(call int) ([]models.RawLocationRecord, error) {
		if call <= n {
			return nil, err
		}
		return []models.RawLocationRecord{{Address: "1 Recovered Road, Springfield"}}, nil
	}
}

func fastOptions() Options {
	return Options{
		ChunkSize:           2,
		ConcurrentPages:     2,
		WaveDelay:           time.Millisecond,
		MaxRetries:          1,
		RetryDelay:          time.Millisecond,
		SecondPassChunkSize: 1,
		SecondPassDelay:     time.Millisecond,
	}
}

func TestScrapeBatch_MixedOutcomes(t *testing.T) {
	pool := &fakePool{}
	sessions := &fakeSessions{}
	x := newFakeExtractor(map[string]outcome{
		"tt002": empty(),
		"tt003": alwaysFail(navTimeout("tt003")),
	})
	o := New(pool, sessions, x, fastOptions())

	result := o.ScrapeBatch(context.Background(), []string{"tt001", "tt002", "tt003"})

	require.Contains(t, result.Locations, "tt001")
	require.Contains(t, result.Locations, "tt002")
	assert.Len(t, result.Locations["tt001"], 1)
	assert.NotNil(t, result.Locations["tt002"])
	assert.Empty(t, result.Locations["tt002"])

	assert.Equal(t, []string{"tt003"}, result.Failed)
	assert.Contains(t, result.Errors["tt003"], "NAVIGATION_TIMEOUT")

	// first pass: 1 + MaxRetries, second pass: same again
	assert.Equal(t, 4, x.callsFor("tt003"))
	assert.Equal(t, 1, x.callsFor("tt001"))
	assert.Equal(t, 1, x.callsFor("tt002"))

	assert.Equal(t, pool.acquires.Load(), pool.releases.Load())
	assert.Equal(t, sessions.setups.Load(), sessions.teardowns.Load())
	assert.Equal(t, int32(4), pool.errorsSeen.Load(), "navigation timeouts count against the browser")
}

func TestScrapeBatch_UnionEqualsInput(t *testing.T) {
	outcomes := map[string]outcome{}
	var input []string
	for i := 0; i < 23; i++ {
		id := fmt.Sprintf("tt%03d", i)
		input = append(input, id)
		switch i % 4 {
		case 0:
			outcomes[id] = alwaysFail(engine.NewEngineError(engine.ErrCodeSelectorTimeout, "x", nil))
		case 1:
			outcomes[id] = empty()
		}
	}
	input = append(input, "tt001", "tt005", " ", "")

	o := New(&fakePool{}, &fakeSessions{}, newFakeExtractor(outcomes), fastOptions())
	result := o.ScrapeBatch(context.Background(), input)

	var got []string
	got = append(got, result.Succeeded()...)
	got = append(got, result.Failed...)
	sort.Strings(got)

	want := Dedupe(input)
	sort.Strings(want)
	assert.Equal(t, want, got, "every identifier exactly once")

	for _, id := range result.Failed {
		assert.NotContains(t, result.Locations, id)
		assert.NotEmpty(t, result.Errors[id])
	}
}

func TestScrapeBatch_KeysResultByExactInput(t *testing.T) {
	x := newFakeExtractor(nil)
	o := New(&fakePool{}, &fakeSessions{}, x, fastOptions())

	result := o.ScrapeBatch(context.Background(), []string{" tt1", "tt2", "", "tt2"})

	assert.Equal(t, []string{"tt2"}, result.Succeeded())
	assert.Equal(t, []string{" tt1", ""}, result.Failed)
	assert.Equal(t, errInvalidIdentifier.Error(), result.Errors[" tt1"])
	assert.Equal(t, errEmptyIdentifier.Error(), result.Errors[""])
	assert.Equal(t, 0, x.callsFor(" tt1"), "unusable identifiers are never scraped")
	assert.Equal(t, 0, x.callsFor("tt1"))
}

func TestScrapeBatch_FailureReasonNamesTask(t *testing.T) {
	x := newFakeExtractor(map[string]outcome{"tt003": alwaysFail(navTimeout("tt003"))})
	o := New(&fakePool{}, &fakeSessions{}, x, fastOptions())

	result := o.ScrapeBatch(context.Background(), []string{"tt003"})
	require.Equal(t, []string{"tt003"}, result.Failed)
	assert.Regexp(t, `^\[tt003 [0-9a-f-]{36}\] `, result.Errors["tt003"])
	assert.Contains(t, result.Errors["tt003"], "NAVIGATION_TIMEOUT")
}

// droppedPage behaves like a tab whose browser connection went away:
// every call fails with context.Canceled although the caller is live.
type droppedPage struct {
	engine.Page
	navigations atomic.Int32
}

func (p *droppedPage) Navigate(ctx context.Context, url string) error {
	p.navigations.Add(1)
	return context.Canceled
}

func (p *droppedPage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, context.Canceled
}

func TestScrapeBatch_LostConnectionIsRetried(t *testing.T) {
	x, err := extract.New(extract.Selectors{
		Section:     "section.locations",
		Item:        "div.loc-item",
		ItemAddress: "a.loc-link",
	}, extract.Options{
		BaseURL:           "https://titles.example.com/title",
		NavigationTimeout: time.Second,
	}, nil, nil)
	require.NoError(t, err)

	page := &droppedPage{}
	pool := &fakePool{}
	opts := fastOptions()
	opts.MaxRetries = 2
	o := New(pool, &fakeSessions{page: page}, x, opts)

	result := o.ScrapeBatch(context.Background(), []string{"tt001"})

	assert.Equal(t, []string{"tt001"}, result.Failed)
	assert.Contains(t, result.Errors["tt001"], "NAVIGATION_ERROR")
	// (MaxRetries+1) attempts in each of the two passes
	assert.Equal(t, int32(6), page.navigations.Load())
	assert.Equal(t, int32(6), pool.errorsSeen.Load())
}

func TestScrapeBatch_SecondPassOnlyRetriesMissing(t *testing.T) {
	x := newFakeExtractor(map[string]outcome{
		// fails both first-pass attempts, succeeds on the second pass
		"tt002": failFirst(2, navTimeout("tt002")),
	})
	o := New(&fakePool{}, &fakeSessions{}, x, fastOptions())

	var mu sync.Mutex
	passes := map[string][]string{}
	o.OnProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		passes[ev.Pass] = append(passes[ev.Pass], ev.Identifier)
	})

	result := o.ScrapeBatch(context.Background(), []string{"tt001", "tt002", "tt003"})

	assert.Empty(t, result.Failed)
	assert.Len(t, result.Locations, 3)
	assert.Equal(t, "1 Recovered Road, Springfield", result.Locations["tt002"][0].Address)
	assert.Equal(t, 3, x.callsFor("tt002"))
	assert.Equal(t, 1, x.callsFor("tt001"))
	assert.Equal(t, 1, x.callsFor("tt003"))

	assert.Len(t, passes[PassFirst], 3)
	assert.Equal(t, []string{"tt002"}, passes[PassSecond])
}

func TestScrapeBatch_BoundedParallelism(t *testing.T) {
	x := newFakeExtractor(nil)
	x.hold = 5 * time.Millisecond

	opts := fastOptions()
	opts.ChunkSize = 1
	opts.ConcurrentPages = 3
	o := New(&fakePool{}, &fakeSessions{}, x, opts)

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("id%d", i))
	}
	result := o.ScrapeBatch(context.Background(), ids)

	assert.Len(t, result.Locations, 12)
	assert.LessOrEqual(t, int(x.maxInflight.Load()), 3)
}

func TestScrapeBatch_CancelledContextReportsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := newFakeExtractor(nil)
	o := New(&fakePool{}, &fakeSessions{}, x, fastOptions())
	result := o.ScrapeBatch(ctx, []string{"a", "b", "c"})

	assert.Empty(t, result.Locations)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Failed)
	for _, id := range result.Failed {
		assert.Contains(t, result.Errors[id], "canceled")
	}
	assert.Equal(t, 0, x.callsFor("a"))
}

func TestScrapeBatch_PoolExhaustionIsPerIdentifier(t *testing.T) {
	pool := &fakePool{acquireErr: engine.NewEngineError(engine.ErrCodePoolExhausted, "no browser", nil)}
	o := New(pool, &fakeSessions{}, newFakeExtractor(nil), fastOptions())

	result := o.ScrapeBatch(context.Background(), []string{"a", "b"})
	assert.ElementsMatch(t, []string{"a", "b"}, result.Failed)
	assert.Contains(t, result.Errors["a"], "POOL_EXHAUSTED")
}

func TestScrapeOne(t *testing.T) {
	x := newFakeExtractor(map[string]outcome{
		"empty":  empty(),
		"broken": alwaysFail(engine.NewEngineError(engine.ErrCodeSelectorNotFound, "x", nil)),
		"flaky":  failFirst(1, navTimeout("flaky")),
	})
	pool := &fakePool{}
	o := New(pool, &fakeSessions{}, x, fastOptions())

	task, err := o.ScrapeOne(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, task.Status)
	assert.NotNil(t, task.Records)
	assert.Empty(t, task.Records)

	task, err = o.ScrapeOne(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.ErrorIs(t, task.LastError, engine.ErrSelectorNotFound)
	assert.Equal(t, 1, task.RetryCount)

	task, err = o.ScrapeOne(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Len(t, task.Records, 1)

	assert.Equal(t, int32(1), pool.errorsSeen.Load(), "only the navigation failure counts against the browser")
}

func TestScrapeOne_PoolExhaustedIsReturned(t *testing.T) {
	pool := &fakePool{acquireErr: fmt.Errorf("acquire: %w", engine.ErrPoolExhausted)}
	x := newFakeExtractor(nil)
	o := New(pool, &fakeSessions{}, x, fastOptions())

	task, err := o.ScrapeOne(context.Background(), "tt1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPoolExhausted)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, 0, task.RetryCount, "exhaustion is not retried")
}

func TestScrapeOne_TeardownBeforeRelease(t *testing.T) {
	events := &eventLog{}
	pool := &fakePool{log: events}
	sessions := &fakeSessions{log: events}
	x := newFakeExtractor(map[string]outcome{"bad": alwaysFail(errors.New("boom"))})

	opts := fastOptions()
	opts.MaxRetries = 0
	o := New(pool, sessions, x, opts)

	_, err := o.ScrapeOne(context.Background(), "ok")
	require.NoError(t, err)
	_, err = o.ScrapeOne(context.Background(), "bad")
	require.NoError(t, err)

	want := []string{"acquire", "setup", "teardown", "release", "acquire", "setup", "teardown", "release"}
	assert.Equal(t, want, events.events)
}

func TestScrapeBatch_WithRealPool(t *testing.T) {
	l := &countingLauncher{}
	pool := dynamic.NewBrowserPool(l, dynamic.PoolOptions{MaxSize: 2, PagesPerBrowser: 2, RetrieveAttempts: 100, RetrieveBackoff: time.Millisecond})
	defer pool.Shutdown(context.Background())

	x := newFakeExtractor(map[string]outcome{"c": alwaysFail(navTimeout("c"))})
	x.hold = time.Millisecond
	o := New(pool, &fakeSessions{}, x, fastOptions())

	result := o.ScrapeBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	assert.Len(t, result.Locations, 4)
	assert.Equal(t, []string{"c"}, result.Failed)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.ActivePages)
	assert.LessOrEqual(t, stats.Size, 2)
}

type countingBrowser struct {
	id     string
	closed atomic.Bool
}

func (b *countingBrowser) ID() string   { return b.id }
func (b *countingBrowser) Alive() bool  { return !b.closed.Load() }
func (b *countingBrowser) Close() error { b.closed.Store(true); return nil }

type countingLauncher struct{ n atomic.Int32 }

func (l *countingLauncher) Launch(ctx context.Context) (dynamic.Browser, error) {
	return &countingBrowser{id: fmt.Sprintf("b%d", l.n.Add(1))}, nil
}
