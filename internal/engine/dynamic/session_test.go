package dynamic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/law-makers/locscrape/internal/config"
	"github.com/law-makers/locscrape/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const locationsHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Filming Locations</title>
	<link rel="stylesheet" href="/style.css">
</head>
<body>
	<img src="/poster.png" alt="poster">
	<section class="locations">
		<div class="loc-item"><a class="loc-link">1 Main Street, Springfield</a></div>
		<div class="loc-item"><a class="loc-link">2 Main Street, Springfield</a></div>
	</section>
	<div class="loc-item">Related title</div>
	<button class="see-more" onclick="more()">See more</button>
	<script>
		function more() {
			setTimeout(function () {
				var s = document.querySelector("section.locations");
				for (var i = 3; i <= 4; i++) {
					var d = document.createElement("div");
					d.className = "loc-item";
					d.innerHTML = '<a class="loc-link">' + i + ' Main Street, Springfield</a>';
					s.appendChild(d);
				}
			}, 300);
		}
	</script>
</body>
</html>`

const itemsInSection = "section.locations div.loc-item"

// siteRecorder serves the locations page and remembers what was requested
type siteRecorder struct {
	mu        sync.Mutex
	paths     []string
	userAgent string
	header    string
}

func (s *siteRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	if r.URL.Path == "/" {
		s.userAgent = r.UserAgent()
		s.header = r.Header.Get("X-Locscrape-Test")
	}
	s.mu.Unlock()

	switch r.URL.Path {
	case "/":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(locationsHTML))
	case "/style.css":
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body { margin: 0; }"))
	case "/poster.png":
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG\r\n\x1a\n"))
	default:
		http.NotFound(w, r)
	}
}

func (s *siteRecorder) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func launchTestChrome(t *testing.T) *ChromeBrowser {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping chrome test in short mode")
	}
	path := FindChrome()
	if path == "" {
		t.Skip("chrome not installed")
	}

	l := NewChromeLauncher(LauncherOptions{
		Headless:      true,
		ChromePath:    path,
		LaunchTimeout: 30 * time.Second,
	}, nil)
	b, err := l.Launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.(*ChromeBrowser)
}

func TestPageSession_Chrome(t *testing.T) {
	b := launchTestChrome(t)
	site := &siteRecorder{}
	server := httptest.NewServer(site)
	defer server.Close()

	s := NewPageSession(SessionOptions{
		ViewportWidth:    1024,
		ViewportHeight:   700,
		UserAgent:        "locscrape-test/1.0",
		Headers:          map[string]string{"X-Locscrape-Test": "yes"},
		BlockedResources: config.DefaultBlockedResources,
		SetupTimeout:     20 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := s.Setup(ctx, &Handle{browser: b})
	require.NoError(t, err)
	cp := page.(*ChromePage)

	require.NoError(t, page.Navigate(ctx, server.URL+"/"))
	require.NoError(t, page.WaitVisible(ctx, "section.locations"))

	t.Run("blocks resource types", func(t *testing.T) {
		paths := site.requested()
		assert.Contains(t, paths, "/")
		assert.NotContains(t, paths, "/style.css")
		assert.NotContains(t, paths, "/poster.png")
	})

	t.Run("applies user agent and headers", func(t *testing.T) {
		site.mu.Lock()
		defer site.mu.Unlock()
		assert.Equal(t, "locscrape-test/1.0", site.userAgent)
		assert.Equal(t, "yes", site.header)
	})

	t.Run("applies viewport", func(t *testing.T) {
		var width, height int64
		require.NoError(t, chromedp.Run(cp.ctx,
			chromedp.Evaluate(`window.innerWidth`, &width),
			chromedp.Evaluate(`window.innerHeight`, &height),
		))
		assert.Equal(t, int64(1024), width)
		assert.Equal(t, int64(700), height)
	})

	t.Run("queries", func(t *testing.T) {
		n, err := page.Count(ctx, itemsInSection)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = page.Count(ctx, "div.loc-item")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		ok, err := page.Exists(ctx, "div.no-content")
		require.NoError(t, err)
		assert.False(t, ok)

		text, err := page.Text(ctx, "section.locations a.loc-link")
		require.NoError(t, err)
		assert.Equal(t, "1 Main Street, Springfield", text)
	})

	t.Run("expands list", func(t *testing.T) {
		require.NoError(t, page.ScrollIntoView(ctx, "button.see-more"))
		require.NoError(t, page.Click(ctx, "button.see-more"))

		waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
		defer waitCancel()
		require.NoError(t, page.WaitForCountAbove(waitCtx, itemsInSection, 2))

		html, err := page.OuterHTML(ctx, "section.locations")
		require.NoError(t, err)
		assert.Contains(t, html, "4 Main Street, Springfield")
		assert.NotContains(t, html, "Related title")
	})

	t.Run("count wait times out", func(t *testing.T) {
		waitCtx, waitCancel := context.WithTimeout(ctx, 600*time.Millisecond)
		defer waitCancel()
		err := page.WaitForCountAbove(waitCtx, itemsInSection, 10)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("screenshot is png", func(t *testing.T) {
		png, err := page.Screenshot(ctx)
		require.NoError(t, err)
		require.Greater(t, len(png), 8)
		assert.Equal(t, "\x89PNG", string(png[:4]))
	})

	s.Teardown(page)
	assert.Error(t, cp.ctx.Err(), "teardown closes the tab")
	assert.True(t, b.Alive(), "teardown leaves the browser running")
}

func TestChromePage_BrowserLossIsCrash(t *testing.T) {
	b := launchTestChrome(t)
	s := NewPageSession(SessionOptions{SetupTimeout: 20 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := s.Setup(ctx, &Handle{browser: b})
	require.NoError(t, err)
	defer s.Teardown(page)

	require.NoError(t, b.Close())
	assert.False(t, b.Alive())

	err = page.Navigate(ctx, "about:blank")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrBrowserCrash)
	assert.NotErrorIs(t, err, context.Canceled)

	_, err = s.Setup(ctx, &Handle{browser: b})
	assert.ErrorIs(t, err, engine.ErrBrowserCrash)
}
