package config

import "github.com/spf13/cobra"

// flagKeys maps config keys to the persistent flags that override them
var flagKeys = map[string]string{
	"json_log":                       "json",
	"target.base_url":                "base-url",
	"browser.headless":               "headless",
	"browser.chrome_path":            "chrome-path",
	"browser.user_agent":             "user-agent",
	"browser.headers":                "header",
	"browser.proxies":                "proxy",
	"pool.max_size":                  "browsers",
	"pool.pages_per_browser":         "pages-per-browser",
	"batch.chunk_size":               "chunk-size",
	"batch.concurrent_pages":         "concurrency",
	"batch.max_retries":              "retries",
	"batch.task_timeout":             "timeout",
	"output.screenshot_dir":          "screenshot-dir",
	"output.store_path":              "store",
	"rate_limit.requests_per_second": "rps",
}

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	pf := cmd.PersistentFlags()
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.BoolP("quiet", "q", false, "Suppress all output except errors")
	pf.Bool("json", false, "Log in JSON format")
	pf.String("config", "", "Path to configuration file (default ./.locscrape.yaml or $HOME/.locscrape.yaml)")

	pf.String("base-url", "", "Base URL of the title pages")
	pf.Bool("headless", DefaultBrowserHeadless, "Run browsers headless")
	pf.String("chrome-path", "", "Path to the Chrome/Chromium executable (auto-detected when empty)")
	pf.String("user-agent", "", "Custom user agent string")
	pf.StringArrayP("header", "H", nil, `Extra HTTP header, repeatable (e.g. -H "Accept-Language: en-US")`)
	pf.StringArray("proxy", nil, "HTTP/SOCKS5 proxy for browser launches, repeatable (e.g. socks5://localhost:1080)")

	pf.Int("browsers", DefaultPoolMaxSize, "Maximum number of browser processes")
	pf.Int("pages-per-browser", DefaultPagesPerBrowser, "Concurrent pages per browser")
	pf.Int("chunk-size", DefaultChunkSize, "Identifiers per chunk")
	pf.Int("concurrency", DefaultConcurrentPages, "Chunks per wave (0 derives it from the pool size)")
	pf.Int("retries", DefaultMaxRetries, "Retries per identifier after the first attempt")
	pf.Duration("timeout", DefaultTaskTimeout, "Hard timeout per identifier attempt")
	pf.Float64("rps", DefaultRateLimitRPS, "Page loads per second against the target host")

	pf.String("screenshot-dir", DefaultScreenshotDir, "Directory for diagnostic screenshots (empty disables them)")
	pf.String("store", "", "Append scraped locations to this JSON-lines file")
}
