package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://titles.example.com/title")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultURLTemplate, cfg.Target.URLTemplate)
	assert.Equal(t, DefaultNavigationTimeout, cfg.Target.NavigationTimeout)
	assert.Equal(t, DefaultSectionSelector, cfg.Selectors.Section)
	assert.Equal(t, DefaultUserAgent, cfg.Browser.UserAgent)
	assert.Equal(t, DefaultBlockedResources, cfg.Browser.BlockedResources)
	assert.Equal(t, DefaultPoolMaxSize, cfg.Pool.MaxSize)
	assert.Equal(t, DefaultChunkSize, cfg.Batch.ChunkSize)
	assert.Equal(t, DefaultRateLimitRPS, cfg.RateLimit.RequestsPerSecond)
	assert.Empty(t, cfg.Browser.Proxies)
}

func TestLoad_RequiresBaseURL(t *testing.T) {
	isolate(t)

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://titles.example.com/title")
	t.Setenv("LOCSCRAPE_POOL_MAX_SIZE", "6")
	t.Setenv("LOCSCRAPE_BATCH_RETRY_DELAY", "750ms")
	t.Setenv("LOCSCRAPE_BROWSER_PROXIES", "http://a.example:8080,socks5://b.example:1080")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pool.MaxSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Batch.RetryDelay)
	assert.Equal(t, []string{"http://a.example:8080", "socks5://b.example:1080"}, cfg.Browser.Proxies)
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://env.example.com")
	t.Setenv("LOCSCRAPE_BATCH_CHUNK_SIZE", "9")

	cmd := newCmd(t,
		"--base-url", "https://flag.example.com/title",
		"--chunk-size", "3",
		"-H", "Accept-Language: en-US",
		"--proxy", "socks5://127.0.0.1:1080",
		"-v",
	)

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com/title", cfg.Target.BaseURL)
	assert.Equal(t, 3, cfg.Batch.ChunkSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"socks5://127.0.0.1:1080"}, cfg.Browser.Proxies)
	assert.Equal(t, map[string]string{"Accept-Language": "en-US"}, cfg.HeaderMap())
}

func TestLoad_UnchangedFlagKeepsEnv(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://env.example.com")
	t.Setenv("LOCSCRAPE_BATCH_CHUNK_SIZE", "9")

	cfg, err := Load(newCmd(t))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Batch.ChunkSize)
}

func TestLoad_QuietWins(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://titles.example.com")

	cfg, err := Load(newCmd(t, "-v", "-q"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "scrape.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target:
  base_url: https://file.example.com/title
  max_expansions: 7
selectors:
  section: section.locs
  no_results_pattern: "(?i)nothing here"
pool:
  min_size: 2
  max_size: 4
browser:
  blocked_resources: [Image, Font]
`), 0o644))

	cfg, err := Load(newCmd(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com/title", cfg.Target.BaseURL)
	assert.Equal(t, 7, cfg.Target.MaxExpansions)
	assert.Equal(t, "section.locs", cfg.Selectors.Section)
	assert.Equal(t, DefaultItemSelector, cfg.Selectors.Item)
	assert.Equal(t, 2, cfg.Pool.MinSize)
	assert.Equal(t, []string{"Image", "Font"}, cfg.Browser.BlockedResources)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://titles.example.com")

	_, err := Load(newCmd(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	t.Setenv("LOCSCRAPE_TARGET_BASE_URL", "https://titles.example.com")
	base, err := Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad base url scheme", func(c *Config) { c.Target.BaseURL = "ftp://titles.example.com" }},
		{"template without id", func(c *Config) { c.Target.URLTemplate = "{base}/locations" }},
		{"bad regexp", func(c *Config) { c.Selectors.NoResultsPattern = "([" }},
		{"missing section selector", func(c *Config) { c.Selectors.Section = "" }},
		{"min above max", func(c *Config) { c.Pool.MinSize, c.Pool.MaxSize = 5, 2 }},
		{"max too large", func(c *Config) { c.Pool.MaxSize = DefaultMaxBrowserPoolSize + 1 }},
		{"unknown resource type", func(c *Config) { c.Browser.BlockedResources = []string{"Image", "Pictures"} }},
		{"bad proxy", func(c *Config) { c.Browser.Proxies = []string{"ftp://proxy.example"} }},
		{"bad header", func(c *Config) { c.Browser.Headers = []string{"no-colon"} }},
		{"zero chunk size", func(c *Config) { c.Batch.ChunkSize = 0 }},
		{"negative retries", func(c *Config) { c.Batch.MaxRetries = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	require.NoError(t, validate(base))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.Browser.BlockedResources = append([]string(nil), base.Browser.BlockedResources...)
			tt.mutate(&c)
			assert.Error(t, validate(&c))
		})
	}
}
