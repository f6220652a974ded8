package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LOCSCRAPE_POOL_MAX_SIZE=4
const EnvPrefix = "LOCSCRAPE"

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error disabled"`
	JSONLog  bool   `mapstructure:"json_log"`

	Target    TargetConfig    `mapstructure:"target"`
	Selectors SelectorConfig  `mapstructure:"selectors"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Batch     BatchConfig     `mapstructure:"batch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Output    OutputConfig    `mapstructure:"output"`
}

// TargetConfig describes the site being scraped
type TargetConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required"`
	URLTemplate       string        `mapstructure:"url_template" validate:"required,contains={id}"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gt=0"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout" validate:"gt=0"`
	NoContentTimeout  time.Duration `mapstructure:"no_content_timeout" validate:"gte=0"`
	ExpandTimeout     time.Duration `mapstructure:"expand_timeout" validate:"gt=0"`
	MaxExpansions     int           `mapstructure:"max_expansions" validate:"gte=1"`
	Placeholders      []string      `mapstructure:"placeholders"`
}

// SelectorConfig holds the CSS selectors for a locations page
type SelectorConfig struct {
	Section          string `mapstructure:"section" validate:"required"`
	Item             string `mapstructure:"item" validate:"required"`
	ItemAddress      string `mapstructure:"item_address" validate:"required"`
	ItemDescription  string `mapstructure:"item_description"`
	SeeMore          string `mapstructure:"see_more"`
	NoResultsRegion  string `mapstructure:"no_results_region" validate:"required_with=NoResultsPattern"`
	NoResultsPattern string `mapstructure:"no_results_pattern"`
	NoContent        string `mapstructure:"no_content"`
}

// BrowserConfig controls browser processes and page setup
type BrowserConfig struct {
	Headless         bool          `mapstructure:"headless"`
	ChromePath       string        `mapstructure:"chrome_path"`
	UserAgent        string        `mapstructure:"user_agent"`
	LaunchTimeout    time.Duration `mapstructure:"launch_timeout" validate:"gt=0"`
	PageSetupTimeout time.Duration `mapstructure:"page_setup_timeout" validate:"gt=0"`
	ViewportWidth    int           `mapstructure:"viewport_width" validate:"gte=320"`
	ViewportHeight   int           `mapstructure:"viewport_height" validate:"gte=240"`
	Stealth          bool          `mapstructure:"stealth"`
	BlockedResources []string      `mapstructure:"blocked_resources" validate:"dive,resource_type"`
	Headers          []string      `mapstructure:"headers"` // "Key: Value"
	Proxies          []string      `mapstructure:"proxies"`
	ProxyCooldown    time.Duration `mapstructure:"proxy_cooldown" validate:"gte=0"`
}

// PoolConfig sizes the browser pool
type PoolConfig struct {
	MinSize          int           `mapstructure:"min_size" validate:"gte=0"`
	MaxSize          int           `mapstructure:"max_size" validate:"gte=1"`
	PagesPerBrowser  int           `mapstructure:"pages_per_browser" validate:"gte=1"`
	RetrieveAttempts int           `mapstructure:"retrieve_attempts" validate:"gte=1"`
	RetrieveBackoff  time.Duration `mapstructure:"retrieve_backoff" validate:"gte=0"`
	ErrorThreshold   int           `mapstructure:"error_threshold" validate:"gte=1"`
	MaxAge           time.Duration `mapstructure:"max_age" validate:"gte=0"`
	FillAttempts     int           `mapstructure:"fill_attempts" validate:"gte=1"`
	FillBackoff      time.Duration `mapstructure:"fill_backoff" validate:"gte=0"`
	CloseConcurrency int           `mapstructure:"close_concurrency" validate:"gte=1"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// BatchConfig controls chunking, waves and retries
type BatchConfig struct {
	ChunkSize             int           `mapstructure:"chunk_size" validate:"gte=1"`
	ConcurrentPages       int           `mapstructure:"concurrent_pages" validate:"gte=0"`
	WaveDelay             time.Duration `mapstructure:"wave_delay" validate:"gte=0"`
	MaxRetries            int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay            time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	SecondPassChunkSize   int           `mapstructure:"second_pass_chunk_size" validate:"gte=1"`
	SecondPassConcurrency int           `mapstructure:"second_pass_concurrency" validate:"gte=1"`
	SecondPassDelay       time.Duration `mapstructure:"second_pass_delay" validate:"gte=0"`
	TaskTimeout           time.Duration `mapstructure:"task_timeout" validate:"gte=0"`
}

// RateLimitConfig is the per-host navigation budget
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
}

// OutputConfig names where artifacts go
type OutputConfig struct {
	ScreenshotDir string `mapstructure:"screenshot_dir"` // empty disables screenshots
	StorePath     string `mapstructure:"store_path"`     // empty disables the location store
}

// Load builds a Config by combining defaults, an optional config file,
// LOCSCRAPE_* environment variables and CLI flags, in increasing order of
// precedence. cmd may be nil.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v, configPath(cmd)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyVerbosity(cfg, cmd)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("json_log", DefaultJSONLog)

	v.SetDefault("target.base_url", "")
	v.SetDefault("target.url_template", DefaultURLTemplate)
	v.SetDefault("target.navigation_timeout", DefaultNavigationTimeout)
	v.SetDefault("target.selector_timeout", DefaultSelectorTimeout)
	v.SetDefault("target.no_content_timeout", DefaultNoContentTimeout)
	v.SetDefault("target.expand_timeout", DefaultExpandTimeout)
	v.SetDefault("target.max_expansions", DefaultMaxExpansions)
	v.SetDefault("target.placeholders", DefaultPlaceholders)

	v.SetDefault("selectors.section", DefaultSectionSelector)
	v.SetDefault("selectors.item", DefaultItemSelector)
	v.SetDefault("selectors.item_address", DefaultItemAddressSelector)
	v.SetDefault("selectors.item_description", DefaultItemDescriptionSelector)
	v.SetDefault("selectors.see_more", DefaultSeeMoreSelector)
	v.SetDefault("selectors.no_results_region", DefaultNoResultsRegionSelector)
	v.SetDefault("selectors.no_results_pattern", DefaultNoResultsPattern)
	v.SetDefault("selectors.no_content", DefaultNoContentSelector)

	v.SetDefault("browser.headless", DefaultBrowserHeadless)
	v.SetDefault("browser.chrome_path", "")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.launch_timeout", DefaultLaunchTimeout)
	v.SetDefault("browser.page_setup_timeout", DefaultPageSetupTimeout)
	v.SetDefault("browser.viewport_width", DefaultViewportWidth)
	v.SetDefault("browser.viewport_height", DefaultViewportHeight)
	v.SetDefault("browser.stealth", DefaultStealth)
	v.SetDefault("browser.blocked_resources", DefaultBlockedResources)
	v.SetDefault("browser.headers", []string{})
	v.SetDefault("browser.proxies", []string{})
	v.SetDefault("browser.proxy_cooldown", DefaultProxyCooldown)

	v.SetDefault("pool.min_size", DefaultPoolMinSize)
	v.SetDefault("pool.max_size", DefaultPoolMaxSize)
	v.SetDefault("pool.pages_per_browser", DefaultPagesPerBrowser)
	v.SetDefault("pool.retrieve_attempts", DefaultPoolRetrieveAttempts)
	v.SetDefault("pool.retrieve_backoff", DefaultPoolRetrieveBackoff)
	v.SetDefault("pool.error_threshold", DefaultPoolErrorThreshold)
	v.SetDefault("pool.max_age", DefaultPoolMaxAge)
	v.SetDefault("pool.fill_attempts", DefaultPoolFillAttempts)
	v.SetDefault("pool.fill_backoff", DefaultPoolFillBackoff)
	v.SetDefault("pool.close_concurrency", DefaultPoolCloseConcurrency)
	v.SetDefault("pool.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("batch.chunk_size", DefaultChunkSize)
	v.SetDefault("batch.concurrent_pages", DefaultConcurrentPages)
	v.SetDefault("batch.wave_delay", DefaultWaveDelay)
	v.SetDefault("batch.max_retries", DefaultMaxRetries)
	v.SetDefault("batch.retry_delay", DefaultRetryDelay)
	v.SetDefault("batch.second_pass_chunk_size", DefaultSecondPassChunkSize)
	v.SetDefault("batch.second_pass_concurrency", DefaultSecondPassConcurrency)
	v.SetDefault("batch.second_pass_delay", DefaultSecondPassDelay)
	v.SetDefault("batch.task_timeout", DefaultTaskTimeout)

	v.SetDefault("rate_limit.requests_per_second", DefaultRateLimitRPS)
	v.SetDefault("rate_limit.burst", DefaultRateLimitBurst)

	v.SetDefault("output.screenshot_dir", DefaultScreenshotDir)
	v.SetDefault("output.store_path", "")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, name := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func configPath(cmd *cobra.Command) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	return os.Getenv(EnvPrefix + "_CONFIG")
}

// readConfigFile reads an explicit file, or searches ./.locscrape.yaml and
// $HOME/.locscrape.yaml. A missing searched file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(".locscrape")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// applyVerbosity lets -v and -q override whatever level was configured
func applyVerbosity(cfg *Config, cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		cfg.LogLevel = "error"
		return
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
}
