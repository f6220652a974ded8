package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel  = "info"
	DefaultJSONLog   = false
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// Target page
	DefaultURLTemplate       = "{base}/{id}/locations"
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSelectorTimeout   = 15 * time.Second
	DefaultNoContentTimeout  = 3 * time.Second
	DefaultExpandTimeout     = 10 * time.Second
	DefaultMaxExpansions     = 50

	// Selectors
	DefaultSectionSelector          = `section[data-testid="sub-section-flmg_locations"]`
	DefaultItemSelector             = `div[data-testid="item-id"]`
	DefaultItemAddressSelector      = `a[data-testid="item-text-with-link"]`
	DefaultItemDescriptionSelector  = `p[data-testid="item-attributes"]`
	DefaultSeeMoreSelector          = `button.ipc-see-more__button`
	DefaultNoResultsRegionSelector  = `main`
	DefaultNoResultsPattern         = `(?i)(it looks like we don't have any|no filming locations)`
	DefaultNoContentSelector        = `div[data-testid="sub-section-no-content"]`
	DefaultAuthPromptPlaceholder    = "Sign in to see more"
	DefaultLocationsPlaceholderText = "Filming locations"

	// Browser
	DefaultBrowserHeadless  = true
	DefaultLaunchTimeout    = 30 * time.Second
	DefaultPageSetupTimeout = 10 * time.Second
	DefaultViewportWidth    = 1366
	DefaultViewportHeight   = 768
	DefaultStealth          = true
	DefaultProxyCooldown    = 2 * time.Minute

	// Browser pool
	DefaultPoolMinSize          = 1
	DefaultPoolMaxSize          = 3
	DefaultMaxBrowserPoolSize   = 16
	DefaultPagesPerBrowser      = 2
	DefaultPoolRetrieveAttempts = 10
	DefaultPoolRetrieveBackoff  = 500 * time.Millisecond
	DefaultPoolErrorThreshold   = 3
	DefaultPoolMaxAge           = 30 * time.Minute
	DefaultPoolFillAttempts     = 3
	DefaultPoolFillBackoff      = 2 * time.Second
	DefaultPoolCloseConcurrency = 4
	DefaultShutdownTimeout      = 15 * time.Second

	// Batching and retries
	DefaultChunkSize             = 5
	DefaultConcurrentPages       = 0 // derived from pool size
	DefaultWaveDelay             = 2 * time.Second
	DefaultMaxRetries            = 2
	DefaultRetryDelay            = 3 * time.Second
	DefaultSecondPassChunkSize   = 2
	DefaultSecondPassConcurrency = 1
	DefaultSecondPassDelay       = 5 * time.Second
	DefaultTaskTimeout           = 2 * time.Minute

	// Politeness
	DefaultRateLimitRPS   = 1.0
	DefaultRateLimitBurst = 2

	// Output
	DefaultScreenshotDir = "screenshots"
)

// DefaultBlockedResources are CDP resource types dropped by page sessions
var DefaultBlockedResources = []string{"Image", "Stylesheet", "Font", "Media"}

// DefaultPlaceholders are card texts that are never real addresses
var DefaultPlaceholders = []string{DefaultAuthPromptPlaceholder, DefaultLocationsPlaceholderText}
