// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/law-makers/locscrape/internal/config"
	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/internal/engine/batch"
	"github.com/law-makers/locscrape/internal/engine/dynamic"
	"github.com/law-makers/locscrape/internal/engine/extract"
	"github.com/law-makers/locscrape/internal/proxy"
	"github.com/law-makers/locscrape/internal/ratelimit"
	"github.com/law-makers/locscrape/internal/screenshot"
	"github.com/law-makers/locscrape/internal/utils/output"
	"github.com/law-makers/locscrape/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure proper resource cleanup on shutdown.
type Application struct {
	Config       *config.Config
	Logger       *zerolog.Logger
	Proxies      *proxy.ProxyPool
	BrowserPool  *dynamic.BrowserPool
	RateLimiter  *ratelimit.DomainLimiter
	Sessions     *dynamic.PageSession
	Extractor    *extract.Extractor
	Orchestrator *batch.Orchestrator
	Store        models.LocationStore // nil when no store path is configured

	storeCloser io.Closer
	closeOnce   sync.Once
	closeErr    error
	startTime   time.Time
}

// New creates and initializes a new Application backed by real Chrome
// processes.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Creates the proxy rotation pool and the Chrome launcher
//   - Creates the browser pool and starts warming it in the background
//   - Creates the per-host rate limiter, page session and extractor
//   - Opens the location store when one is configured
//
// If any step fails, an error is returned and no resources are left running.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	proxies := proxy.NewProxyPool(cfg.Browser.Proxies).WithCooldown(cfg.Browser.ProxyCooldown)
	launcher := dynamic.NewChromeLauncher(dynamic.LauncherOptions{
		Headless:      cfg.Browser.Headless,
		UserAgent:     cfg.Browser.UserAgent,
		ChromePath:    cfg.Browser.ChromePath,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
	}, proxies)

	a, err := NewWithLauncher(ctx, cfg, launcher)
	if err != nil {
		return nil, err
	}
	a.Proxies = proxies
	return a, nil
}

// NewWithLauncher is New with the browser source supplied by the caller
func NewWithLauncher(ctx context.Context, cfg *config.Config, launcher dynamic.Launcher) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := setupLogger(cfg)

	var store models.LocationStore
	var storeCloser io.Closer
	if cfg.Output.StorePath != "" {
		s, err := output.OpenJSONLStore(cfg.Output.StorePath)
		if err != nil {
			return nil, err
		}
		store, storeCloser = s, s
		logger.Debug().Str("path", cfg.Output.StorePath).Msg("Location store opened")
	}

	var shots engine.ScreenshotSink
	if cfg.Output.ScreenshotDir != "" {
		shots = screenshot.NewWriter(cfg.Output.ScreenshotDir)
	}

	limiter := ratelimit.NewDomainLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	logger.Debug().
		Float64("rps", cfg.RateLimit.RequestsPerSecond).
		Int("burst", cfg.RateLimit.Burst).
		Msg("Rate limiter initialized")

	extractor, err := extract.New(selectors(cfg), extract.Options{
		BaseURL:           cfg.Target.BaseURL,
		URLTemplate:       cfg.Target.URLTemplate,
		NavigationTimeout: cfg.Target.NavigationTimeout,
		SelectorTimeout:   cfg.Target.SelectorTimeout,
		NoContentTimeout:  cfg.Target.NoContentTimeout,
		ExpandTimeout:     cfg.Target.ExpandTimeout,
		MaxExpansions:     cfg.Target.MaxExpansions,
		Placeholders:      cfg.Target.Placeholders,
	}, limiter, shots)
	if err != nil {
		if storeCloser != nil {
			_ = storeCloser.Close()
		}
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	sessions := dynamic.NewPageSession(dynamic.SessionOptions{
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
		UserAgent:        cfg.Browser.UserAgent,
		Headers:          cfg.HeaderMap(),
		Stealth:          cfg.Browser.Stealth,
		BlockedResources: cfg.Browser.BlockedResources,
		SetupTimeout:     cfg.Browser.PageSetupTimeout,
	})

	pool := dynamic.NewBrowserPool(launcher, dynamic.PoolOptions{
		MinSize:          cfg.Pool.MinSize,
		MaxSize:          cfg.Pool.MaxSize,
		PagesPerBrowser:  cfg.Pool.PagesPerBrowser,
		RetrieveAttempts: cfg.Pool.RetrieveAttempts,
		RetrieveBackoff:  cfg.Pool.RetrieveBackoff,
		ErrorThreshold:   cfg.Pool.ErrorThreshold,
		MaxAge:           cfg.Pool.MaxAge,
		FillAttempts:     cfg.Pool.FillAttempts,
		FillBackoff:      cfg.Pool.FillBackoff,
		CloseConcurrency: cfg.Pool.CloseConcurrency,
	})
	pool.EnsureMinimumSize(ctx, cfg.Pool.MinSize)

	concurrent := cfg.Batch.ConcurrentPages
	if concurrent <= 0 {
		concurrent = batch.OptimalConcurrency(cfg.Pool.MaxSize, cfg.Pool.PagesPerBrowser)
	}
	orchestrator := batch.New(pool, sessions, extractor, batch.Options{
		ChunkSize:             cfg.Batch.ChunkSize,
		ConcurrentPages:       concurrent,
		WaveDelay:             cfg.Batch.WaveDelay,
		MaxRetries:            cfg.Batch.MaxRetries,
		RetryDelay:            cfg.Batch.RetryDelay,
		SecondPassChunkSize:   cfg.Batch.SecondPassChunkSize,
		SecondPassConcurrency: cfg.Batch.SecondPassConcurrency,
		SecondPassDelay:       cfg.Batch.SecondPassDelay,
		TaskTimeout:           cfg.Batch.TaskTimeout,
	})

	a := &Application{
		Config:       cfg,
		Logger:       logger,
		BrowserPool:  pool,
		RateLimiter:  limiter,
		Sessions:     sessions,
		Extractor:    extractor,
		Orchestrator: orchestrator,
		Store:        store,
		storeCloser:  storeCloser,
		startTime:    time.Now(),
	}

	logger.Info().
		Str("target", cfg.Target.BaseURL).
		Int("max_browsers", cfg.Pool.MaxSize).
		Int("concurrent_pages", concurrent).
		Msg("Application initialized successfully")
	return a, nil
}

func setupLogger(cfg *config.Config) *zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logWriter io.Writer
	if cfg.JSONLog {
		// JSON logs to stderr
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(logWriter).With().Timestamp().Logger()
	log.Logger = logger

	logger.Debug().
		Str("level", level.String()).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")
	return &logger
}

func selectors(cfg *config.Config) extract.Selectors {
	s := cfg.Selectors
	return extract.Selectors{
		Section:          s.Section,
		Item:             s.Item,
		ItemAddress:      s.ItemAddress,
		ItemDescription:  s.ItemDescription,
		SeeMore:          s.SeeMore,
		NoResultsRegion:  s.NoResultsRegion,
		NoResultsPattern: s.NoResultsPattern,
		NoContent:        s.NoContent,
	}
}

// Publish hands every succeeded identifier's records to the location
// store. Failed identifiers are never published, so a failed refresh
// cannot wipe previously stored locations. It is a no-op without a store.
func (a *Application) Publish(ctx context.Context, result *models.BatchResult) error {
	if a.Store == nil || result == nil {
		return nil
	}

	var errs []error
	for _, id := range result.Succeeded() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.Store.UpsertLocations(ctx, id, result.Locations[id]); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close gracefully shuts down the application and all its resources.
//
// The browser pool is shut down first, which makes every in-flight page
// operation fail; the orchestrator reports those as ordinary task
// failures. Close is safe to call more than once and from several
// goroutines; later calls return the first call's result.
func (a *Application) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.Logger.Info().Msg("Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Pool.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.BrowserPool != nil {
			if err := a.BrowserPool.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn().Err(err).Msg("Error closing browser pool")
				errs = append(errs, err)
			}
		}
		if a.storeCloser != nil {
			if err := a.storeCloser.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("Error closing location store")
				errs = append(errs, err)
			}
		}

		a.closeErr = errors.Join(errs...)
		a.Logger.Info().Dur("uptime", a.Uptime()).Msg("Application shutdown complete")
	})
	return a.closeErr
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
