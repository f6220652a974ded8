package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/law-makers/locscrape/internal/utils/headers"
	urlutil "github.com/law-makers/locscrape/internal/utils/url"
)

// resourceTypes are the CDP network resource type names a session may block
var resourceTypes = map[string]bool{
	"Document": true, "Stylesheet": true, "Image": true, "Media": true,
	"Font": true, "Script": true, "TextTrack": true, "XHR": true,
	"Fetch": true, "Prefetch": true, "EventSource": true, "WebSocket": true,
	"Manifest": true, "SignedExchange": true, "Ping": true,
	"CSPViolationReport": true, "Preflight": true, "Other": true,
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("resource_type", func(fl validator.FieldLevel) bool {
		return resourceTypes[fl.Field().String()]
	})
	return v
}

func validate(c *Config) error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if err := urlutil.ValidateURL(c.Target.BaseURL, urlutil.WebSchemes...); err != nil {
		return fmt.Errorf("target.base_url: %w", err)
	}
	if c.Selectors.NoResultsPattern != "" {
		if _, err := regexp.Compile(c.Selectors.NoResultsPattern); err != nil {
			return fmt.Errorf("selectors.no_results_pattern: %w", err)
		}
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool.min_size (%d) exceeds pool.max_size (%d)", c.Pool.MinSize, c.Pool.MaxSize)
	}
	if c.Pool.MaxSize > DefaultMaxBrowserPoolSize {
		return fmt.Errorf("pool.max_size must be between 1 and %d", DefaultMaxBrowserPoolSize)
	}
	for _, p := range c.Browser.Proxies {
		if err := urlutil.ValidateURL(p, urlutil.ProxySchemes...); err != nil {
			return fmt.Errorf("browser.proxies: %w", err)
		}
	}
	if _, err := headers.ParseHeaders(c.Browser.Headers); err != nil {
		return fmt.Errorf("browser.headers: %w", err)
	}
	return nil
}

// HeaderMap returns the configured extra headers keyed by name
func (c *Config) HeaderMap() map[string]string {
	m, err := headers.ParseHeaders(c.Browser.Headers)
	if err != nil {
		return nil
	}
	return m
}
