package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// WebSchemes are accepted for page URLs
var WebSchemes = []string{"http", "https"}

// ProxySchemes are accepted for proxy servers
var ProxySchemes = []string{"http", "https", "socks5"}

// ValidateURL checks that urlStr is absolute, has a host, and uses one of
// schemes (WebSchemes when none are given).
func ValidateURL(urlStr string, schemes ...string) error {
	if len(schemes) == 0 {
		schemes = WebSchemes
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	ok := false
	for _, s := range schemes {
		if strings.EqualFold(parsed.Scheme, s) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid URL scheme: must be one of %s, got %q", strings.Join(schemes, ", "), parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}

	return nil
}

// Host returns the lower-cased host of urlStr, or "" if it does not parse
func Host(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
