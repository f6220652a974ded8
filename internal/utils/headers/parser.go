package headers

import (
	"fmt"
	"strings"
)

// ParseHeaders converts "Key: Value" strings into a map. Malformed entries
// and entries with an empty key are rejected.
func ParseHeaders(h []string) (map[string]string, error) {
	m := make(map[string]string, len(h))
	for _, hdr := range h {
		key, value, ok := strings.Cut(hdr, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed header %q, want \"Key: Value\"", hdr)
		}
		if strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("header name %q contains whitespace", key)
		}
		m[key] = strings.TrimSpace(value)
	}
	return m, nil
}
