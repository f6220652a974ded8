// internal/engine/batch/chunk.go
package batch

import (
	"errors"
	"strings"
)

var (
	errEmptyIdentifier   = errors.New("empty identifier")
	errInvalidIdentifier = errors.New("invalid identifier: contains whitespace or URL delimiters")
)

// Dedupe drops repeated identifiers, keeping first-seen order. Identifiers
// are compared exactly as given.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CheckIdentifier rejects identifiers that cannot name a title page
func CheckIdentifier(id string) error {
	if strings.TrimSpace(id) == "" {
		return errEmptyIdentifier
	}
	if strings.ContainsAny(id, " \t\r\n/?#") {
		return errInvalidIdentifier
	}
	return nil
}

// Chunk splits ids into consecutive groups of at most size
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
