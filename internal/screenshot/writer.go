package screenshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "20060102T150405.000"

var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", "..", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// Writer stores diagnostic PNGs as <identifier>_<step>_<timestamp>.png
// under a single directory, created on first use.
type Writer struct {
	dir     string
	mkdirMu sync.Mutex
	made    bool
}

// NewWriter creates a Writer for dir
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Save writes png and returns the file path
func (w *Writer) Save(identifier, step string, png []byte, at time.Time) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty screenshot for %s", identifier)
	}
	if err := w.ensureDir(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s_%s.png",
		sanitize(identifier), sanitize(step), at.UTC().Format(timestampLayout))
	path := filepath.Join(w.dir, name)

	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (w *Writer) ensureDir() error {
	w.mkdirMu.Lock()
	defer w.mkdirMu.Unlock()
	if w.made {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	w.made = true
	return nil
}

// sanitize keeps a path component free of separators and traversal
func sanitize(s string) string {
	s = unsafeChars.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
