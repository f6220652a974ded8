package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// readIdentifiers reads one identifier per line. Blank lines and lines
// starting with # are skipped; anything after the first whitespace on a
// line is ignored.
func readIdentifiers(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, strings.Fields(line)[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}
	return ids, nil
}

// collectIdentifiers merges positional ids with those read from path
// ("-" for stdin).
func collectIdentifiers(args []string, path string) ([]string, error) {
	ids := append([]string(nil), args...)
	if path == "" {
		return ids, nil
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	fromFile, err := readIdentifiers(r)
	if err != nil {
		return nil, err
	}
	return append(ids, fromFile...), nil
}
