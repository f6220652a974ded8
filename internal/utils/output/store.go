package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/law-makers/locscrape/pkg/models"
)

// StoreEntry is one line of a JSONLStore file
type StoreEntry struct {
	Identifier string                     `json:"identifier"`
	ScrapedAt  time.Time                  `json:"scraped_at"`
	Records    []models.RawLocationRecord `json:"records"`
}

// JSONLStore is a models.LocationStore that appends one JSON line per
// upsert. Readers keep the last line per identifier.
type JSONLStore struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	now  func() time.Time
}

// OpenJSONLStore opens (or creates) path for appending
func OpenJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &JSONLStore{file: f, enc: json.NewEncoder(f), now: time.Now}, nil
}

// UpsertLocations appends the records scraped for identifier
func (s *JSONLStore) UpsertLocations(ctx context.Context, identifier string, records []models.RawLocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []models.RawLocationRecord{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(StoreEntry{Identifier: identifier, ScrapedAt: s.now().UTC(), Records: records}); err != nil {
		return fmt.Errorf("upsert %s: %w", identifier, err)
	}
	return nil
}

// Close closes the underlying file
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
