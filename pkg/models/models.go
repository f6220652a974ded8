package models

import (
	"context"
	"sort"
)

// TaskStatus is the lifecycle state of a ScrapeTask
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusSucceeded  TaskStatus = "succeeded"
	StatusFailed     TaskStatus = "failed"
)

// ScrapeTask is one unit of work: a single title identifier and its outcome.
// Only the orchestrator mutates a task.
type ScrapeTask struct {
	Identifier string              `json:"identifier"`
	Status     TaskStatus          `json:"status"`
	RetryCount int                 `json:"retry_count"`
	Records    []RawLocationRecord `json:"records,omitempty"`
	LastError  error               `json:"-"`
}

// NewScrapeTask creates a pending task for the given identifier
func NewScrapeTask(identifier string) *ScrapeTask {
	return &ScrapeTask{
		Identifier: identifier,
		Status:     StatusPending,
	}
}

// RawLocationRecord is one filming location as read from the page.
// Address is never empty in records handed to callers.
type RawLocationRecord struct {
	Address     string `json:"address"`
	Description string `json:"description,omitempty"`
}

// BatchResult describes the outcome of a batch scrape.
//
// Locations holds every identifier that completed, including titles that
// genuinely have zero locations (empty slice). Failed lists identifiers that
// could not be processed after all retries, with the reason in Errors.
type BatchResult struct {
	Locations map[string][]RawLocationRecord `json:"locations"`
	Failed    []string                       `json:"failed"`
	Errors    map[string]string              `json:"errors,omitempty"`
}

// NewBatchResult returns an empty, ready to use BatchResult
func NewBatchResult() *BatchResult {
	return &BatchResult{
		Locations: make(map[string][]RawLocationRecord),
		Failed:    []string{},
		Errors:    make(map[string]string),
	}
}

// Succeeded returns the identifiers present in the success map, sorted
func (r *BatchResult) Succeeded() []string {
	ids := make([]string, 0, len(r.Locations))
	for id := range r.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordCount returns the total number of location records across all titles
func (r *BatchResult) RecordCount() int {
	n := 0
	for _, recs := range r.Locations {
		n += len(recs)
	}
	return n
}

// LocationStore is the persistence collaborator: it upserts the raw records
// scraped for a title. How records are stored or geocoded is up to the
// implementation.
type LocationStore interface {
	UpsertLocations(ctx context.Context, identifier string, records []RawLocationRecord) error
}
