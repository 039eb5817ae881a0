package history

import (
	"context"
	"fmt"
	"time"
)

// Store persists records by job id. Save replaces the whole record
// atomically; a reader never observes a partially written record.
type Store interface {
	// Load returns the record of id, empty when none exists.
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id string, rec Record) error
	// Delete drops the record of id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// IDs lists the ids that have a stored record.
	IDs(ctx context.Context) ([]string, error)
}

// Fetch statuses recorded in the fetch log.
const (
	FetchChanged     = "changed"
	FetchUnchanged   = "unchanged"
	FetchNotModified = "not_modified"
	FetchIgnored     = "ignored"
	FetchError       = "error"
	FetchFilterError = "filter_error"
)

// FetchLogEntry records one job run.
type FetchLogEntry struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMs  int64     `json:"duration_ms"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// FetchLogger is implemented by stores that keep a fetch log.
type FetchLogger interface {
	LogFetch(ctx context.Context, e FetchLogEntry) error
	// FetchLog returns the newest entries of id first. limit <= 0 means 50.
	FetchLog(ctx context.Context, id string, limit int) ([]FetchLogEntry, error)
}

// StoreError reports a failed store operation on one job's record.
type StoreError struct {
	JobID string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("history: %s %s: %v", e.Op, e.JobID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
