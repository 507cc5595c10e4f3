package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Dead letter error types.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DefaultMaxRetries bounds how often a failed symbol is retried.
const DefaultMaxRetries = 3

// DLQEntry is a symbol whose reconciliation could not be stored, queued for
// a later batch.
type DLQEntry struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter selects entries that are due for retry.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// NewDLQEntry records a first failure for symbol.
func NewDLQEntry(symbol string, err error, now time.Time) DLQEntry {
	e := DLQEntry{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Error:        err.Error(),
		ErrorType:    Classify(err),
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	e.NextRetryAt = e.NextRetry(now)
	return e
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetry schedules the next attempt with exponential backoff from one
// minute, capped at one hour.
func (e *DLQEntry) NextRetry(now time.Time) time.Time {
	p := Policy{InitialBackoff: time.Minute, MaxBackoff: time.Hour}
	return now.Add(p.Backoff(e.RetryCount))
}
