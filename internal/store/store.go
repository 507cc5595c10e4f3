// Package store persists reconciliation snapshots, their field provenance
// and the dead letter queue of symbols that failed to reconcile.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/resilience"
)

// ErrNotFound is returned by lookups by ID that match nothing.
var ErrNotFound = eris.New("store: not found")

// SnapshotFilter narrows ListSnapshots.
type SnapshotFilter struct {
	Symbol string `json:"symbol,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store is the persistence layer behind the reconcile service and the CLI.
type Store interface {
	// SaveSnapshot assigns an ID when empty and writes the snapshot.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	// LatestSnapshot returns the newest snapshot for symbol younger than
	// maxAge, or nil when there is none. maxAge <= 0 disables the age check.
	LatestSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.Snapshot, error)
	// ListSnapshots returns snapshot headers without the record body, newest
	// first.
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error)
	// PruneSnapshots deletes snapshots created before cutoff together with
	// their provenance and returns how many were removed.
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error)

	SaveProvenance(ctx context.Context, rows []model.FieldProvenance) error
	GetProvenance(ctx context.Context, snapshotID string) ([]model.FieldProvenance, error)

	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
