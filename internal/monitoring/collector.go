// Package monitoring watches reconciliation health: how often each phase
// fails, which gaps keep recurring and how deep the dead letter queue is.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/store"
)

const pageSize = 500

// PhaseMetrics counts the outcomes of one phase across snapshots.
type PhaseMetrics struct {
	Ran      int     `json:"ran"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	FailRate float64 `json:"fail_rate"`
}

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	Snapshots int                     `json:"snapshots"`
	Symbols   int                     `json:"symbols"`
	Phases    map[string]PhaseMetrics `json:"phases"`
	// GapCounts is how many snapshots still had each gap after merging.
	GapCounts map[string]int `json:"gap_counts"`
	DLQDepth  int            `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the part of store.Store the collector reads.
type Source interface {
	ListSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]model.Snapshot, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from stored snapshot headers.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect summarizes snapshots created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Phases:        map[string]PhaseMetrics{},
		GapCounts:     map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	symbols := map[string]struct{}{}

	// Headers come back newest first, so paging stops at the first one
	// older than the cutoff.
	for offset := 0; ; offset += pageSize {
		page, err := c.src.ListSnapshots(ctx, store.SnapshotFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list snapshots")
		}
		done := len(page) < pageSize
		for _, s := range page {
			if s.CreatedAt.Before(cutoff) {
				done = true
				break
			}
			snap.Snapshots++
			symbols[s.Symbol] = struct{}{}
			for _, p := range s.Phases {
				m := snap.Phases[p.Name]
				switch {
				case p.Failed():
					m.Ran++
					m.Failed++
				case p.Ran:
					m.Ran++
				default:
					m.Skipped++
				}
				snap.Phases[p.Name] = m
			}
			for _, g := range s.Gaps {
				snap.GapCounts[g]++
			}
		}
		if done {
			break
		}
	}
	snap.Symbols = len(symbols)

	for name, m := range snap.Phases {
		if m.Ran > 0 {
			m.FailRate = float64(m.Failed) / float64(m.Ran)
			snap.Phases[name] = m
		}
	}

	depth, err := c.src.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	return snap, nil
}
