package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/model"
)

// SnapshotStore persists reconciliation results.
type SnapshotStore interface {
	// LatestSnapshot returns the newest snapshot for symbol younger than
	// maxAge, or nil when there is none.
	LatestSnapshot(ctx context.Context, symbol string, maxAge time.Duration) (*model.Snapshot, error)
	// SaveSnapshot stores snap, assigning its ID when empty.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	SaveProvenance(ctx context.Context, rows []model.FieldProvenance) error
}

// Service reconciles symbols through a snapshot cache.
type Service struct {
	reconciler *Reconciler
	store      SnapshotStore
	ttl        time.Duration
}

// NewService creates a Service. A zero ttl disables cache reads.
func NewService(r *Reconciler, st SnapshotStore, ttl time.Duration) *Service {
	return &Service{reconciler: r, store: st, ttl: ttl}
}

// Get returns a stored snapshot younger than the cache TTL, or reconciles
// symbol afresh when there is none or refresh is set.
func (s *Service) Get(ctx context.Context, symbol string, refresh bool) (*model.Snapshot, error) {
	symbol = normalizeSymbol(symbol)
	if !refresh && s.ttl > 0 {
		snap, err := s.store.LatestSnapshot(ctx, symbol, s.ttl)
		if err != nil {
			zap.L().Warn("reconcile: cache lookup failed", zap.String("symbol", symbol), zap.Error(err))
		} else if snap != nil {
			zap.L().Debug("reconcile: using cached snapshot",
				zap.String("symbol", symbol),
				zap.String("snapshot_id", snap.ID),
			)
			return snap, nil
		}
	}
	return s.Refresh(ctx, symbol)
}

// Refresh reconciles symbol and stores the result with its field provenance.
func (s *Service) Refresh(ctx context.Context, symbol string) (*model.Snapshot, error) {
	res := s.reconciler.Run(ctx, symbol)
	rec := res.Record

	snap := &model.Snapshot{
		Symbol:    rec.Symbol,
		Record:    rec,
		Gaps:      res.Report.Gaps(),
		Phases:    res.Phases,
		CreatedAt: rec.ReconciledAt,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, eris.Wrapf(err, "reconcile: save snapshot for %s", rec.Symbol)
	}

	rows := model.FlattenMergeLog(snap.ID, rec.Symbol, rec.MergeLog, snap.CreatedAt)
	if err := s.store.SaveProvenance(ctx, rows); err != nil {
		return nil, eris.Wrapf(err, "reconcile: save provenance for %s", rec.Symbol)
	}
	return snap, nil
}

// normalizeSymbol matches the form snapshots are stored under.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
