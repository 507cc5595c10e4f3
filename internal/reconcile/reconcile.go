// Package reconcile runs the phased fetch-merge-analyze pipeline that turns
// several providers' views of a company into one record.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/gap"
	"github.com/sells-group/fundamentals/internal/merge"
	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/process"
	"github.com/sells-group/fundamentals/internal/provider"
)

// Phase names, in execution order.
const (
	PhaseBase     = "base"
	PhaseOfficial = "official"
	PhaseForecast = "forecast"
	PhaseDeep     = "deep"
	PhaseFallback = "fallback"
)

// Options configures a Reconciler.
type Options struct {
	// EfficiencyMode skips the deep phase unless the gap report asks for it.
	EfficiencyMode bool
	Gaps           gap.Config
	// Priorities overrides the built-in field priority table when set.
	Priorities *model.PriorityTable
}

// Result is the outcome of one reconciliation run.
type Result struct {
	Record *model.Record
	Report gap.Report
	Phases []model.PhaseOutcome
	Stats  map[model.Source]int
}

// Reconciler runs the five reconciliation phases against the registered
// providers. It holds no per-run state and is safe for concurrent use; a
// single run is strictly sequential.
type Reconciler struct {
	providers *provider.Registry
	opts      Options
	now       func() time.Time
}

// New creates a Reconciler.
func New(providers *provider.Registry, opts Options) *Reconciler {
	if providers == nil {
		providers = provider.NewRegistry()
	}
	if opts.Gaps.MinHistoryYears <= 0 {
		opts.Gaps.MinHistoryYears = gap.DefaultMinHistoryYears
	}
	return &Reconciler{providers: providers, opts: opts, now: time.Now}
}

// Reconcile returns the reconciled record for symbol. It never fails: any
// provider error degrades to a less complete record.
func (r *Reconciler) Reconcile(ctx context.Context, symbol string) *model.Record {
	return r.Run(ctx, symbol).Record
}

// Run reconciles symbol and reports what each phase did.
func (r *Reconciler) Run(ctx context.Context, symbol string) *Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	p := &pipeline{
		symbol:    symbol,
		providers: r.providers,
		merger:    merge.New(symbol, r.opts.Priorities),
	}
	res := &Result{}
	start := r.now()

	rec := model.NewRecord(symbol)
	rec = r.step(ctx, res, PhaseBase, rec, p.base)
	rec = r.step(ctx, res, PhaseOfficial, rec, p.official)
	rec = r.step(ctx, res, PhaseForecast, rec, p.forecast)
	report := r.analyze(rec, PhaseForecast)

	if reason := r.deepSkipReason(report); reason != "" {
		res.skip(PhaseDeep, reason)
	} else {
		rec = r.step(ctx, res, PhaseDeep, rec, p.deep)
		report = r.analyze(rec, PhaseDeep)
	}

	if reason := r.fallbackSkipReason(report); reason != "" {
		res.skip(PhaseFallback, reason)
	} else {
		rec = r.step(ctx, res, PhaseFallback, rec, p.fallback)
		report = r.analyze(rec, PhaseFallback)
	}

	out := process.Run(rec)
	out.MergeLog = p.merger.Log()
	out.ReconciledAt = r.now().UTC()

	res.Record = out
	res.Report = report
	res.Stats = p.merger.Stats()

	zap.L().Info("reconcile: complete",
		zap.String("symbol", symbol),
		zap.Int("income", len(out.Income)),
		zap.Int("balance", len(out.Balance)),
		zap.Int("cash_flow", len(out.CashFlow)),
		zap.Int("merges", len(out.MergeLog)),
		zap.Duration("elapsed", r.now().Sub(start)),
	)
	return res
}

func (r *Reconciler) deepSkipReason(report gap.Report) string {
	if r.providers.Get(model.SourceFMP) == nil {
		return "provider not registered"
	}
	if r.opts.EfficiencyMode && !report.NeedsDeepPhase && !report.History.Shallow {
		if report.Critical() {
			return "critical: " + report.CriticalError
		}
		return "no deep gaps"
	}
	return ""
}

// fallbackSkipReason never runs the fallback phase for a critical report: a
// record without a profile has no gaps to fill.
func (r *Reconciler) fallbackSkipReason(report gap.Report) string {
	if report.Critical() {
		return "critical: " + report.CriticalError
	}
	if !report.NeedsFallbackPhase {
		return "no fallback gaps"
	}
	if r.providers.Get(model.SourceAlphaVantage) == nil {
		return "provider not registered"
	}
	return ""
}

func (r *Reconciler) analyze(rec *model.Record, after string) gap.Report {
	report := gap.Analyze(rec, r.opts.Gaps)
	log := zap.L().With(zap.String("symbol", rec.Symbol), zap.String("after", after))
	if report.Critical() {
		log.Warn("reconcile: gap analysis", zap.String("critical", report.CriticalError))
		return report
	}
	log.Info("reconcile: gap analysis",
		zap.String("gaps", report.String()),
		zap.Bool("needs_deep", report.NeedsDeepPhase),
		zap.Bool("needs_fallback", report.NeedsFallbackPhase),
	)
	return report
}

type phaseFunc func(ctx context.Context, rec *model.Record) (*model.Record, error)

// step runs one phase. A phase derives a new record from a clone of rec; on
// error or panic its output is discarded and rec is carried forward.
func (r *Reconciler) step(ctx context.Context, res *Result, name string, rec *model.Record, fn phaseFunc) (out *model.Record) {
	log := zap.L().With(zap.String("symbol", rec.Symbol), zap.String("phase", name))
	outcome := model.PhaseOutcome{Name: name, Ran: true}
	start := r.now()
	log.Debug("reconcile: phase started")

	defer func() {
		if v := recover(); v != nil {
			err := eris.Errorf("reconcile: phase %s panicked: %v", name, v)
			log.Error("reconcile: phase failed", zap.Error(err))
			outcome.Error = err.Error()
			out = rec
		}
		outcome.Duration = r.now().Sub(start)
		res.Phases = append(res.Phases, outcome)
	}()

	next, err := fn(ctx, rec)
	if err != nil {
		log.Warn("reconcile: phase failed, continuing without its data", zap.Error(err))
		outcome.Error = err.Error()
		return rec
	}
	if next == nil {
		log.Debug("reconcile: phase returned no data")
		return rec
	}
	log.Info("reconcile: phase finished")
	return next
}

func (res *Result) skip(name, reason string) {
	zap.L().Info("reconcile: phase skipped", zap.String("phase", name), zap.String("reason", reason))
	res.Phases = append(res.Phases, model.PhaseOutcome{Name: name, Skipped: reason})
}
