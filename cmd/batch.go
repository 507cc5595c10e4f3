package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/resilience"
)

var (
	batchFile     string
	batchLimit    int
	batchRefresh  bool
	batchRetryDLQ bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [symbol...]",
	Short: "Reconcile many companies concurrently",
	Long:  "Reconciles the given symbols (and those listed in --file) with bounded concurrency. Failures go to the dead letter queue; --retry-dlq adds entries that are due for another attempt.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		symbols := args
		if batchFile != "" {
			f, err := os.Open(batchFile)
			if err != nil {
				return eris.Wrap(err, "batch: open symbol file")
			}
			fromFile, err := readSymbols(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			symbols = append(symbols, fromFile...)
		}

		jobs := newJobs(symbols)
		if batchRetryDLQ {
			entries, err := env.Store.DequeueDLQ(ctx, resilience.DLQFilter{Limit: batchLimit})
			if err != nil {
				return eris.Wrap(err, "batch: dequeue dead letters")
			}
			jobs = mergeRetries(jobs, entries)
		}
		if batchLimit > 0 && len(jobs) > batchLimit {
			jobs = jobs[:batchLimit]
		}

		refresh := batchRefresh
		sum := processBatch(ctx, jobs, cfg.Batch.MaxConcurrentCompanies, env.Store, func(ctx context.Context, symbol string) (*model.Snapshot, error) {
			return env.Service.Get(ctx, symbol, refresh)
		})

		if n, err := env.Store.CountDLQ(ctx); err == nil {
			zap.L().Info("batch: dead letter queue", zap.Int("entries", n))
		}
		if sum.Failed > 0 && sum.Succeeded == 0 {
			return eris.Errorf("batch: all %d companies failed", sum.Failed)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one symbol per line (# starts a comment)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of companies to process")
	batchCmd.Flags().BoolVar(&batchRefresh, "refresh", false, "ignore cached snapshots")
	batchCmd.Flags().BoolVar(&batchRetryDLQ, "retry-dlq", false, "also retry dead letter entries that are due")
	rootCmd.AddCommand(batchCmd)
}

// readSymbols parses symbols separated by whitespace or commas. Text after
// '#' on a line is ignored.
func readSymbols(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		out = append(out, strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })...)
	}
	return out, eris.Wrap(sc.Err(), "batch: read symbols")
}

// batchJob is one symbol to reconcile. entry is set when the job retries a
// dead letter.
type batchJob struct {
	symbol string
	entry  *resilience.DLQEntry
}

// newJobs normalizes and de-duplicates symbols, keeping their order.
func newJobs(symbols []string) []batchJob {
	seen := make(map[string]bool, len(symbols))
	jobs := make([]batchJob, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		jobs = append(jobs, batchJob{symbol: s})
	}
	return jobs
}

// mergeRetries attaches dead letter entries to matching jobs and appends
// the rest.
func mergeRetries(jobs []batchJob, entries []resilience.DLQEntry) []batchJob {
	idx := make(map[string]int, len(jobs))
	for i, j := range jobs {
		idx[j.symbol] = i
	}
	for _, e := range entries {
		sym := strings.ToUpper(e.Symbol)
		if i, ok := idx[sym]; ok {
			if jobs[i].entry == nil {
				jobs[i].entry = &e
			}
			continue
		}
		idx[sym] = len(jobs)
		jobs = append(jobs, batchJob{symbol: sym, entry: &e})
	}
	return jobs
}

// deadLetters is the part of the store a batch uses to track failures.
type deadLetters interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// reconcileFunc reconciles one symbol into a stored snapshot.
type reconcileFunc func(ctx context.Context, symbol string) (*model.Snapshot, error)

type batchSummary struct {
	Succeeded int64
	Failed    int64
}

// processBatch reconciles jobs with at most concurrency in flight. Each
// company is still reconciled sequentially; one failure never aborts the
// batch.
func processBatch(ctx context.Context, jobs []batchJob, concurrency int, dlq deadLetters, run reconcileFunc) batchSummary {
	if len(jobs) == 0 {
		zap.L().Info("batch: no symbols to process")
		return batchSummary{}
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("companies", len(jobs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	var dlqMu sync.Mutex

	for _, job := range jobs {
		g.Go(func() error {
			log := zap.L().With(zap.String("symbol", job.symbol))

			snap, err := run(gctx, job.symbol)
			if err != nil {
				failed.Add(1)
				log.Error("batch: reconcile failed", zap.Error(err))
				if gctx.Err() == nil && dlq != nil {
					dlqMu.Lock()
					defer dlqMu.Unlock()
					if dErr := recordFailure(gctx, dlq, job, err, time.Now().UTC()); dErr != nil {
						log.Warn("batch: failed to record dead letter", zap.Error(dErr))
					}
				}
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			if job.entry != nil && dlq != nil {
				if dErr := dlq.RemoveDLQ(gctx, job.entry.ID); dErr != nil {
					log.Warn("batch: failed to clear dead letter", zap.Error(dErr))
				}
			}
			log.Info("batch: reconcile complete",
				zap.String("snapshot_id", snap.ID),
				zap.Strings("gaps", snap.Gaps),
			)
			return nil
		})
	}
	_ = g.Wait()

	sum := batchSummary{Succeeded: succeeded.Load(), Failed: failed.Load()}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", sum.Succeeded),
		zap.Int64("failed", sum.Failed),
	)
	return sum
}

// recordFailure queues a first failure or reschedules a retried one.
func recordFailure(ctx context.Context, dlq deadLetters, job batchJob, err error, now time.Time) error {
	if job.entry == nil {
		return dlq.EnqueueDLQ(ctx, resilience.NewDLQEntry(job.symbol, err, now))
	}
	e := *job.entry
	e.RetryCount++
	return dlq.IncrementDLQRetry(ctx, e.ID, e.NextRetry(now), err.Error())
}
