package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/model"
	"github.com/sells-group/fundamentals/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and prune stored reconciliation snapshots",
}

// -- snapshots list --

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		symbol, _ := cmd.Flags().GetString("symbol")
		limit, _ := cmd.Flags().GetInt("limit")

		snaps, err := st.ListSnapshots(ctx, store.SnapshotFilter{
			Symbol: strings.ToUpper(symbol),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "snapshots list")
		}

		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}

		formatSnapshotsList(os.Stdout, snaps)
		return nil
	},
}

// -- snapshots show --

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Print a stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := st.GetSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "snapshots show")
		}
		return writeJSON(os.Stdout, snap)
	},
}

// -- snapshots prune --

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		days, _ := cmd.Flags().GetInt("older-than-days")
		if days <= 0 {
			days = cfg.Cache.RetentionDays
		}
		if days <= 0 {
			return eris.New("snapshots prune: retention must be at least one day")
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		n, err := st.PruneSnapshots(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "snapshots prune")
		}

		zap.L().Info("snapshots pruned", zap.Int("deleted", n), zap.Time("cutoff", cutoff))
		fmt.Fprintf(os.Stdout, "Deleted %d snapshots older than %s.\n", n, cutoff.Format(time.DateOnly))
		return nil
	},
}

func init() {
	snapshotsListCmd.Flags().String("symbol", "", "filter by ticker symbol")
	snapshotsListCmd.Flags().Int("limit", 50, "max number of snapshots to display")

	snapshotsPruneCmd.Flags().Int("older-than-days", 0, "retention in days (default cache.retention_days)")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.AddCommand(snapshotsPruneCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

// formatSnapshotsList writes a tabular list of snapshot headers to w.
func formatSnapshotsList(out io.Writer, snaps []model.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSYMBOL\tCREATED\tPHASES\tGAPS")

	for _, s := range snaps {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		gaps := strings.Join(s.Gaps, ",")
		if gaps == "" {
			gaps = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id,
			s.Symbol,
			s.CreatedAt.Format("2006-01-02 15:04"),
			phaseSummary(s.Phases),
			gaps,
		)
	}
	_ = w.Flush()
}

// phaseSummary renders phases as "base ok, deep skipped, ...".
func phaseSummary(phases []model.PhaseOutcome) string {
	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		status := "ok"
		switch {
		case p.Failed():
			status = "failed"
		case !p.Ran:
			status = "skipped"
		}
		parts = append(parts, p.Name+" "+status)
	}
	return strings.Join(parts, ", ")
}
