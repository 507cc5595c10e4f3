package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fundamentals/internal/monitoring"
)

var (
	statsHours int
	statsAlert bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent reconciliation health",
	Long:  "Counts phase outcomes, open gaps and dead letter depth over recent snapshots. With --alert the configured thresholds are checked and breaches sent to the webhook.",
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

		hours := statsHours
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}
		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if statsAlert {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			alerts := alerter.Evaluate(snap)
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("stats: thresholds checked", zap.Int("alerts", len(alerts)), zap.Int("sent", sent))
		}
		return writeJSON(os.Stdout, snap)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsHours, "hours", 0, "lookback window in hours (default from config)")
	statsCmd.Flags().BoolVar(&statsAlert, "alert", false, "evaluate alert thresholds and send breaches")
	rootCmd.AddCommand(statsCmd)
}
