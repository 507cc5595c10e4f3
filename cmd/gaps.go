package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/fundamentals/internal/gap"
)

var gapsRefresh bool

var gapsCmd = &cobra.Command{
	Use:   "gaps <symbol>",
	Short: "Show which critical data is still missing for a company",
	Long:  "Analyzes the latest reconciled record for a company (reconciling it first when no fresh snapshot exists) and prints the gap report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "gaps")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Service.Get(ctx, args[0], gapsRefresh)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, gapResponse{
			Symbol:     snap.Symbol,
			SnapshotID: snap.ID,
			Report:     gap.Analyze(snap.Record, cfg.Reconcile.Config),
		})
	},
}

// gapResponse is the gap report of one snapshot, shared with the HTTP API.
type gapResponse struct {
	Symbol     string     `json:"symbol"`
	SnapshotID string     `json:"snapshot_id"`
	Report     gap.Report `json:"report"`
}

func init() {
	gapsCmd.Flags().BoolVar(&gapsRefresh, "refresh", false, "reconcile again before analyzing")
	rootCmd.AddCommand(gapsCmd)
}
