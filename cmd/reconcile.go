package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileRefresh    bool
	reconcileRecordOnly bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <symbol>",
	Short: "Reconcile one company and print the stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "reconcile")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Service.Get(ctx, args[0], reconcileRefresh)
		if err != nil {
			return err
		}

		zap.L().Info("reconcile: snapshot ready",
			zap.String("symbol", snap.Symbol),
			zap.String("snapshot_id", snap.ID),
			zap.Strings("gaps", snap.Gaps),
		)

		if reconcileRecordOnly {
			return writeJSON(os.Stdout, snap.Record)
		}
		return writeJSON(os.Stdout, snap)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileRefresh, "refresh", false, "ignore cached snapshots and fetch again")
	reconcileCmd.Flags().BoolVar(&reconcileRecordOnly, "record-only", false, "print only the reconciled record")
	rootCmd.AddCommand(reconcileCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
