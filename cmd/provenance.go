package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundamentals/internal/model"
)

var provenanceJSON bool

var provenanceCmd = &cobra.Command{
	Use:   "provenance <snapshot-id>",
	Short: "Show which provider supplied each field of a snapshot",
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

		rows, err := st.GetProvenance(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "provenance")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No provenance recorded.")
			return nil
		}

		if provenanceJSON {
			return writeJSON(os.Stdout, rows)
		}
		formatProvenance(os.Stdout, rows)
		return nil
	},
}

func init() {
	provenanceCmd.Flags().BoolVar(&provenanceJSON, "json", false, "print rows as JSON")
	rootCmd.AddCommand(provenanceCmd)
}

// formatProvenance writes a table of provenance rows to w, with a per-source
// tally at the end.
func formatProvenance(out io.Writer, rows []model.FieldProvenance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCOPE\tPERIOD\tFIELD\tSOURCE")

	counts := make(map[model.Source]int)
	for _, r := range rows {
		period := r.Period
		if period == "" {
			period = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Scope, period, r.FieldKey, r.Winner)
		counts[r.Winner]++
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d fields:", len(rows))
	for _, src := range slices.Sorted(maps.Keys(counts)) {
		_, _ = fmt.Fprintf(out, " %s(%d)", src, counts[src])
	}
	_, _ = fmt.Fprintln(out)
}
