package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-health/internal/store"
)

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List snapshot ingest runs",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListIngestRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		return render(os.Stdout, runs, formatRunsList)
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}
