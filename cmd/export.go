package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deal-health/internal/export"
)

var exportCmd = &cobra.Command{
	Use:         "export",
	Short:       "Write every view to an xlsx workbook",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf, err := parseAsOf(asOfFlag)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := export.Gather(ctx, env.Engine, asOf, time.Now())
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("deal-health-%s.xlsx", report.AsOf.Format(time.DateOnly))
		}
		if err := export.Save(report, out); err != nil {
			return eris.Wrap(err, "export")
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output path (default deal-health-<as-of>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
