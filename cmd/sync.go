package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/ingest"
	"github.com/sells-group/deal-health/internal/store"
)

var syncCmd = &cobra.Command{
	Use:         "sync",
	Short:       "Snapshot open and recently closed opportunities from Salesforce",
	Annotations: mode("sync"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		run, err := env.Ingestor.Run(ctx, salesforceSource(sf), time.Now())
		if err != nil {
			return eris.Wrap(err, "sync")
		}
		printRun(run)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:         "import <file>",
	Short:       "Import a snapshot batch from a JSON or YAML file",
	Args:        cobra.ExactArgs(1),
	Annotations: mode("import"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Ingestor.Run(ctx, ingest.NewFileSource(args[0]), time.Now())
		if err != nil {
			return eris.Wrap(err, "import")
		}
		printRun(run)
		return nil
	},
}

// scheduledSync runs one Salesforce ingest from the serve scheduler and
// warms the cache for the new batch.
func scheduledSync(ctx context.Context, env *cliEnv, src ingest.Source) {
	run, err := env.Ingestor.Run(ctx, src, time.Now())
	if err != nil {
		zap.L().Error("scheduled sync failed", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	zap.L().Info("scheduled sync complete",
		zap.String("run_id", run.ID),
		zap.Int64("deals_inserted", run.DealsInserted),
		zap.Int64("meetings_inserted", run.MeetingsInserted),
	)

	if err := env.Engine.Warm(ctx, time.Now()); err != nil {
		zap.L().Warn("cache warm failed", zap.Error(err))
	}
}

func printRun(run store.IngestRun) {
	if formatFlag == formatJSON {
		_ = printJSON(os.Stdout, run)
		return
	}
	fmt.Printf("Run %s (%s) observed %s: %d/%d deals, %d/%d meetings inserted\n",
		truncateID(run.ID), run.Source, date(run.ObservedOn),
		run.DealsInserted, run.DealsSeen, run.MeetingsInserted, run.MeetingsSeen)
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(importCmd)
}
