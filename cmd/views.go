package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/engine"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/internal/scorer"
	"github.com/sells-group/deal-health/internal/store"
	"github.com/sells-group/deal-health/internal/summary"
)

var (
	asOfFlag   string
	formatFlag string
)

// runView loads the env, computes one view and renders it.
func runView[T any](cmd *cobra.Command, fetch func(eng *engine.Engine, ctx context.Context, asOf, now time.Time) (T, error), table func(io.Writer, T)) error {
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

	v, err := fetch(env.Engine, ctx, asOf, time.Now())
	if err != nil {
		return eris.Wrap(err, cmd.Name())
	}
	return render(os.Stdout, v, table)
}

func render[T any](out io.Writer, v T, table func(io.Writer, T)) error {
	switch formatFlag {
	case formatJSON:
		return printJSON(out, v)
	case formatTable, "":
		table(out, v)
		return nil
	default:
		return eris.Errorf("unknown --format %q (want table or json)", formatFlag)
	}
}

var riskCmd = &cobra.Command{
	Use:         "risk",
	Short:       "Classify open deals by risk",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		atRiskOnly, _ := cmd.Flags().GetBool("at-risk")
		return runView(cmd, func(eng *engine.Engine, ctx context.Context, asOf, now time.Time) ([]model.RiskFlags, error) {
			flags, err := eng.Risk(ctx, asOf, now)
			if err != nil || !atRiskOnly {
				return flags, err
			}
			return risk.AtRisk(flags), nil
		}, formatRisk)
	},
}

var engagementCmd = &cobra.Command{
	Use:         "engagement",
	Short:       "Show multi-threading and recency health of open deals",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Engagement, formatEngagement)
	},
}

var focusCmd = &cobra.Command{
	Use:         "focus",
	Short:       "Score open deals by focus priority",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		save, _ := cmd.Flags().GetBool("save")

		asOf, err := parseAsOf(asOfFlag)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runID, _ := cmd.Flags().GetString("run"); runID != "" {
			pg, err := postgresStore(env)
			if err != nil {
				return err
			}
			scores, err := scorer.LoadFocusRun(ctx, pg.Pool(), runID)
			if err != nil {
				return err
			}
			return render(os.Stdout, scores, formatFocus)
		}

		now := time.Now()
		scores, err := env.Engine.Focus(ctx, asOf, now)
		if err != nil {
			return eris.Wrap(err, "focus")
		}
		if save {
			if err := saveFocus(ctx, env, scores, asOf, now); err != nil {
				return err
			}
		}
		return render(os.Stdout, scores, formatFocus)
	},
}

// postgresStore returns the postgres backend. Only it keeps scoring history.
func postgresStore(env *cliEnv) (*store.PostgresStore, error) {
	pg, ok := env.Store.(*store.PostgresStore)
	if !ok {
		return nil, eris.New("focus --save and --run require the postgres store")
	}
	return pg, nil
}

// saveFocus records a scoring run.
func saveFocus(ctx context.Context, env *cliEnv, scores []model.FocusScore, asOf, now time.Time) error {
	pg, err := postgresStore(env)
	if err != nil {
		return err
	}

	resolved, err := env.Engine.ResolveAsOf(ctx, asOf, now)
	if err != nil {
		return err
	}

	runID, err := scorer.SaveFocusScores(ctx, pg.Pool(), scores, resolved, scorer.ConfigHash(cfg.Scorer))
	if err != nil {
		return eris.Wrap(err, "focus save")
	}
	zap.L().Info("focus scores saved", zap.String("run_id", runID), zap.Int("scores", len(scores)))
	return nil
}

var zombiesCmd = &cobra.Command{
	Use:         "zombies",
	Short:       "List deals excluded from active pipeline metrics",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Zombies, formatZombies)
	},
}

var movementsCmd = &cobra.Command{
	Use:         "movements",
	Short:       "List stage transitions within the lookback window",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Movements, formatMovements)
	},
}

var slippageCmd = &cobra.Command{
	Use:         "slippage",
	Short:       "List deals whose close date was pushed out",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Slippage, formatSlippage)
	},
}

var paceCmd = &cobra.Command{
	Use:         "pace",
	Short:       "Show quarterly pace against target",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Pace, formatPace)
	},
}

var leaderboardCmd = &cobra.Command{
	Use:         "leaderboard",
	Short:       "Show per-owner rollups for 7d, 30d and quarter-to-date",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Leaderboard, formatLeaderboard)
	},
}

var rebookCmd = &cobra.Command{
	Use:         "rebook",
	Short:       "Summarize deals held by the rebook coordinator",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).PendingRebook, formatRebook)
	},
}

var agingCmd = &cobra.Command{
	Use:         "aging",
	Short:       "Rate time in stage of open deals by stage family",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Aging, formatAging)
	},
}

var overviewCmd = &cobra.Command{
	Use:         "overview",
	Short:       "Show the pipeline overview",
	Annotations: mode("query"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Overview, formatOverview)
	},
}

var summaryCmd = &cobra.Command{
	Use:         "summary",
	Short:       "Write a narrative pipeline summary",
	Annotations: mode("summary"),
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runView(cmd, (*engine.Engine).Summary, func(out io.Writer, s summary.Summary) {
			_, _ = fmt.Fprintln(out, s.Text)
			if s.FallbackReason != "" {
				zap.L().Info("summary used template fallback", zap.String("reason", s.FallbackReason))
			}
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asOfFlag, "as-of", "", "evaluation date YYYY-MM-DD (default latest snapshot)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", formatTable, "output format (table, json)")

	riskCmd.Flags().Bool("at-risk", false, "only show at-risk deals")
	focusCmd.Flags().Bool("save", false, "record the scoring run (postgres only)")
	focusCmd.Flags().String("run", "", "show a recorded scoring run instead of scoring (postgres only)")

	for _, c := range []*cobra.Command{
		riskCmd, engagementCmd, focusCmd, zombiesCmd, movementsCmd, slippageCmd,
		paceCmd, leaderboardCmd, rebookCmd, agingCmd, overviewCmd, summaryCmd,
	} {
		rootCmd.AddCommand(c)
	}
}
