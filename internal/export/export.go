// Package export writes the derived views to an XLSX workbook, one sheet
// per view.
package export

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
)

// Views is the subset of the engine an export reads.
type Views interface {
	Overview(ctx context.Context, asOf, now time.Time) (model.PipelineOverview, error)
	Risk(ctx context.Context, asOf, now time.Time) ([]model.RiskFlags, error)
	Focus(ctx context.Context, asOf, now time.Time) ([]model.FocusScore, error)
	Zombies(ctx context.Context, asOf, now time.Time) ([]model.Zombie, error)
	Movements(ctx context.Context, asOf, now time.Time) ([]model.MovementEvent, error)
	Slippage(ctx context.Context, asOf, now time.Time) ([]model.Slippage, error)
	Pace(ctx context.Context, asOf, now time.Time) (model.PaceMetrics, error)
	Leaderboard(ctx context.Context, asOf, now time.Time) (map[model.RollupWindow][]model.OwnerRollup, error)
	PendingRebook(ctx context.Context, asOf, now time.Time) (risk.RebookSummary, error)
	Aging(ctx context.Context, asOf, now time.Time) (model.AgingReport, error)
}

// Report holds every view for one as-of date.
type Report struct {
	AsOf        time.Time
	Overview    model.PipelineOverview
	Risk        []model.RiskFlags
	Focus       []model.FocusScore
	Zombies     []model.Zombie
	Movements   []model.MovementEvent
	Slippage    []model.Slippage
	Pace        model.PaceMetrics
	Leaderboard map[model.RollupWindow][]model.OwnerRollup
	Rebook      risk.RebookSummary
	Aging       model.AgingReport
}

// Gather computes every view concurrently. The report's as-of date is the
// one the overview resolved.
func Gather(ctx context.Context, v Views, asOf, now time.Time) (*Report, error) {
	var r Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		r.Overview, err = v.Overview(gctx, asOf, now)
		return eris.Wrap(err, "export: overview")
	})
	g.Go(func() (err error) {
		r.Risk, err = v.Risk(gctx, asOf, now)
		return eris.Wrap(err, "export: risk")
	})
	g.Go(func() (err error) {
		r.Focus, err = v.Focus(gctx, asOf, now)
		return eris.Wrap(err, "export: focus")
	})
	g.Go(func() (err error) {
		r.Zombies, err = v.Zombies(gctx, asOf, now)
		return eris.Wrap(err, "export: zombies")
	})
	g.Go(func() (err error) {
		r.Movements, err = v.Movements(gctx, asOf, now)
		return eris.Wrap(err, "export: movements")
	})
	g.Go(func() (err error) {
		r.Slippage, err = v.Slippage(gctx, asOf, now)
		return eris.Wrap(err, "export: slippage")
	})
	g.Go(func() (err error) {
		r.Pace, err = v.Pace(gctx, asOf, now)
		return eris.Wrap(err, "export: pace")
	})
	g.Go(func() (err error) {
		r.Leaderboard, err = v.Leaderboard(gctx, asOf, now)
		return eris.Wrap(err, "export: leaderboard")
	})
	g.Go(func() (err error) {
		r.Rebook, err = v.PendingRebook(gctx, asOf, now)
		return eris.Wrap(err, "export: rebook")
	})
	g.Go(func() (err error) {
		r.Aging, err = v.Aging(gctx, asOf, now)
		return eris.Wrap(err, "export: aging")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.AsOf = r.Overview.AsOf
	return &r, nil
}
