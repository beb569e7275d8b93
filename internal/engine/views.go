package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/movement"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/internal/rollup"
	"github.com/sells-group/deal-health/internal/summary"
)

// View names double as cache key prefixes and metric labels.
const (
	ViewRisk          = "risk"
	ViewEngagement    = "engagement"
	ViewFocus         = "focus"
	ViewZombies       = "zombies"
	ViewMovements     = "movements"
	ViewSlippage      = "slippage"
	ViewPace          = "pace"
	ViewLeaderboard   = "leaderboard"
	ViewPendingRebook = "pending_rebook"
	ViewAging         = "aging"
	ViewOverview      = "overview"
	ViewDigest        = "digest"
)

// rebookTopN bounds the deals listed in the pending-rebook view.
const rebookTopN = 5

// Risk returns the flags of every open, non-zombie deal ordered by value.
func (e *Engine) Risk(ctx context.Context, asOf, now time.Time) ([]model.RiskFlags, error) {
	return view(ctx, e, ViewRisk, asOf, now, func(_ context.Context, s *state) ([]model.RiskFlags, error) {
		_, flags := s.open()
		out := append([]model.RiskFlags(nil), flags...)
		risk.SortByValue(out)
		return out, nil
	})
}

// Engagement returns the threading and health analysis of open, non-zombie
// deals in value order.
func (e *Engine) Engagement(ctx context.Context, asOf, now time.Time) ([]model.Engagement, error) {
	return view(ctx, e, ViewEngagement, asOf, now, func(_ context.Context, s *state) ([]model.Engagement, error) {
		deals, flags := s.open()
		order := make([]model.RiskFlags, len(flags))
		copy(order, flags)
		risk.SortByValue(order)

		byID := make(map[string]int, len(deals))
		for i, d := range deals {
			byID[d.EntityID] = i
		}
		sorted := make([]model.Deal, len(order))
		for j, f := range order {
			sorted[j] = deals[byID[f.EntityID]]
		}
		return e.analyzer.AnalyzeAll(sorted, order, s.now), nil
	})
}

// Focus returns focus scores of open, non-zombie deals, highest first.
func (e *Engine) Focus(ctx context.Context, asOf, now time.Time) ([]model.FocusScore, error) {
	return view(ctx, e, ViewFocus, asOf, now, func(_ context.Context, s *state) ([]model.FocusScore, error) {
		return e.scores(s), nil
	})
}

func (e *Engine) scores(s *state) []model.FocusScore {
	deals, flags := s.open()
	return e.focus.ScoreAll(deals, flags, s.now)
}

// Zombies returns the open deals excluded from active pipeline metrics.
func (e *Engine) Zombies(ctx context.Context, asOf, now time.Time) ([]model.Zombie, error) {
	return view(ctx, e, ViewZombies, asOf, now, func(_ context.Context, s *state) ([]model.Zombie, error) {
		return s.zombies, nil
	})
}

// Movements returns stage transitions within the configured lookback ending
// on the as-of date.
func (e *Engine) Movements(ctx context.Context, asOf, now time.Time) ([]model.MovementEvent, error) {
	return view(ctx, e, ViewMovements, asOf, now, func(_ context.Context, s *state) ([]model.MovementEvent, error) {
		return movement.Window(e.tracker.Track(s.rows, s.asOf), s.asOf, e.cfg.Movement.LookbackDays), nil
	})
}

// Slippage returns close-date pushes observed within the configured lookback.
func (e *Engine) Slippage(ctx context.Context, asOf, now time.Time) ([]model.Slippage, error) {
	return view(ctx, e, ViewSlippage, asOf, now, func(_ context.Context, s *state) ([]model.Slippage, error) {
		return e.slippage(s), nil
	})
}

func (e *Engine) slippage(s *state) []model.Slippage {
	start := s.asOf.AddDate(0, 0, -e.cfg.Movement.LookbackDays)
	var out []model.Slippage
	for _, sl := range e.tracker.Slippage(s.rows, s.asOf) {
		if sl.ObservedOn.After(start) {
			out = append(out, sl)
		}
	}
	return out
}

// Pace returns quarter pacing. Zombie deals do not count as open pipeline.
func (e *Engine) Pace(ctx context.Context, asOf, now time.Time) (model.PaceMetrics, error) {
	return view(ctx, e, ViewPace, asOf, now, func(_ context.Context, s *state) (model.PaceMetrics, error) {
		return e.pace.Compute(s.active(), s.now), nil
	})
}

// Leaderboard returns owner rollups for every window.
func (e *Engine) Leaderboard(ctx context.Context, asOf, now time.Time) (map[model.RollupWindow][]model.OwnerRollup, error) {
	return view(ctx, e, ViewLeaderboard, asOf, now, func(ctx context.Context, s *state) (map[model.RollupWindow][]model.OwnerRollup, error) {
		in := rollup.Input{
			Deals:   s.deals,
			Flags:   s.flags,
			Scores:  e.scores(s),
			Events:  e.tracker.Track(s.rows, s.asOf),
			Zombies: s.zombieIDs,
			Roster:  e.roster(s.rows),
		}
		return e.rollups.Rollup(ctx, in, s.now)
	})
}

// PendingRebook summarizes deals held by the rebook coordinator.
func (e *Engine) PendingRebook(ctx context.Context, asOf, now time.Time) (risk.RebookSummary, error) {
	return view(ctx, e, ViewPendingRebook, asOf, now, func(_ context.Context, s *state) (risk.RebookSummary, error) {
		_, flags := s.open()
		return risk.SummarizeRebook(flags, rebookTopN), nil
	})
}

// Aging rates time in stage of open, non-zombie deals, worst first.
func (e *Engine) Aging(ctx context.Context, asOf, now time.Time) (model.AgingReport, error) {
	return view(ctx, e, ViewAging, asOf, now, func(_ context.Context, s *state) (model.AgingReport, error) {
		deals, _ := s.open()
		return e.aging.Report(deals), nil
	})
}

// Overview returns the pipeline overview.
func (e *Engine) Overview(ctx context.Context, asOf, now time.Time) (model.PipelineOverview, error) {
	return view(ctx, e, ViewOverview, asOf, now, func(_ context.Context, s *state) (model.PipelineOverview, error) {
		return e.overview(s), nil
	})
}

func (e *Engine) overview(s *state) model.PipelineOverview {
	o := BuildOverview(s.asOf, s.deals, s.flags, s.zombieIDs, e.slippage(s))
	deals, _ := s.open()
	o.Aging = e.aging.Report(deals).Summary
	return o
}

// Digest returns the structured input of the narrative summary.
func (e *Engine) Digest(ctx context.Context, asOf, now time.Time) (summary.Digest, error) {
	return view(ctx, e, ViewDigest, asOf, now, func(_ context.Context, s *state) (summary.Digest, error) {
		_, flags := s.open()
		overview := e.overview(s)
		pm := e.pace.Compute(s.active(), s.now)
		rebook := risk.SummarizeRebook(flags, rebookTopN)
		return summary.BuildDigest(s.asOf, overview, flags, pm, rebook, e.topN()), nil
	})
}

// Summary narrates the digest. It never fails on the summary collaborator;
// only store failures are returned.
func (e *Engine) Summary(ctx context.Context, asOf, now time.Time) (summary.Summary, error) {
	d, err := e.Digest(ctx, asOf, now)
	if err != nil {
		return summary.Summary{}, err
	}
	return e.summarizer.Summarize(ctx, d), nil
}

// Warm computes the dashboard views for the latest observation date so the
// first reads after an ingest hit the cache.
func (e *Engine) Warm(ctx context.Context, now time.Time) error {
	var latest time.Time
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { _, err := e.Overview(gctx, latest, now); return err })
	g.Go(func() error { _, err := e.Risk(gctx, latest, now); return err })
	g.Go(func() error { _, err := e.Focus(gctx, latest, now); return err })
	g.Go(func() error { _, err := e.Pace(gctx, latest, now); return err })
	g.Go(func() error { _, err := e.Leaderboard(gctx, latest, now); return err })
	g.Go(func() error { _, err := e.PendingRebook(gctx, latest, now); return err })
	return g.Wait()
}

func (e *Engine) topN() int {
	if e.cfg.Engine.TopN > 0 {
		return e.cfg.Engine.TopN
	}
	return 10
}

// active returns every deal except zombies.
func (s *state) active() []model.Deal {
	out := make([]model.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		if _, zombie := s.zombieIDs[d.EntityID]; !zombie {
			out = append(out, d)
		}
	}
	return out
}

// roster lists every rep attributed on any snapshot through the as-of date
// so owners whose deals moved on still get a leaderboard row.
func (e *Engine) roster(rows []model.DealSnapshot) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		rep := e.norm.Resolve(r).AttributedRep
		if rep == "" {
			continue
		}
		if _, ok := seen[rep]; ok {
			continue
		}
		seen[rep] = struct{}{}
		out = append(out, rep)
	}
	return out
}
