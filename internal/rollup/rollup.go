// Package rollup aggregates deals, movements and scores per owner over
// trailing and quarter-to-date windows and ranks owners per metric.
package rollup

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/pace"
)

// Windows lists every supported rollup window in display order.
var Windows = []model.RollupWindow{model.WindowTrailing7, model.WindowTrailing30, model.WindowQTD}

// Input is the derived state a rollup reads. Flags and Scores are matched
// to deals by entity id.
type Input struct {
	Deals   []model.Deal
	Flags   []model.RiskFlags
	Scores  []model.FocusScore
	Events  []model.MovementEvent
	Zombies map[string]struct{}
	// Roster lists owners that receive a row even without any deals.
	Roster []string
}

// Aggregator computes owner rollups.
type Aggregator struct {
	maxConcurrency int
}

// NewAggregator creates an Aggregator that evaluates at most maxConcurrency
// windows at once.
func NewAggregator(maxConcurrency int) *Aggregator {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Aggregator{maxConcurrency: maxConcurrency}
}

// Bounds returns the inclusive first and last calendar day of window w
// ending on now.
func Bounds(w model.RollupWindow, now time.Time) (start, end time.Time, err error) {
	end = model.DateOf(now)
	switch w {
	case model.WindowTrailing7:
		return end.AddDate(0, 0, -6), end, nil
	case model.WindowTrailing30:
		return end.AddDate(0, 0, -29), end, nil
	case model.WindowQTD:
		start, _ = pace.QuarterBounds(now)
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, eris.Errorf("rollup: unknown window %q", w)
	}
}

// Rollup computes every window concurrently. Windows are independent and
// share only read-only input.
func (a *Aggregator) Rollup(ctx context.Context, in Input, now time.Time) (map[model.RollupWindow][]model.OwnerRollup, error) {
	results := make([][]model.OwnerRollup, len(Windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrency)
	for i, w := range Windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := Window(in, w, now)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "rollup: compute windows")
	}

	out := make(map[model.RollupWindow][]model.OwnerRollup, len(Windows))
	for i, w := range Windows {
		out[w] = results[i]
	}
	return out, nil
}

// Window computes one window's owner rows with dense ranks, ordered by won
// value descending, then pipeline added descending, then owner id.
func Window(in Input, w model.RollupWindow, now time.Time) ([]model.OwnerRollup, error) {
	start, end, err := Bounds(w, now)
	if err != nil {
		return nil, err
	}
	inWindow := func(t time.Time) bool {
		d := model.DateOf(t)
		return !d.Before(start) && !d.After(end)
	}

	rows := make(map[string]*model.OwnerRollup)
	row := func(owner string) *model.OwnerRollup {
		r, ok := rows[owner]
		if !ok {
			r = &model.OwnerRollup{OwnerID: owner, Window: w, WindowStart: start, WindowEnd: end}
			rows[owner] = r
		}
		return r
	}
	for _, owner := range in.Roster {
		row(owner)
	}

	atRisk := make(map[string]bool, len(in.Flags))
	for _, f := range in.Flags {
		atRisk[f.EntityID] = f.IsAtRisk
	}
	engagement := make(map[string]float64, len(in.Scores))
	for _, s := range in.Scores {
		engagement[s.EntityID] = s.Engagement
	}

	engagementSum := make(map[string]float64)
	for _, d := range in.Deals {
		r := row(d.AttributedRep)
		if inWindow(d.CreatedAt) {
			r.DealsAdded++
			r.PipelineAdded += d.Revenue
		}
		if d.IsClosed() && d.CloseDate != nil && inWindow(*d.CloseDate) {
			if d.IsWon {
				r.WonCount++
				r.WonValue += d.Revenue
			} else {
				r.LostCount++
			}
		}
		if _, zombie := in.Zombies[d.EntityID]; !d.IsOpen() || zombie {
			continue
		}
		r.OpenDeals++
		if strings.TrimSpace(d.NextStep) != "" {
			r.WithNextStep++
		}
		engagementSum[d.AttributedRep] += engagement[d.EntityID]
		if atRisk[d.EntityID] {
			r.AtRiskCount++
			r.AtRiskValue += d.Revenue
		}
	}
	for _, e := range in.Events {
		if e.Type.IsStageMovement() && inWindow(e.TransitionDate) {
			row(e.AttributedRep).StageMovements++
		}
	}

	out := make([]model.OwnerRollup, 0, len(rows))
	for owner, r := range rows {
		if r.OpenDeals > 0 {
			r.AvgEngagement = engagementSum[owner] / float64(r.OpenDeals)
			r.NextStepPct = float64(r.WithNextStep) / float64(r.OpenDeals) * 100
		}
		if decided := r.WonCount + r.LostCount; decided > 0 {
			r.WinRatePct = float64(r.WonCount) / float64(decided) * 100
		}
		out = append(out, *r)
	}
	Rank(out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WonValue != out[j].WonValue {
			return out[i].WonValue > out[j].WonValue
		}
		if out[i].PipelineAdded != out[j].PipelineAdded {
			return out[i].PipelineAdded > out[j].PipelineAdded
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out, nil
}

// Rank assigns an independent dense rank per metric, highest value first.
// Equal values share a rank.
func Rank(rows []model.OwnerRollup) {
	denseRank(rows, func(r model.OwnerRollup) float64 { return r.PipelineAdded },
		func(r *model.OwnerRollup, n int) { r.Ranks.PipelineAdded = n })
	denseRank(rows, func(r model.OwnerRollup) float64 { return float64(r.StageMovements) },
		func(r *model.OwnerRollup, n int) { r.Ranks.StageMovements = n })
	denseRank(rows, func(r model.OwnerRollup) float64 { return r.AvgEngagement },
		func(r *model.OwnerRollup, n int) { r.Ranks.AvgEngagement = n })
	denseRank(rows, func(r model.OwnerRollup) float64 { return r.WonValue },
		func(r *model.OwnerRollup, n int) { r.Ranks.WonValue = n })
	denseRank(rows, func(r model.OwnerRollup) float64 { return r.WinRatePct },
		func(r *model.OwnerRollup, n int) { r.Ranks.WinRate = n })
}

func denseRank(rows []model.OwnerRollup, value func(model.OwnerRollup) float64, set func(*model.OwnerRollup, int)) {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := value(rows[idx[a]]), value(rows[idx[b]])
		if va != vb {
			return va > vb
		}
		return rows[idx[a]].OwnerID < rows[idx[b]].OwnerID
	})

	rank := 0
	for i, k := range idx {
		if i == 0 || value(rows[k]) != value(rows[idx[i-1]]) {
			rank++
		}
		set(&rows[k], rank)
	}
}
