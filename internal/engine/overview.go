package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/sells-group/deal-health/internal/model"
)

// closedWindowDays is the span of the overview's won/lost figures,
// inclusive of the as-of date.
const closedWindowDays = 7

// BuildOverview summarizes the pipeline as of asOf. flags are aligned with
// deals by position. Zombie deals are counted separately and excluded from
// every open metric.
func BuildOverview(asOf time.Time, deals []model.Deal, flags []model.RiskFlags, zombies map[string]struct{}, slipped []model.Slippage) model.PipelineOverview {
	end := model.DateOf(asOf)
	start := end.AddDate(0, 0, -(closedWindowDays - 1))
	o := model.PipelineOverview{AsOf: end}

	withNextStep := 0
	stages := make(map[string]*model.StageBreakdown)
	for i, d := range deals {
		if d.IsClosed() {
			if d.CloseDate == nil {
				continue
			}
			closed := model.DateOf(*d.CloseDate)
			if closed.Before(start) || closed.After(end) {
				continue
			}
			if d.IsWon {
				o.WonCount7d++
				o.WonValue7d += d.Revenue
			} else {
				o.LostCount7d++
				o.LostValue7d += d.Revenue
			}
			continue
		}

		if _, zombie := zombies[d.EntityID]; zombie {
			o.ZombieCount++
			o.ZombieValue += d.Revenue
			continue
		}

		f := flags[i]
		o.OpenCount++
		o.OpenValue += d.Revenue
		if f.IsEnterprise {
			o.EnterpriseCount++
			o.EnterpriseValue += d.Revenue
		} else {
			o.StandardCount++
			o.StandardValue += d.Revenue
		}
		if f.IsAtRisk {
			o.AtRiskCount++
			o.AtRiskValue += d.Revenue
		}
		if f.SavedByActivity() {
			o.SavedByActivity++
		}
		if strings.TrimSpace(d.NextStep) != "" {
			withNextStep++
		}

		sb, ok := stages[d.StageLabel]
		if !ok {
			sb = &model.StageBreakdown{Stage: d.StageLabel}
			stages[d.StageLabel] = sb
		}
		sb.Count++
		sb.Value += d.Revenue
	}

	if o.OpenCount > 0 {
		o.HealthyPct = float64(o.OpenCount-o.AtRiskCount) / float64(o.OpenCount) * 100
		o.NextStepPct = float64(withNextStep) / float64(o.OpenCount) * 100
	}
	if decided := o.WonCount7d + o.LostCount7d; decided > 0 {
		o.WinRate7d = float64(o.WonCount7d) / float64(decided) * 100
	} else {
		o.Diagnostics = append(o.Diagnostics, model.Diagnostic{
			Kind:    model.DiagDivisionByZero,
			Field:   "win_rate_7d",
			Message: "no deals closed in the last 7 days; win rate reported as 0",
		})
	}

	o.Stages = make([]model.StageBreakdown, 0, len(stages))
	for _, sb := range stages {
		o.Stages = append(o.Stages, *sb)
	}
	sort.Slice(o.Stages, func(i, j int) bool {
		if o.Stages[i].Value != o.Stages[j].Value {
			return o.Stages[i].Value > o.Stages[j].Value
		}
		return o.Stages[i].Stage < o.Stages[j].Stage
	})

	seen := make(map[string]struct{}, len(slipped))
	for _, s := range slipped {
		seen[s.EntityID] = struct{}{}
	}
	o.SlippedCount = len(seen)
	return o
}
