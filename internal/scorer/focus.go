package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// Cohort holds the normalization bounds of the open-deal cohort being scored.
type Cohort struct {
	Size           int     `json:"size"`
	MaxRevenue     float64 `json:"max_revenue"`
	MaxDaysInStage int     `json:"max_days_in_stage"`
}

// NewCohort computes bounds over the open deals.
func NewCohort(deals []model.Deal) Cohort {
	var c Cohort
	for _, d := range deals {
		if !d.IsOpen() {
			continue
		}
		c.Size++
		c.MaxRevenue = math.Max(c.MaxRevenue, d.Revenue)
		if d.DaysInStage > c.MaxDaysInStage {
			c.MaxDaysInStage = d.DaysInStage
		}
	}
	return c
}

// FocusScorer computes the weighted focus score.
type FocusScorer struct {
	cfg  config.ScorerConfig
	risk config.RiskConfig
}

// NewFocusScorer creates a FocusScorer. The stage-age denominators come from
// the stalled thresholds so both rules age deals on the same clock.
func NewFocusScorer(cfg config.ScorerConfig, risk config.RiskConfig) *FocusScorer {
	return &FocusScorer{cfg: cfg, risk: risk}
}

// Score computes one deal's sub-scores against the cohort.
func (s *FocusScorer) Score(d model.Deal, flags model.RiskFlags, cohort Cohort, now time.Time) model.FocusScore {
	fs := model.FocusScore{
		EntityID: d.EntityID,
		Name:     d.Name,
		Owner:    d.Owner(),
		Revenue:  d.Revenue,
	}

	fs.Engagement = s.engagement(d, now)
	fs.Threading = s.threading(d.ContactCount)
	fs.StageAge = s.stageAge(d.DaysInStage, flags.IsEnterprise)
	fs.Size = s.size(d.Revenue, cohort.MaxRevenue)
	fs.Total = clamp(fs.Engagement+fs.Threading+fs.StageAge+fs.Size, 0, 100)
	fs.RiskPriority = s.Priority(flags)
	return fs
}

// ScoreAll scores deals paired with their flags by position and returns
// them ordered by total descending, then entity id.
func (s *FocusScorer) ScoreAll(deals []model.Deal, flags []model.RiskFlags, now time.Time) []model.FocusScore {
	cohort := NewCohort(deals)
	out := make([]model.FocusScore, 0, len(deals))
	for i, d := range deals {
		out = append(out, s.Score(d, flags[i], cohort, now))
	}
	sortByScore(out)
	return out
}

// Priority buckets at-risk deals by revenue.
func (s *FocusScorer) Priority(flags model.RiskFlags) model.RiskPriority {
	switch {
	case !flags.IsAtRisk:
		return model.PriorityLow
	case flags.Revenue >= s.cfg.CriticalRevenue:
		return model.PriorityCritical
	case flags.Revenue >= s.cfg.HighRevenue:
		return model.PriorityHigh
	default:
		return model.PriorityMedium
	}
}

// engagement decays linearly to zero over the engagement window. Unknown
// activity scores zero.
func (s *FocusScorer) engagement(d model.Deal, now time.Time) float64 {
	window := float64(s.cfg.EngagementWindowDays)
	days, ok := model.DaysSince(d.LastActivityAt, now)
	if !ok || window <= 0 {
		return 0
	}
	elapsed := math.Min(math.Max(float64(days), 0), window)
	return clamp(s.cfg.EngagementCap*math.Max(0, 1-elapsed/window), 0, s.cfg.EngagementCap)
}

func (s *FocusScorer) threading(contacts int) float64 {
	full := float64(s.cfg.FullThreadingContacts)
	if full <= 0 || contacts <= 0 {
		return 0
	}
	return clamp(s.cfg.ThreadingCap*float64(contacts)/full, 0, s.cfg.ThreadingCap)
}

func (s *FocusScorer) stageAge(daysInStage int, enterprise bool) float64 {
	limit := float64(s.risk.StalledDays)
	if enterprise {
		limit = float64(s.risk.StalledDaysEnterprise)
	}
	if limit <= 0 {
		return 0
	}
	return clamp(s.cfg.StageAgeCap*math.Max(0, 1-float64(daysInStage)/limit), 0, s.cfg.StageAgeCap)
}

func (s *FocusScorer) size(revenue, cohortMax float64) float64 {
	return clamp(s.cfg.SizeCap*revenue/math.Max(cohortMax, 1), 0, s.cfg.SizeCap)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// sortByScore sorts scores by total descending with entity id as tie-break.
func sortByScore(scores []model.FocusScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].EntityID < scores[j].EntityID
	})
}
