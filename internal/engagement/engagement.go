// Package engagement buckets contact coverage and derives the tri-state
// engagement health of deals.
package engagement

import (
	"sort"
	"time"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// Named health windows.
const (
	WindowWeekly   = "weekly"
	WindowBiweekly = "biweekly"
)

// DefaultConfig returns both documented recency variants.
func DefaultConfig() config.EngagementConfig {
	return config.EngagementConfig{
		HealthWindows: map[string]int{WindowWeekly: 7, WindowBiweekly: 14},
	}
}

// Bucket classifies contact coverage by contact count.
func Bucket(contactCount int) model.ThreadingBucket {
	switch {
	case contactCount <= 0:
		return model.ThreadingCritical
	case contactCount == 1:
		return model.ThreadingLow
	case contactCount == 2:
		return model.ThreadingModerate
	default:
		return model.ThreadingHealthy
	}
}

// Health derives the status for one recency window of w days:
//
//	RED    no activity within 2w days, or critical momentum loss
//	GREEN  activity within w days, at least two contacts, not at risk
//	YELLOW otherwise
//
// Unknown activity counts as no activity.
func Health(daysSinceActivity *int, contactCount int, atRisk bool, w int) model.HealthStatus {
	if daysSinceActivity == nil || *daysSinceActivity > 2*w || (atRisk && contactCount <= 1) {
		return model.HealthRed
	}
	if *daysSinceActivity <= w && contactCount >= 2 && !atRisk {
		return model.HealthGreen
	}
	return model.HealthYellow
}

// Analyzer evaluates threading and every configured health window.
type Analyzer struct {
	windows map[string]int
	names   []string
}

// NewAnalyzer builds an Analyzer over the named windows.
func NewAnalyzer(cfg config.EngagementConfig) *Analyzer {
	a := &Analyzer{windows: make(map[string]int, len(cfg.HealthWindows))}
	for name, days := range cfg.HealthWindows {
		a.windows[name] = days
		a.names = append(a.names, name)
	}
	sort.Strings(a.names)
	return a
}

// Windows returns the configured window names in sorted order.
func (a *Analyzer) Windows() []string {
	return append([]string(nil), a.names...)
}

// Analyze computes the engagement of one deal given its risk flags.
func (a *Analyzer) Analyze(d model.Deal, flags model.RiskFlags, now time.Time) model.Engagement {
	var since *int
	if days, ok := model.DaysSince(d.LastActivityAt, now); ok {
		since = &days
	}

	e := model.Engagement{
		EntityID:             d.EntityID,
		ContactCount:         d.ContactCount,
		Threading:            Bucket(d.ContactCount),
		CriticalMomentumLoss: flags.IsAtRisk && d.ContactCount <= 1,
		Health:               make(map[string]model.HealthStatus, len(a.names)),
	}
	for _, name := range a.names {
		e.Health[name] = Health(since, d.ContactCount, flags.IsAtRisk, a.windows[name])
	}
	return e
}

// AnalyzeAll pairs deals with their flags by position.
func (a *Analyzer) AnalyzeAll(deals []model.Deal, flags []model.RiskFlags, now time.Time) []model.Engagement {
	out := make([]model.Engagement, len(deals))
	for i, d := range deals {
		out[i] = a.Analyze(d, flags[i], now)
	}
	return out
}
