// Package risk classifies normalized deals into risk flags with overrides and
// a single primary reason.
package risk

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// DefaultConfig returns the risk thresholds used when nothing is configured.
func DefaultConfig() config.RiskConfig {
	return config.RiskConfig{
		EnterpriseThreshold:   100_000,
		StalledDays:           14,
		StalledDaysEnterprise: 30,
		GhostedDays:           5,
		GhostedDaysEnterprise: 10,
		RecentActivityDays:    7,
		IndustryKeywords:      []string{"logistics", "transport", "warehouse", "supply chain"},
		CompanyNameKeywords:   []string{"3pl", "fulfillment", "logistics", "warehouse", "shipping", "freight", "distribution"},
		IndustryNameKeywords:  []string{"3pl", "fulfillment", "logistics"},
		DelayedStageKeyword:   "delay",
		DelayedStageDays:      30,
	}
}

// flag identifies one risk rule.
type flag int

const (
	flagOwnership flag = iota
	flagPendingRebook
	flagStalled
	flagGhosted
	flagNotIndustryMatch
)

// facts are the per-deal values the rules read, computed once.
type facts struct {
	deal              model.Deal
	enterprise        bool
	daysSinceContact  *int
	daysSinceModified *int
	recentActivity    bool
	upcomingMeeting   bool
}

// rule is one row of the decision table. Overridable rules are forced false
// when the deal has an upcoming meeting or recent activity.
type rule struct {
	flag        flag
	overridable bool
	eval        func(c *Classifier, f facts) bool
}

var rules = []rule{
	{flag: flagOwnership, eval: func(_ *Classifier, f facts) bool {
		return f.deal.OwnerRole == model.OwnerPlaceholder
	}},
	{flag: flagPendingRebook, eval: func(_ *Classifier, f facts) bool {
		return f.deal.OwnerRole == model.OwnerRebookCoordinator
	}},
	{flag: flagStalled, overridable: true, eval: func(c *Classifier, f facts) bool {
		limit := c.cfg.StalledDays
		if f.enterprise {
			limit = c.cfg.StalledDaysEnterprise
		}
		return f.deal.DaysInStage > limit
	}},
	{flag: flagGhosted, overridable: true, eval: func(c *Classifier, f facts) bool {
		limit := c.cfg.GhostedDays
		if f.enterprise {
			limit = c.cfg.GhostedDaysEnterprise
		}
		noContact := f.daysSinceContact == nil || *f.daysSinceContact > limit
		stale := f.daysSinceModified == nil || *f.daysSinceModified > c.cfg.RecentActivityDays
		return noContact && stale
	}},
	{flag: flagNotIndustryMatch, eval: func(c *Classifier, f facts) bool {
		return !c.industryMatch(f.deal)
	}},
}

// reason is one row of the primary-reason table, evaluated in order.
type reason struct {
	when  func(r model.RiskFlags) bool
	label func(r model.RiskFlags) string
}

func fixed(s string) func(model.RiskFlags) string {
	return func(model.RiskFlags) string { return s }
}

var reasons = []reason{
	{func(r model.RiskFlags) bool { return r.PendingRebook }, fixed(model.ReasonPendingRebook)},
	{func(r model.RiskFlags) bool { return r.OwnershipRisk }, fixed(model.ReasonOwnershipRisk)},
	{func(r model.RiskFlags) bool { return r.Stalled && r.Ghosted }, fixed(model.ReasonStalledAndGhosted)},
	{func(r model.RiskFlags) bool { return r.Stalled }, func(r model.RiskFlags) string {
		if r.IsEnterprise {
			return model.ReasonStalledEnterprise
		}
		return model.ReasonStalled
	}},
	{func(r model.RiskFlags) bool { return r.Ghosted }, func(r model.RiskFlags) string {
		if r.IsEnterprise {
			return model.ReasonGhostedEnterprise
		}
		return model.ReasonGhosted
	}},
	{func(r model.RiskFlags) bool { return r.NotIndustryMatch }, fixed(model.ReasonNotIndustryMatch)},
}

// Classifier evaluates the risk decision table against normalized deals.
type Classifier struct {
	cfg                  config.RiskConfig
	industryKeys         []string
	nameKeys             []string
	nameKeysWithIndustry []string
	delayedKey           string
}

// NewClassifier builds a Classifier. Keywords are case-folded once.
func NewClassifier(cfg config.RiskConfig) *Classifier {
	c := &Classifier{cfg: cfg}
	c.industryKeys = foldAll(cfg.IndustryKeywords)
	c.nameKeys = foldAll(cfg.CompanyNameKeywords)
	c.nameKeysWithIndustry = foldAll(cfg.IndustryNameKeywords)
	c.delayedKey = fold(strings.TrimSpace(cfg.DelayedStageKeyword))
	return c
}

// IsEnterprise reports whether revenue meets the enterprise threshold.
func (c *Classifier) IsEnterprise(revenue float64) bool {
	return revenue >= c.cfg.EnterpriseThreshold
}

// Classify computes the risk flags of one deal as of now.
func (c *Classifier) Classify(d model.Deal, now time.Time) model.RiskFlags {
	f := facts{
		deal:            d,
		enterprise:      c.IsEnterprise(d.Revenue),
		upcomingMeeting: d.HasUpcomingMeeting(),
	}
	if days, ok := model.DaysSince(d.LastContactAt, now); ok {
		f.daysSinceContact = &days
	}
	if days, ok := model.DaysSince(d.LastModifiedAt, now); ok {
		f.daysSinceModified = &days
		f.recentActivity = days <= c.cfg.RecentActivityDays
	}
	override := f.upcomingMeeting || f.recentActivity

	r := model.RiskFlags{
		EntityID:           d.EntityID,
		Name:               d.Name,
		Owner:              d.Owner(),
		Stage:              d.StageLabel,
		Revenue:            d.Revenue,
		IsEnterprise:       f.enterprise,
		HasUpcomingMeeting: f.upcomingMeeting,
		HasRecentActivity:  f.recentActivity,
		DaysInStage:        d.DaysInStage,
		DaysSinceContact:   f.daysSinceContact,
		DaysSinceModified:  f.daysSinceModified,
		Diagnostics:        d.Diagnostics,
	}

	for _, rl := range rules {
		fired := rl.eval(c, f)
		if fired && rl.overridable && override {
			c.markOverridden(&r, rl.flag)
			fired = false
		}
		c.set(&r, rl.flag, fired)
	}

	r.StalledDelayed = c.stalledDelayed(d)
	r.IsAtRisk = r.OwnershipRisk || r.Stalled || r.Ghosted || r.NotIndustryMatch
	r.FlagCount = countTrue(r.OwnershipRisk, r.Stalled, r.Ghosted, r.NotIndustryMatch)
	r.PrimaryReason = model.ReasonHealthy
	for _, rs := range reasons {
		if rs.when(r) {
			r.PrimaryReason = rs.label(r)
			break
		}
	}
	return r
}

// ClassifyAll classifies every deal, preserving input order.
func (c *Classifier) ClassifyAll(deals []model.Deal, now time.Time) []model.RiskFlags {
	out := make([]model.RiskFlags, len(deals))
	for i, d := range deals {
		out[i] = c.Classify(d, now)
	}
	return out
}

func (c *Classifier) set(r *model.RiskFlags, f flag, v bool) {
	switch f {
	case flagOwnership:
		r.OwnershipRisk = v
	case flagPendingRebook:
		r.PendingRebook = v
	case flagStalled:
		r.Stalled = v
	case flagGhosted:
		r.Ghosted = v
	case flagNotIndustryMatch:
		r.NotIndustryMatch = v
	}
}

func (c *Classifier) markOverridden(r *model.RiskFlags, f flag) {
	switch f {
	case flagStalled:
		r.StalledOverridden = true
	case flagGhosted:
		r.GhostedOverridden = true
	}
}

// industryMatch passes when the deal looks in-industry. Without a recorded
// industry the company name is checked against the full name list; with one,
// the industry text is checked first and the company name only against the
// narrower list. An empty allow-list matches everything.
func (c *Classifier) industryMatch(d model.Deal) bool {
	if len(c.industryKeys) == 0 && len(c.nameKeys) == 0 {
		return true
	}
	company := fold(d.CompanyName)
	industry := fold(strings.TrimSpace(d.Industry))
	if industry == "" {
		return containsAny(company, c.nameKeys)
	}
	return containsAny(industry, c.industryKeys) || containsAny(company, c.nameKeysWithIndustry)
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func foldAll(keys []string) []string {
	var out []string
	for _, k := range keys {
		if k = fold(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// stalledDelayed flags deals parked in a delay stage with no next step.
func (c *Classifier) stalledDelayed(d model.Deal) bool {
	if c.delayedKey == "" || d.IsClosed() {
		return false
	}
	return strings.Contains(fold(d.StageLabel), c.delayedKey) &&
		d.DaysInStage > c.cfg.DelayedStageDays &&
		strings.TrimSpace(d.NextStep) == ""
}

// fold case-folds s. A Caser is stateful, so one is built per call to keep
// the Classifier safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}

func countTrue(vs ...bool) int {
	n := 0
	for _, v := range vs {
		if v {
			n++
		}
	}
	return n
}
