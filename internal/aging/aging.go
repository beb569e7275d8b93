// Package aging rates how long open deals have sat in their current stage
// against limits that depend on the stage family.
package aging

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// FamilyOther names the limits applied to stages no family claims.
const FamilyOther = "other"

// statusOrder lists statuses worst first.
var statusOrder = []model.HealthStatus{model.HealthRed, model.HealthYellow, model.HealthGreen}

type family struct {
	name   string
	keys   []string
	limits config.AgeLimits
}

// Rater assigns aging statuses.
type Rater struct {
	families []family
	fallback config.AgeLimits
}

// NewRater creates a Rater. Families are matched in the configured order.
func NewRater(cfg config.AgingConfig) *Rater {
	r := &Rater{fallback: cfg.Default}
	for _, f := range cfg.Families {
		fam := family{name: f.Name, limits: f.Limits}
		for _, k := range f.Keywords {
			if k = fold(strings.TrimSpace(k)); k != "" {
				fam.keys = append(fam.keys, k)
			}
		}
		r.families = append(r.families, fam)
	}
	return r
}

// Family returns the family a stage label belongs to and its limits.
func (r *Rater) Family(stage string) (string, config.AgeLimits) {
	label := fold(stage)
	for _, f := range r.families {
		for _, k := range f.keys {
			if strings.Contains(label, k) {
				return f.name, f.limits
			}
		}
	}
	return FamilyOther, r.fallback
}

// Status rates days in stage against limits. Both limits are inclusive.
func Status(daysInStage int, l config.AgeLimits) model.HealthStatus {
	switch {
	case l.GreenDays >= 0 && daysInStage <= l.GreenDays:
		return model.HealthGreen
	case daysInStage <= l.YellowDays:
		return model.HealthYellow
	default:
		return model.HealthRed
	}
}

// Rate computes one deal's aging.
func (r *Rater) Rate(d model.Deal) model.DealAge {
	name, limits := r.Family(d.StageLabel)
	return model.DealAge{
		EntityID:    d.EntityID,
		Name:        d.Name,
		Owner:       d.Owner(),
		Stage:       d.StageLabel,
		Family:      name,
		Revenue:     d.Revenue,
		DaysInStage: d.DaysInStage,
		Status:      Status(d.DaysInStage, limits),
	}
}

// Report rates every deal and orders them worst status first, then by days
// in stage descending, then entity id.
func (r *Rater) Report(deals []model.Deal) model.AgingReport {
	ages := make([]model.DealAge, 0, len(deals))
	for _, d := range deals {
		ages = append(ages, r.Rate(d))
	}
	rank := make(map[model.HealthStatus]int, len(statusOrder))
	for i, s := range statusOrder {
		rank[s] = i
	}
	sort.SliceStable(ages, func(i, j int) bool {
		a, b := ages[i], ages[j]
		if a.Status != b.Status {
			return rank[a.Status] < rank[b.Status]
		}
		if a.DaysInStage != b.DaysInStage {
			return a.DaysInStage > b.DaysInStage
		}
		return a.EntityID < b.EntityID
	})
	return model.AgingReport{Deals: ages, Summary: Summarize(ages)}
}

// Summarize returns one bucket per status, worst first, including empty
// ones.
func Summarize(ages []model.DealAge) []model.AgingBucket {
	buckets := make([]model.AgingBucket, len(statusOrder))
	idx := make(map[model.HealthStatus]int, len(statusOrder))
	for i, s := range statusOrder {
		buckets[i].Status = s
		idx[s] = i
	}
	days := make([]int, len(statusOrder))
	for _, a := range ages {
		i := idx[a.Status]
		buckets[i].Count++
		buckets[i].Value += a.Revenue
		days[i] += a.DaysInStage
	}
	for i := range buckets {
		if buckets[i].Count == 0 {
			continue
		}
		buckets[i].AvgDaysInStage = float64(days[i]) / float64(buckets[i].Count)
		buckets[i].PctOfDeals = float64(buckets[i].Count) / float64(len(ages)) * 100
	}
	return buckets
}

func fold(s string) string {
	return cases.Fold().String(s)
}
