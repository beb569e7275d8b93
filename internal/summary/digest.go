// Package summary flattens computed views into a digest and turns it into
// a short narrative, falling back to a deterministic template whenever the
// language model is disabled, slow or failing.
package summary

import (
	"sort"
	"time"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
)

// ReasonCount is the number of at-risk deals with one primary reason.
type ReasonCount struct {
	Reason string  `json:"reason"`
	Count  int     `json:"count"`
	Value  float64 `json:"value"`
}

// Digest is the flattened input to a narrative summary.
type Digest struct {
	AsOf       time.Time              `json:"as_of"`
	Overview   model.PipelineOverview `json:"overview"`
	RiskCounts []ReasonCount          `json:"risk_counts"`
	Pace       model.PaceMetrics      `json:"pace"`
	TopAtRisk  []model.RiskFlags      `json:"top_at_risk"`
	Rebook     risk.RebookSummary     `json:"pending_rebook"`
}

// BuildDigest assembles a digest. TopAtRisk holds at most topN at-risk
// deals by value.
func BuildDigest(asOf time.Time, overview model.PipelineOverview, flags []model.RiskFlags, pace model.PaceMetrics, rebook risk.RebookSummary, topN int) Digest {
	atRisk := risk.AtRisk(flags)

	byReason := make(map[string]*ReasonCount)
	for _, f := range atRisk {
		rc, ok := byReason[f.PrimaryReason]
		if !ok {
			rc = &ReasonCount{Reason: f.PrimaryReason}
			byReason[f.PrimaryReason] = rc
		}
		rc.Count++
		rc.Value += f.Revenue
	}
	counts := make([]ReasonCount, 0, len(byReason))
	for _, rc := range byReason {
		counts = append(counts, *rc)
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Reason < counts[j].Reason
	})

	if topN >= 0 && len(atRisk) > topN {
		atRisk = atRisk[:topN]
	}
	return Digest{
		AsOf:       model.DateOf(asOf),
		Overview:   overview,
		RiskCounts: counts,
		Pace:       pace,
		TopAtRisk:  atRisk,
		Rebook:     rebook,
	}
}
