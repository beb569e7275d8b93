package risk

import (
	"sort"

	"github.com/sells-group/deal-health/internal/model"
)

// RebookSummary aggregates the open deals held by the rebook coordinator.
type RebookSummary struct {
	Count               int               `json:"count"`
	TotalValue          float64           `json:"total_value"`
	AvgDaysInStage      float64           `json:"avg_days_in_stage"`
	WithMeeting         int               `json:"with_upcoming_meeting"`
	WithoutMeeting      int               `json:"without_upcoming_meeting"`
	ValueWithoutMeeting float64           `json:"value_without_upcoming_meeting"`
	Top                 []model.RiskFlags `json:"top"`
}

// SummarizeRebook builds the pending-rebook summary from classified flags.
// Top holds at most topN deals ordered by value, then entity id.
func SummarizeRebook(flags []model.RiskFlags, topN int) RebookSummary {
	var s RebookSummary
	var pending []model.RiskFlags
	var days int
	for _, f := range flags {
		if !f.PendingRebook {
			continue
		}
		pending = append(pending, f)
		s.Count++
		s.TotalValue += f.Revenue
		days += f.DaysInStage
		if f.HasUpcomingMeeting {
			s.WithMeeting++
		} else {
			s.WithoutMeeting++
			s.ValueWithoutMeeting += f.Revenue
		}
	}
	if s.Count > 0 {
		s.AvgDaysInStage = float64(days) / float64(s.Count)
	}

	SortByValue(pending)
	if topN >= 0 && len(pending) > topN {
		pending = pending[:topN]
	}
	s.Top = pending
	return s
}

// SortByValue orders flags by revenue descending, then entity id.
func SortByValue(flags []model.RiskFlags) {
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Revenue != flags[j].Revenue {
			return flags[i].Revenue > flags[j].Revenue
		}
		return flags[i].EntityID < flags[j].EntityID
	})
}

// AtRisk returns the at-risk subset ordered by value.
func AtRisk(flags []model.RiskFlags) []model.RiskFlags {
	var out []model.RiskFlags
	for _, f := range flags {
		if f.IsAtRisk {
			out = append(out, f)
		}
	}
	SortByValue(out)
	return out
}
