package aging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

func defaultRater() *Rater {
	return NewRater(config.AgingConfig{
		Families: config.DefaultStageFamilies(),
		Default:  config.AgeLimits{GreenDays: 21, YellowDays: 45},
	})
}

func deal(id, stage string, days int, revenue float64) model.Deal {
	return model.Deal{
		DealSnapshot: model.DealSnapshot{EntityID: id, Name: id, StageLabel: stage, DaysInStage: days, OwnerName: "Alice"},
		Revenue:      revenue,
	}
}

func TestRate_StageFamilies(t *testing.T) {
	r := defaultRater()

	tests := []struct {
		stage  string
		days   int
		family string
		want   model.HealthStatus
	}{
		{"NBM Scheduled", 14, "early", model.HealthGreen},
		{"Discovery", 15, "early", model.HealthYellow},
		{"Qualification", 30, "early", model.HealthYellow},
		{"Lead", 31, "early", model.HealthRed},
		{"Technical Evaluation", 30, "mid", model.HealthGreen},
		{"Proposal", 45, "mid", model.HealthYellow},
		{"Demo", 46, "mid", model.HealthRed},
		{"Negotiation", 45, "late", model.HealthGreen},
		{"Contract Sent", 60, "late", model.HealthYellow},
		{"Closing", 61, "late", model.HealthRed},
		{"Stalled", 0, "delayed", model.HealthYellow},
		{"Delayed - Budget", 14, "delayed", model.HealthYellow},
		{"DELAYED", 15, "delayed", model.HealthRed},
		{"Pilot", 21, FamilyOther, model.HealthGreen},
		{"Pilot", 45, FamilyOther, model.HealthYellow},
		{"", 46, FamilyOther, model.HealthRed},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			got := r.Rate(deal("opp-1", tt.stage, tt.days, 1_000))
			assert.Equal(t, tt.family, got.Family)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "Alice", got.Owner)
		})
	}
}

func TestFamily_FirstMatchWins(t *testing.T) {
	r := defaultRater()
	name, limits := r.Family("Stalled in Discovery")
	assert.Equal(t, "delayed", name)
	assert.Equal(t, -1, limits.GreenDays)
}

func TestReport_OrderAndSummary(t *testing.T) {
	r := defaultRater()
	report := r.Report([]model.Deal{
		deal("a", "Discovery", 5, 10_000),
		deal("b", "Discovery", 40, 30_000),
		deal("c", "Proposal", 35, 20_000),
		deal("d", "Negotiation", 70, 50_000),
	})

	require.Len(t, report.Deals, 4)
	ids := make([]string, len(report.Deals))
	for i, d := range report.Deals {
		ids[i] = d.EntityID
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids)

	require.Len(t, report.Summary, 3)
	red := report.Summary[0]
	assert.Equal(t, model.HealthRed, red.Status)
	assert.Equal(t, 2, red.Count)
	assert.InDelta(t, 80_000, red.Value, 0.001)
	assert.InDelta(t, 55, red.AvgDaysInStage, 0.001)
	assert.InDelta(t, 50, red.PctOfDeals, 0.001)
	assert.Equal(t, model.HealthYellow, report.Summary[1].Status)
	assert.Equal(t, 1, report.Summary[1].Count)
	assert.Equal(t, model.HealthGreen, report.Summary[2].Status)
	assert.InDelta(t, 25, report.Summary[2].PctOfDeals, 0.001)
}

func TestSummarize_Empty(t *testing.T) {
	buckets := Summarize(nil)
	require.Len(t, buckets, 3)
	for _, b := range buckets {
		assert.Zero(t, b.Count)
		assert.Zero(t, b.PctOfDeals)
	}
}
