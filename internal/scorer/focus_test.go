package scorer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
)

var now = time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func newFocusScorer() *FocusScorer {
	return NewFocusScorer(DefaultScorerConfig(), risk.DefaultConfig())
}

func openDeal(id string, revenue float64, contacts, daysInStage int, lastActivity *time.Time) model.Deal {
	return model.Deal{
		DealSnapshot: model.DealSnapshot{
			EntityID:     id,
			ContactCount: contacts,
			DaysInStage:  daysInStage,
			CreatedAt:    now.AddDate(0, 0, -60),
		},
		Revenue:        revenue,
		LastActivityAt: lastActivity,
	}
}

func TestFocusScore_SubScores(t *testing.T) {
	s := newFocusScorer()
	cohort := Cohort{Size: 2, MaxRevenue: 200_000}

	tests := []struct {
		name       string
		deal       model.Deal
		enterprise bool
		engagement float64
		threading  float64
		stageAge   float64
		size       float64
	}{
		{"fully engaged top deal", openDeal("a", 200_000, 5, 0, daysAgo(0)), true, 30, 30, 20, 20},
		{"half decayed", openDeal("b", 100_000, 1, 15, daysAgo(7)), true, 15, 15, 10, 10},
		{"standard stage age", openDeal("c", 50_000, 2, 7, daysAgo(14)), false, 0, 30, 10, 5},
		{"past stalled limit", openDeal("d", 10_000, 0, 40, daysAgo(30)), false, 0, 0, 0, 1},
		{"unknown activity", openDeal("e", 0, 0, 0, nil), false, 0, 0, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := s.Score(tt.deal, model.RiskFlags{IsEnterprise: tt.enterprise, Revenue: tt.deal.Revenue}, cohort, now)
			assert.InDelta(t, tt.engagement, fs.Engagement, 0.001)
			assert.InDelta(t, tt.threading, fs.Threading, 0.001)
			assert.InDelta(t, tt.stageAge, fs.StageAge, 0.001)
			assert.InDelta(t, tt.size, fs.Size, 0.001)
			assert.InDelta(t, tt.engagement+tt.threading+tt.stageAge+tt.size, fs.Total, 0.001)
		})
	}
}

func TestFocusScore_AlwaysWithinBounds(t *testing.T) {
	s := newFocusScorer()
	revenues := []float64{0, 1, 49_999, 100_000, 5_000_000}
	contacts := []int{0, 1, 2, 50}
	stages := []int{0, 14, 30, 999}
	activity := []*time.Time{nil, daysAgo(0), daysAgo(13), daysAgo(400)}

	for _, cohortMax := range []float64{0, 1_000, 5_000_000} {
		cohort := Cohort{MaxRevenue: cohortMax}
		for _, rev := range revenues {
			for _, c := range contacts {
				for _, st := range stages {
					for _, a := range activity {
						d := openDeal("x", rev, c, st, a)
						fs := s.Score(d, model.RiskFlags{IsEnterprise: rev >= 100_000}, cohort, now)
						msg := fmt.Sprintf("rev=%v contacts=%d stage=%d max=%v", rev, c, st, cohortMax)
						assert.GreaterOrEqual(t, fs.Total, 0.0, msg)
						assert.LessOrEqual(t, fs.Total, 100.0, msg)
					}
				}
			}
		}
	}
}

func TestFocusScore_FutureActivityCapsEngagement(t *testing.T) {
	s := newFocusScorer()
	future := now.AddDate(0, 0, 3)
	fs := s.Score(openDeal("f", 0, 0, 0, &future), model.RiskFlags{}, Cohort{}, now)
	assert.InDelta(t, 30, fs.Engagement, 0.001)
}

func TestPriority(t *testing.T) {
	s := newFocusScorer()
	tests := []struct {
		revenue float64
		atRisk  bool
		want    model.RiskPriority
	}{
		{250_000, true, model.PriorityCritical},
		{100_000, true, model.PriorityCritical},
		{99_999, true, model.PriorityHigh},
		{50_000, true, model.PriorityHigh},
		{49_999, true, model.PriorityMedium},
		{0, true, model.PriorityMedium},
		{250_000, false, model.PriorityLow},
	}
	for _, tt := range tests {
		got := s.Priority(model.RiskFlags{Revenue: tt.revenue, IsAtRisk: tt.atRisk})
		assert.Equal(t, tt.want, got, "revenue=%v atRisk=%v", tt.revenue, tt.atRisk)
	}
}

func TestNewCohort_OpenDealsOnly(t *testing.T) {
	won := openDeal("won", 900_000, 1, 400, nil)
	won.IsWon = true
	deals := []model.Deal{
		openDeal("a", 120_000, 1, 10, nil),
		openDeal("b", 80_000, 1, 45, nil),
		won,
	}
	c := NewCohort(deals)
	assert.Equal(t, 2, c.Size)
	assert.InDelta(t, 120_000, c.MaxRevenue, 0.001)
	assert.Equal(t, 45, c.MaxDaysInStage)
}

func TestScoreAll_OrderedByTotalThenID(t *testing.T) {
	s := newFocusScorer()
	deals := []model.Deal{
		openDeal("b", 10_000, 2, 0, daysAgo(0)),
		openDeal("a", 10_000, 2, 0, daysAgo(0)),
		openDeal("c", 100_000, 3, 0, daysAgo(0)),
	}
	flags := make([]model.RiskFlags, len(deals))
	scores := s.ScoreAll(deals, flags, now)
	require.Len(t, scores, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{scores[0].EntityID, scores[1].EntityID, scores[2].EntityID})
}
