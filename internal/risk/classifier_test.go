package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/model"
)

var now = time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

// healthyDeal is an in-industry, recently touched standard deal.
func healthyDeal() model.Deal {
	return model.Deal{
		DealSnapshot: model.DealSnapshot{
			EntityID:       "opp-1",
			Name:           "Acme Freight expansion",
			CompanyName:    "Acme Freight",
			Industry:       "Logistics",
			StageLabel:     "Discovery",
			DaysInStage:    3,
			ContactCount:   3,
			LastModifiedAt: daysAgo(1),
			LastContactAt:  daysAgo(1),
		},
		Revenue:   20_000,
		OwnerRole: model.OwnerStandard,
	}
}

func TestClassify_ScenarioA_StalledEnterprise(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.Revenue = 150_000
	d.DaysInStage = 35
	d.LastModifiedAt = daysAgo(20)
	d.LastContactAt = daysAgo(2)

	r := c.Classify(d, now)
	assert.True(t, r.IsEnterprise)
	assert.True(t, r.Stalled)
	assert.False(t, r.Ghosted)
	assert.True(t, r.IsAtRisk)
	assert.Equal(t, model.ReasonStalledEnterprise, r.PrimaryReason)
	assert.Equal(t, 1, r.FlagCount)
}

func TestClassify_ScenarioB_RecentActivityOverride(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.Revenue = 150_000
	d.DaysInStage = 35
	d.LastModifiedAt = daysAgo(2)

	r := c.Classify(d, now)
	assert.False(t, r.Stalled)
	assert.True(t, r.StalledOverridden)
	assert.True(t, r.SavedByActivity())
	assert.True(t, r.HasRecentActivity)
	assert.Equal(t, model.ReasonHealthy, r.PrimaryReason)
}

func TestClassify_UpcomingMeetingOverride(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.DaysInStage = 20
	d.LastModifiedAt = daysAgo(30)
	d.LastContactAt = daysAgo(30)
	meet := now.Add(48 * time.Hour)
	d.NextMeetingAt = &meet

	r := c.Classify(d, now)
	assert.False(t, r.Stalled)
	assert.False(t, r.Ghosted)
	assert.True(t, r.StalledOverridden)
	assert.True(t, r.GhostedOverridden)
	assert.False(t, r.IsAtRisk)
}

func TestClassify_Thresholds(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tests := []struct {
		name        string
		revenue     float64
		daysInStage int
		contact     *time.Time
		modified    *time.Time
		wantStalled bool
		wantGhosted bool
		wantReason  string
	}{
		{"standard at stalled limit", 10_000, 14, daysAgo(1), daysAgo(8), false, false, model.ReasonHealthy},
		{"standard over stalled limit", 10_000, 15, daysAgo(1), daysAgo(8), true, false, model.ReasonStalled},
		{"enterprise at stalled limit", 100_000, 30, daysAgo(1), daysAgo(8), false, false, model.ReasonHealthy},
		{"standard ghosted", 10_000, 2, daysAgo(6), daysAgo(8), false, true, model.ReasonGhosted},
		{"enterprise not yet ghosted", 200_000, 2, daysAgo(10), daysAgo(8), false, false, model.ReasonHealthy},
		{"enterprise ghosted", 200_000, 2, daysAgo(11), daysAgo(8), false, true, model.ReasonGhostedEnterprise},
		{"stalled and ghosted", 10_000, 40, daysAgo(9), daysAgo(9), true, true, model.ReasonStalledAndGhosted},
		{"missing timestamps are stale", 10_000, 2, nil, nil, false, true, model.ReasonGhosted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := healthyDeal()
			d.Revenue = tt.revenue
			d.DaysInStage = tt.daysInStage
			d.LastContactAt = tt.contact
			d.LastModifiedAt = tt.modified

			r := c.Classify(d, now)
			assert.Equal(t, tt.wantStalled, r.Stalled, "stalled")
			assert.Equal(t, tt.wantGhosted, r.Ghosted, "ghosted")
			assert.Equal(t, tt.wantReason, r.PrimaryReason)
		})
	}
}

func TestClassify_EnterpriseBoundary(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	assert.False(t, c.IsEnterprise(99_999.99))
	assert.True(t, c.IsEnterprise(100_000))
	assert.True(t, c.IsEnterprise(100_000.01))
}

func TestClassify_OwnerRoles(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.OwnerRole = model.OwnerPlaceholder
	r := c.Classify(d, now)
	assert.True(t, r.OwnershipRisk)
	assert.True(t, r.IsAtRisk)
	assert.Equal(t, model.ReasonOwnershipRisk, r.PrimaryReason)

	d.OwnerRole = model.OwnerRebookCoordinator
	r = c.Classify(d, now)
	assert.True(t, r.PendingRebook)
	assert.False(t, r.OwnershipRisk)
	assert.False(t, r.IsAtRisk)
	assert.Equal(t, 0, r.FlagCount)
	assert.Equal(t, model.ReasonPendingRebook, r.PrimaryReason)
}

func TestClassify_PendingRebookOutranksOtherReasons(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.OwnerRole = model.OwnerRebookCoordinator
	d.DaysInStage = 60
	d.LastModifiedAt = daysAgo(30)
	d.LastContactAt = daysAgo(30)

	r := c.Classify(d, now)
	assert.True(t, r.Stalled)
	assert.True(t, r.IsAtRisk)
	assert.Equal(t, 2, r.FlagCount)
	assert.Equal(t, model.ReasonPendingRebook, r.PrimaryReason)
}

func TestClassify_IndustryMatch(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tests := []struct {
		name     string
		company  string
		industry string
		want     bool
	}{
		{"industry keyword", "Blue Co", "Transportation & Trucking", false},
		{"name keyword", "Northwind 3PL", "Retail", false},
		{"no industry but name", "Prime Fulfillment", "", false},
		{"neither", "Cupcake Bakery", "Food", true},
		{"case folded", "ACME WAREHOUSE", "", false},
		{"broad name keyword without industry", "Acme Shipping", "", false},
		{"broad name keyword with other industry", "Acme Shipping", "Retail", true},
		{"core name keyword with other industry", "Acme Logistics", "Retail", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := healthyDeal()
			d.CompanyName = tt.company
			d.Industry = tt.industry
			r := c.Classify(d, now)
			assert.Equal(t, tt.want, r.NotIndustryMatch)
			if tt.want {
				assert.Equal(t, model.ReasonNotIndustryMatch, r.PrimaryReason)
			}
		})
	}
}

func TestClassify_AtRiskIsLogicalOr(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	roles := []model.OwnerRole{model.OwnerStandard, model.OwnerPlaceholder, model.OwnerRebookCoordinator}
	for _, role := range roles {
		for _, stage := range []int{0, 20, 40} {
			for _, contact := range []int{0, 8, 20} {
				for _, company := range []string{"Acme Freight", "Bakery"} {
					d := healthyDeal()
					d.OwnerRole = role
					d.DaysInStage = stage
					d.LastContactAt = daysAgo(contact)
					d.LastModifiedAt = daysAgo(contact)
					d.CompanyName = company
					d.Industry = ""

					r := c.Classify(d, now)
					want := r.OwnershipRisk || r.Stalled || r.Ghosted || r.NotIndustryMatch
					require.Equal(t, want, r.IsAtRisk)
					if !want && !r.PendingRebook {
						assert.Equal(t, model.ReasonHealthy, r.PrimaryReason)
					}
				}
			}
		}
	}
}

func TestClassify_StalledDelayed(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	d := healthyDeal()
	d.StageLabel = "Delayed - Customer"
	d.DaysInStage = 31
	assert.True(t, c.Classify(d, now).StalledDelayed)

	d.NextStep = "Follow up in June"
	assert.False(t, c.Classify(d, now).StalledDelayed)

	d.NextStep = ""
	d.DaysInStage = 30
	assert.False(t, c.Classify(d, now).StalledDelayed)
}

func TestSummarizeRebook(t *testing.T) {
	flags := []model.RiskFlags{
		{EntityID: "a", PendingRebook: true, Revenue: 10, DaysInStage: 4, HasUpcomingMeeting: true},
		{EntityID: "b", PendingRebook: true, Revenue: 30, DaysInStage: 8},
		{EntityID: "c", PendingRebook: true, Revenue: 30, DaysInStage: 0},
		{EntityID: "d", Revenue: 1_000},
	}

	s := SummarizeRebook(flags, 2)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 70, s.TotalValue, 0.001)
	assert.InDelta(t, 4, s.AvgDaysInStage, 0.001)
	assert.Equal(t, 1, s.WithMeeting)
	assert.Equal(t, 2, s.WithoutMeeting)
	assert.InDelta(t, 60, s.ValueWithoutMeeting, 0.001)
	require.Len(t, s.Top, 2)
	assert.Equal(t, "b", s.Top[0].EntityID)
	assert.Equal(t, "c", s.Top[1].EntityID)

	empty := SummarizeRebook(nil, 5)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.AvgDaysInStage)
}

func TestAtRisk_OrderedByValue(t *testing.T) {
	flags := []model.RiskFlags{
		{EntityID: "a", IsAtRisk: true, Revenue: 5},
		{EntityID: "b", IsAtRisk: false, Revenue: 50},
		{EntityID: "c", IsAtRisk: true, Revenue: 9},
	}
	got := AtRisk(flags)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].EntityID)
	assert.Equal(t, "a", got[1].EntityID)
}
