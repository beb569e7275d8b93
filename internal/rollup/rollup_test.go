package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/model"
)

var now = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return model.DateOf(now).AddDate(0, 0, -n) }

func deal(id, rep string, revenue float64, createdAgo int) model.Deal {
	return model.Deal{
		DealSnapshot:  model.DealSnapshot{EntityID: id, CreatedAt: daysAgo(createdAgo)},
		AttributedRep: rep,
		Revenue:       revenue,
	}
}

func wonDeal(id, rep string, revenue float64, closedAgo int) model.Deal {
	d := deal(id, rep, revenue, 120)
	c := daysAgo(closedAgo)
	d.IsWon = true
	d.CloseDate = &c
	return d
}

func byOwner(rows []model.OwnerRollup) map[string]model.OwnerRollup {
	m := make(map[string]model.OwnerRollup, len(rows))
	for _, r := range rows {
		m[r.OwnerID] = r
	}
	return m
}

func TestBounds(t *testing.T) {
	start, end, err := Bounds(model.WindowTrailing7, now)
	require.NoError(t, err)
	assert.Equal(t, daysAgo(6), start)
	assert.Equal(t, daysAgo(0), end)

	start, _, err = Bounds(model.WindowTrailing30, now)
	require.NoError(t, err)
	assert.Equal(t, daysAgo(29), start)

	start, _, err = Bounds(model.WindowQTD, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), start)

	_, _, err = Bounds("90d", now)
	assert.Error(t, err)
}

func TestWindow_Metrics(t *testing.T) {
	in := Input{
		Deals: []model.Deal{
			deal("a1", "alice", 50_000, 2),
			deal("a2", "alice", 10_000, 20),
			deal("b1", "bob", 80_000, 5),
			wonDeal("b2", "bob", 40_000, 3),
			wonDeal("a3", "alice", 25_000, 15),
			deal("z1", "bob", 500_000, 3),
		},
		Flags: []model.RiskFlags{
			{EntityID: "a1", IsAtRisk: true},
			{EntityID: "b1", IsAtRisk: false},
			{EntityID: "z1", IsAtRisk: true},
		},
		Scores: []model.FocusScore{
			{EntityID: "a1", Engagement: 30},
			{EntityID: "a2", Engagement: 10},
			{EntityID: "b1", Engagement: 15},
			{EntityID: "z1", Engagement: 0},
		},
		Events: []model.MovementEvent{
			{EntityID: "a1", AttributedRep: "alice", Type: model.MovementStageChange, TransitionDate: daysAgo(1)},
			{EntityID: "b1", AttributedRep: "bob", Type: model.MovementStageChange, TransitionDate: daysAgo(2)},
			{EntityID: "b2", AttributedRep: "bob", Type: model.MovementClosed, TransitionDate: daysAgo(3)},
			{EntityID: "b1", AttributedRep: "bob", Type: model.MovementInitialObservation, TransitionDate: daysAgo(5)},
			{EntityID: "a2", AttributedRep: "alice", Type: model.MovementStageChange, TransitionDate: daysAgo(12)},
		},
		Zombies: map[string]struct{}{"z1": {}},
	}

	rows, err := Window(in, model.WindowTrailing7, now)
	require.NoError(t, err)
	m := byOwner(rows)

	alice, bob := m["alice"], m["bob"]
	assert.Equal(t, 1, alice.DealsAdded)
	assert.InDelta(t, 50_000, alice.PipelineAdded, 0.001)
	assert.Equal(t, 1, alice.StageMovements)
	assert.Equal(t, 2, alice.OpenDeals)
	assert.InDelta(t, 20, alice.AvgEngagement, 0.001)
	assert.Zero(t, alice.WonCount)
	assert.Equal(t, 1, alice.AtRiskCount)
	assert.InDelta(t, 50_000, alice.AtRiskValue, 0.001)

	assert.Equal(t, 2, bob.DealsAdded)
	assert.InDelta(t, 580_000, bob.PipelineAdded, 0.001)
	assert.Equal(t, 2, bob.StageMovements)
	assert.Equal(t, 1, bob.OpenDeals)
	assert.InDelta(t, 15, bob.AvgEngagement, 0.001)
	assert.Equal(t, 1, bob.WonCount)
	assert.InDelta(t, 40_000, bob.WonValue, 0.001)
	assert.Zero(t, bob.AtRiskCount)

	assert.Equal(t, "bob", rows[0].OwnerID)

	rows30, err := Window(in, model.WindowTrailing30, now)
	require.NoError(t, err)
	alice30 := byOwner(rows30)["alice"]
	assert.Equal(t, 2, alice30.StageMovements)
	assert.InDelta(t, 25_000, alice30.WonValue, 0.001)
}

func TestWindow_WinRateAndNextStepCoverage(t *testing.T) {
	lost := func(id, rep string, closedAgo int) model.Deal {
		d := deal(id, rep, 5_000, 90)
		c := daysAgo(closedAgo)
		d.IsLost = true
		d.CloseDate = &c
		return d
	}
	withStep := func(d model.Deal, step string) model.Deal {
		d.NextStep = step
		return d
	}
	in := Input{
		Deals: []model.Deal{
			wonDeal("a1", "alice", 40_000, 2),
			lost("a2", "alice", 3),
			lost("a3", "alice", 4),
			lost("a4", "alice", 20),
			wonDeal("b1", "bob", 10_000, 1),
			withStep(deal("a5", "alice", 1_000, 40), "Send MSA"),
			withStep(deal("a6", "alice", 1_000, 40), "   "),
			deal("a7", "alice", 1_000, 40),
			withStep(deal("b2", "bob", 1_000, 40), "Demo Friday"),
		},
		Roster: []string{"carol"},
	}

	rows, err := Window(in, model.WindowTrailing7, now)
	require.NoError(t, err)
	got := byOwner(rows)

	alice := got["alice"]
	assert.Equal(t, 1, alice.WonCount)
	assert.Equal(t, 2, alice.LostCount)
	assert.InDelta(t, 100.0/3, alice.WinRatePct, 0.001)
	assert.Equal(t, 3, alice.OpenDeals)
	assert.Equal(t, 1, alice.WithNextStep)
	assert.InDelta(t, 100.0/3, alice.NextStepPct, 0.001)
	assert.Equal(t, 2, alice.Ranks.WinRate)

	bob := got["bob"]
	assert.InDelta(t, 100, bob.WinRatePct, 0.001)
	assert.InDelta(t, 100, bob.NextStepPct, 0.001)
	assert.Equal(t, 1, bob.Ranks.WinRate)

	carol := got["carol"]
	assert.Zero(t, carol.WinRatePct)
	assert.Zero(t, carol.NextStepPct)
	assert.Equal(t, 3, carol.Ranks.WinRate)

	month, err := Window(in, model.WindowTrailing30, now)
	require.NoError(t, err)
	assert.Equal(t, 3, byOwner(month)["alice"].LostCount)
	assert.InDelta(t, 25, byOwner(month)["alice"].WinRatePct, 0.001)
}

func TestWindow_ScenarioC_ZeroFilledRosterOwner(t *testing.T) {
	in := Input{
		Deals:  []model.Deal{deal("a1", "alice", 50_000, 2)},
		Roster: []string{"carol"},
	}
	rows, err := Window(in, model.WindowQTD, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	carol := byOwner(rows)["carol"]
	assert.Equal(t, model.WindowQTD, carol.Window)
	assert.Zero(t, carol.DealsAdded)
	assert.Zero(t, carol.PipelineAdded)
	assert.Zero(t, carol.AvgEngagement)
	assert.Equal(t, 2, carol.Ranks.PipelineAdded)
	assert.Equal(t, 1, carol.Ranks.WonValue)
}

func TestRank_DenseAndIndependent(t *testing.T) {
	rows := []model.OwnerRollup{
		{OwnerID: "a", PipelineAdded: 100, StageMovements: 1, AvgEngagement: 5, WonValue: 10},
		{OwnerID: "b", PipelineAdded: 100, StageMovements: 3, AvgEngagement: 5, WonValue: 0},
		{OwnerID: "c", PipelineAdded: 50, StageMovements: 2, AvgEngagement: 9, WonValue: 10},
		{OwnerID: "d", PipelineAdded: 0, StageMovements: 0, AvgEngagement: 0, WonValue: 0},
	}
	Rank(rows)

	want := map[string]model.RollupRanks{
		"a": {PipelineAdded: 1, StageMovements: 3, AvgEngagement: 2, WonValue: 1},
		"b": {PipelineAdded: 1, StageMovements: 1, AvgEngagement: 2, WonValue: 2},
		"c": {PipelineAdded: 2, StageMovements: 2, AvgEngagement: 1, WonValue: 1},
		"d": {PipelineAdded: 3, StageMovements: 4, AvgEngagement: 3, WonValue: 2},
	}
	for _, r := range rows {
		assert.Equal(t, want[r.OwnerID], r.Ranks, r.OwnerID)
	}
}

func TestRollup_AllWindows(t *testing.T) {
	a := NewAggregator(2)
	in := Input{Deals: []model.Deal{deal("a1", "alice", 1_000, 40)}}

	out, err := a.Rollup(context.Background(), in, now)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Zero(t, out[model.WindowTrailing30][0].DealsAdded)
	assert.Equal(t, 1, out[model.WindowQTD][0].DealsAdded)
}

func TestRollup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(1).Rollup(ctx, Input{}, now)
	assert.ErrorIs(t, err, context.Canceled)
}
