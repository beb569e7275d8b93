package pace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func won(id string, revenue float64, closed time.Time) model.Deal {
	return model.Deal{
		DealSnapshot: model.DealSnapshot{EntityID: id, IsWon: true, CloseDate: &closed},
		Revenue:      revenue,
	}
}

func open(id string, revenue float64) model.Deal {
	return model.Deal{DealSnapshot: model.DealSnapshot{EntityID: id}, Revenue: revenue}
}

func TestQuarterBounds(t *testing.T) {
	tests := []struct {
		now        time.Time
		start, end time.Time
	}{
		{date(2025, 1, 1), date(2025, 1, 1), date(2025, 4, 1)},
		{date(2025, 3, 31).Add(23 * time.Hour), date(2025, 1, 1), date(2025, 4, 1)},
		{date(2025, 5, 20), date(2025, 4, 1), date(2025, 7, 1)},
		{date(2025, 9, 30), date(2025, 7, 1), date(2025, 10, 1)},
		{date(2025, 12, 31), date(2025, 10, 1), date(2026, 1, 1)},
	}
	for _, tt := range tests {
		start, end := QuarterBounds(tt.now)
		assert.Equal(t, tt.start, start, tt.now.String())
		assert.Equal(t, tt.end, end, tt.now.String())
	}
}

func TestCompute(t *testing.T) {
	c := NewCalculator(config.PaceConfig{QuarterlyTarget: 191_000, AtRiskRatio: 0.9})
	now := date(2025, 5, 20).Add(14 * time.Hour)

	deals := []model.Deal{
		won("before", 100_000, date(2025, 3, 15)),
		won("q1", 30_000, date(2025, 4, 10)),
		won("q2", 20_000, date(2025, 5, 20)),
		won("later", 99_000, date(2025, 5, 21)),
		open("p1", 60_000),
		open("p2", 30_000),
	}
	m := c.Compute(deals, now)

	assert.Equal(t, date(2025, 4, 1), m.QuarterStart)
	assert.Equal(t, date(2025, 7, 1), m.QuarterEnd)
	assert.Equal(t, 91, m.TotalQuarterDays)
	assert.Equal(t, 50, m.DaysElapsed)
	assert.Equal(t, 41, m.DaysRemaining)
	assert.InDelta(t, 100_000, m.StartingValue, 0.001)
	assert.InDelta(t, 91_000, m.RemainingToTarget, 0.001)
	assert.InDelta(t, 50_000, m.QTDWon, 0.001)
	assert.Equal(t, 2, m.QTDWonCount)
	assert.InDelta(t, 30_000, m.CurrentPaceMonthly, 0.001)
	assert.InDelta(t, 41_000.0/41*30, m.RequiredPaceMonthly, 0.001)
	assert.InDelta(t, 0, m.PaceDelta, 0.001)
	assert.InDelta(t, 50_000, m.ExpectedByNow, 0.001)
	assert.InDelta(t, 0, m.GapToExpected, 0.001)
	assert.Equal(t, model.PaceOnTrack, m.Status)
	assert.InDelta(t, 150_000.0/191_000*100, m.PctOfTarget, 0.001)
	assert.InDelta(t, 1_000, m.RequiredDaily, 0.001)
	assert.InDelta(t, 7_000, m.RequiredWeekly, 0.001)
	assert.InDelta(t, 90_000.0/41_000, m.CoverageRatio, 0.001)
	assert.Empty(t, m.Diagnostics)
}

func TestStatus_Boundaries(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	assert.Equal(t, model.PaceOnTrack, c.Status(50_000, 50_000))
	assert.Equal(t, model.PaceOnTrack, c.Status(50_001, 50_000))
	assert.Equal(t, model.PaceAtRisk, c.Status(49_999, 50_000))
	assert.Equal(t, model.PaceAtRisk, c.Status(45_000, 50_000))
	assert.Equal(t, model.PaceBehind, c.Status(44_999, 50_000))
	assert.Equal(t, model.PaceOnTrack, c.Status(0, 0))
}

func TestCompute_AtRiskAtNinetyPercent(t *testing.T) {
	c := NewCalculator(config.PaceConfig{QuarterlyTarget: 91_000, AtRiskRatio: 0.9})
	now := date(2025, 5, 20)
	m := c.Compute([]model.Deal{won("w", 45_000, date(2025, 5, 1))}, now)
	require.InDelta(t, 50_000, m.ExpectedByNow, 0.001)
	assert.Equal(t, model.PaceAtRisk, m.Status)
}

func TestCompute_ZeroTargetIsNeutral(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	m := c.Compute([]model.Deal{open("p", 10_000)}, date(2025, 5, 20))

	assert.Zero(t, m.RemainingToTarget)
	assert.Zero(t, m.ExpectedByNow)
	assert.Zero(t, m.RequiredPaceMonthly)
	assert.Zero(t, m.PctOfTarget)
	assert.Zero(t, m.CoverageRatio)
	assert.Equal(t, model.PaceOnTrack, m.Status)
	require.Len(t, m.Diagnostics, 1)
	assert.Equal(t, model.DiagDivisionByZero, m.Diagnostics[0].Kind)
}

func TestCompute_LastDayOfQuarter(t *testing.T) {
	c := NewCalculator(config.PaceConfig{QuarterlyTarget: 91_000, AtRiskRatio: 0.9})
	m := c.Compute(nil, date(2025, 6, 30))
	assert.Equal(t, 91, m.DaysElapsed)
	assert.Zero(t, m.DaysRemaining)
	assert.Zero(t, m.RequiredDaily)
	assert.InDelta(t, 91_000*30, m.RequiredPaceMonthly, 0.001)
	assert.Equal(t, model.PaceBehind, m.Status)
}
