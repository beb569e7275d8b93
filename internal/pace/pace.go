// Package pace computes quarter-relative linear pacing against the
// quarterly revenue target.
package pace

import (
	"time"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// monthDays converts a daily rate to the monthly pace figures.
const monthDays = 30

// DefaultConfig returns the pacing defaults. The target is zero until
// configured.
func DefaultConfig() config.PaceConfig {
	return config.PaceConfig{AtRiskRatio: 0.9}
}

// QuarterBounds returns the first day of the calendar quarter containing now
// and the first day of the next quarter.
func QuarterBounds(now time.Time) (start, end time.Time) {
	d := model.DateOf(now)
	firstMonth := time.Month((int(d.Month())-1)/3*3 + 1)
	start = time.Date(d.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0)
}

// Calculator computes PaceMetrics.
type Calculator struct {
	cfg config.PaceConfig
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg config.PaceConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute derives the pacing for the quarter containing now from the
// current deal view. Won value is attributed to the close date; open deals
// make up the pipeline used for coverage.
func (c *Calculator) Compute(deals []model.Deal, now time.Time) model.PaceMetrics {
	start, end := QuarterBounds(now)
	today := model.DateOf(now)

	m := model.PaceMetrics{
		QuarterStart:     start,
		QuarterEnd:       end,
		TotalQuarterDays: model.DaysBetween(start, end),
		DaysElapsed:      model.DaysBetween(start, today) + 1,
		Target:           c.cfg.QuarterlyTarget,
	}
	m.DaysRemaining = max(m.TotalQuarterDays-m.DaysElapsed, 0)

	for _, d := range deals {
		switch {
		case d.IsOpen():
			m.OpenPipeline += d.Revenue
		case d.IsWon && d.CloseDate != nil:
			closed := model.DateOf(*d.CloseDate)
			switch {
			case closed.Before(start):
				m.StartingValue += d.Revenue
			case !closed.After(today):
				m.QTDWon += d.Revenue
				m.QTDWonCount++
			}
		}
	}

	m.RemainingToTarget = max(m.Target-m.StartingValue, 0)
	gap := max(m.RemainingToTarget-m.QTDWon, 0)

	m.CurrentPaceMonthly = ratio(&m, "current_pace_monthly", m.QTDWon, float64(m.DaysElapsed)) * monthDays
	m.RequiredPaceMonthly = gap / float64(max(m.DaysRemaining, 1)) * monthDays
	m.PaceDelta = m.CurrentPaceMonthly - m.RequiredPaceMonthly
	m.ExpectedByNow = ratio(&m, "expected_by_now", m.RemainingToTarget*float64(m.DaysElapsed), float64(m.TotalQuarterDays))
	m.GapToExpected = m.ExpectedByNow - m.QTDWon

	if m.Target > 0 {
		m.PctOfTarget = (m.StartingValue + m.QTDWon) / m.Target * 100
	}
	if m.DaysRemaining > 0 {
		m.RequiredDaily = gap / float64(m.DaysRemaining)
	}
	m.RequiredWeekly = m.RequiredDaily * 7
	if gap > 0 {
		m.CoverageRatio = m.OpenPipeline / gap
	} else {
		m.Diagnostics = append(m.Diagnostics, model.Diagnostic{
			Kind:    model.DiagDivisionByZero,
			Field:   "coverage_ratio",
			Message: "no remaining gap to target; coverage reported as 0",
		})
	}

	m.Status = c.Status(m.QTDWon, m.ExpectedByNow)
	return m
}

// Status classifies won value against the expected value. Both boundaries
// are inclusive.
func (c *Calculator) Status(qtdWon, expected float64) model.PaceStatus {
	switch {
	case qtdWon >= expected:
		return model.PaceOnTrack
	case qtdWon >= c.cfg.AtRiskRatio*expected:
		return model.PaceAtRisk
	default:
		return model.PaceBehind
	}
}

// ratio divides num by den, recording a DivisionByZero diagnostic and
// returning 0 when den is not positive.
func ratio(m *model.PaceMetrics, field string, num, den float64) float64 {
	if den <= 0 {
		m.Diagnostics = append(m.Diagnostics, model.Diagnostic{
			Kind:    model.DiagDivisionByZero,
			Field:   field,
			Message: "zero denominator; reported as 0",
		})
		return 0
	}
	return num / den
}
