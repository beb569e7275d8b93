// Package monitoring periodically checks pipeline health and posts webhook
// alerts when pace falls behind, the at-risk share of open pipeline grows
// too large, or snapshot ingestion stops landing.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/store"
)

// HealthSnapshot holds a point-in-time view of pipeline health.
type HealthSnapshot struct {
	AsOf        time.Time `json:"as_of"`
	OpenCount   int       `json:"open_count"`
	OpenValue   float64   `json:"open_value"`
	AtRiskCount int       `json:"at_risk_count"`
	AtRiskValue float64   `json:"at_risk_value"`
	AtRiskRatio float64   `json:"at_risk_ratio"`
	ZombieCount int       `json:"zombie_count"`

	PaceStatus    model.PaceStatus `json:"pace_status"`
	PctOfTarget   float64          `json:"pct_of_target"`
	QTDWon        float64          `json:"qtd_won"`
	ExpectedByNow float64          `json:"expected_by_now"`
	GapToExpected float64          `json:"gap_to_expected"`
	DaysRemaining int              `json:"days_remaining"`

	// LastSuccess is the newest ingest run without an error; nil when none.
	LastSuccess *store.IngestRun `json:"last_success,omitempty"`
	// RecentFailures counts failed runs newer than LastSuccess.
	RecentFailures int `json:"recent_failures"`

	CollectedAt time.Time `json:"collected_at"`
}

// Views is the subset of the engine the collector reads.
type Views interface {
	Overview(ctx context.Context, asOf, now time.Time) (model.PipelineOverview, error)
	Pace(ctx context.Context, asOf, now time.Time) (model.PaceMetrics, error)
}

// RunLister lists recorded ingestion runs, newest first.
type RunLister interface {
	ListIngestRuns(ctx context.Context, limit int) ([]store.IngestRun, error)
}

// runWindow bounds how many recent runs are inspected.
const runWindow = 20

// Collector gathers a HealthSnapshot from the engine and the ingest log.
type Collector struct {
	views   Views
	runs    RunLister
	metrics *metrics.Metrics
}

// NewCollector creates a collector. runs and m may be nil.
func NewCollector(views Views, runs RunLister, m *metrics.Metrics) *Collector {
	return &Collector{views: views, runs: runs, metrics: m}
}

// Collect computes the latest health snapshot and refreshes the pipeline
// gauges.
func (c *Collector) Collect(ctx context.Context, now time.Time) (*HealthSnapshot, error) {
	overview, err := c.views.Overview(ctx, time.Time{}, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: overview")
	}
	pm, err := c.views.Pace(ctx, time.Time{}, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: pace")
	}

	snap := &HealthSnapshot{
		AsOf:          overview.AsOf,
		OpenCount:     overview.OpenCount,
		OpenValue:     overview.OpenValue,
		AtRiskCount:   overview.AtRiskCount,
		AtRiskValue:   overview.AtRiskValue,
		ZombieCount:   overview.ZombieCount,
		PaceStatus:    pm.Status,
		PctOfTarget:   pm.PctOfTarget,
		QTDWon:        pm.QTDWon,
		ExpectedByNow: pm.ExpectedByNow,
		GapToExpected: pm.GapToExpected,
		DaysRemaining: pm.DaysRemaining,
		CollectedAt:   now.UTC(),
	}
	if overview.OpenValue > 0 {
		snap.AtRiskRatio = overview.AtRiskValue / overview.OpenValue
	}

	if c.runs != nil {
		runs, err := c.runs.ListIngestRuns(ctx, runWindow)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list ingest runs")
		}
		for i := range runs {
			if runs[i].Error == "" {
				snap.LastSuccess = &runs[i]
				break
			}
			snap.RecentFailures++
		}
	}

	c.metrics.PipelineHealth(snap.OpenValue, snap.AtRiskValue, snap.PctOfTarget)
	return snap, nil
}
