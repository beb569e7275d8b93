package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPaceBehind   AlertType = "pace_behind"
	AlertAtRiskRatio  AlertType = "at_risk_ratio"
	AlertStaleIngest  AlertType = "stale_ingest"
	AlertIngestFailed AlertType = "ingest_failed"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a HealthSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	metrics *metrics.Metrics
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, m *metrics.Metrics) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: m,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *HealthSnapshot, now time.Time) []Alert {
	var alerts []Alert
	ts := now.UTC()

	if snap.PaceStatus == model.PaceBehind {
		alerts = append(alerts, Alert{
			Type:     AlertPaceBehind,
			Severity: "high",
			Message: fmt.Sprintf(
				"Quarter pace is BEHIND: %.1f%% of target, $%.0f below expected with %d days remaining",
				snap.PctOfTarget, snap.GapToExpected, snap.DaysRemaining,
			),
			Details: map[string]any{
				"pct_of_target":   snap.PctOfTarget,
				"qtd_won":         snap.QTDWon,
				"expected_by_now": snap.ExpectedByNow,
				"days_remaining":  snap.DaysRemaining,
			},
			Timestamp: ts,
		})
	}

	if a.cfg.AtRiskValueRatio > 0 && snap.OpenValue > 0 && snap.AtRiskRatio > a.cfg.AtRiskValueRatio {
		alerts = append(alerts, Alert{
			Type:     AlertAtRiskRatio,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of open pipeline is at risk (threshold %.1f%%): %d deals worth $%.0f",
				snap.AtRiskRatio*100, a.cfg.AtRiskValueRatio*100, snap.AtRiskCount, snap.AtRiskValue,
			),
			Details: map[string]any{
				"at_risk_ratio": snap.AtRiskRatio,
				"threshold":     a.cfg.AtRiskValueRatio,
				"at_risk_value": snap.AtRiskValue,
				"open_value":    snap.OpenValue,
			},
			Timestamp: ts,
		})
	}

	if snap.RecentFailures > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertIngestFailed,
			Severity:  "high",
			Message:   fmt.Sprintf("%d snapshot ingest run(s) failed since the last success", snap.RecentFailures),
			Details:   map[string]any{"failures": snap.RecentFailures},
			Timestamp: ts,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		switch {
		case snap.LastSuccess == nil:
			alerts = append(alerts, Alert{
				Type:      AlertStaleIngest,
				Severity:  "high",
				Message:   "No successful snapshot ingest recorded",
				Timestamp: ts,
			})
		case now.Sub(snap.LastSuccess.FinishedAt) > limit:
			age := now.Sub(snap.LastSuccess.FinishedAt)
			alerts = append(alerts, Alert{
				Type:     AlertStaleIngest,
				Severity: "high",
				Message: fmt.Sprintf("Last successful ingest finished %.0fh ago (threshold %dh)",
					age.Hours(), a.cfg.StaleAfterHours),
				Details: map[string]any{
					"run_id":      snap.LastSuccess.ID,
					"finished_at": snap.LastSuccess.FinishedAt,
				},
				Timestamp: ts,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		a.metrics.Alert(string(alert.Type))
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
