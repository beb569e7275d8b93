package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/config"
)

// Checker runs periodic health checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	clock     func() time.Time
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		clock:     time.Now,
	}
}

// Run checks once immediately, then on every interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect-evaluate-send cycle and returns the alerts raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}
	now := c.clock()
	snap, err := c.collector.Collect(ctx, now)
	if err != nil {
		zap.L().Error("monitoring: failed to collect health", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap, now)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: health check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
