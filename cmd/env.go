package main

import (
	"context"
	"os"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/cache"
	"github.com/sells-group/deal-health/internal/engine"
	"github.com/sells-group/deal-health/internal/ingest"
	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/store"
	"github.com/sells-group/deal-health/internal/summary"
	"github.com/sells-group/deal-health/pkg/anthropic"
	"github.com/sells-group/deal-health/pkg/salesforce"
)

// cliEnv bundles the collaborators a command needs.
type cliEnv struct {
	Store    store.Store
	Cache    cache.Cache
	Engine   *engine.Engine
	Ingestor *ingest.Ingestor
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// initEnv opens the store and cache, applies migrations and builds the
// engine. Callers must Close the env.
func initEnv(ctx context.Context) (*cliEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	eng := engine.New(cfg, st, c, initSummarizer(m), m)
	return &cliEnv{
		Store:    st,
		Cache:    c,
		Engine:   eng,
		Ingestor: ingest.New(st, eng, m),
		Metrics:  m,
		Registry: reg,
	}, nil
}

// Close releases the cache and the store.
func (e *cliEnv) Close() {
	if err := e.Cache.Close(); err != nil {
		zap.L().Warn("close cache", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initSummarizer(m *metrics.Metrics) *summary.Summarizer {
	var client anthropic.Client
	if cfg.Summary.Enabled && cfg.Anthropic.Key != "" {
		client = anthropic.NewClient(cfg.Anthropic.Key)
	}
	return summary.New(client, cfg.Summary, cfg.Anthropic.Model, cfg.Resilience, m)
}

func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (DEALHEALTH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := gosf.Init(gosf.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return salesforce.NewClient(sf, salesforce.WithRateLimit(cfg.Salesforce.RateLimit)), nil
}

func salesforceSource(client salesforce.Client) *ingest.SalesforceSource {
	return ingest.NewSalesforceSource(client, ingest.SalesforceConfig{
		ClosedLookbackDays:  cfg.Sync.ClosedLookbackDays,
		MeetingLookbackDays: cfg.Sync.MeetingLookbackDays,
	})
}

// parseAsOf parses the --as-of flag. Empty means the latest observation.
func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --as-of %q (want YYYY-MM-DD)", raw)
	}
	return t, nil
}
