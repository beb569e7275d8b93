package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/api"
	"github.com/sells-group/deal-health/internal/monitoring"
)

var (
	servePort   int
	serveNoSync bool
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the views over HTTP with scheduled sync and health checks",
	Annotations: mode("serve"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoSync {
			sched, err := startSyncSchedule(ctx, env)
			if err != nil {
				return err
			}
			if sched != nil {
				defer func() { <-sched.Stop().Done() }()
			}
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Engine, env.Store, env.Metrics),
				monitoring.NewAlerter(cfg.Monitoring, env.Metrics),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := api.NewServer(env.Engine, api.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			Metrics:     env.Metrics,
			Gatherer:    env.Registry,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// startSyncSchedule registers the Salesforce sync on the configured cron
// schedule. It returns nil when Salesforce is not configured.
func startSyncSchedule(ctx context.Context, env *cliEnv) (*cron.Cron, error) {
	if cfg.Sync.Schedule == "" || cfg.Salesforce.ClientID == "" {
		zap.L().Info("scheduled sync disabled")
		return nil, nil
	}

	sf, err := initSalesforce()
	if err != nil {
		return nil, err
	}
	src := salesforceSource(sf)

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cfg.Sync.Schedule, func() {
		scheduledSync(ctx, env, src)
	}); err != nil {
		return nil, eris.Wrapf(err, "invalid sync.schedule %q", cfg.Sync.Schedule)
	}
	c.Start()

	zap.L().Info("scheduled sync enabled", zap.String("schedule", cfg.Sync.Schedule))
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSync, "no-sync", false, "disable the scheduled Salesforce sync")
	rootCmd.AddCommand(serveCmd)
}
