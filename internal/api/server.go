// Package api serves the derived views as read-only JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/internal/summary"
)

// Views is the read surface the server exposes. *engine.Engine satisfies it.
type Views interface {
	Risk(ctx context.Context, asOf, now time.Time) ([]model.RiskFlags, error)
	Engagement(ctx context.Context, asOf, now time.Time) ([]model.Engagement, error)
	Focus(ctx context.Context, asOf, now time.Time) ([]model.FocusScore, error)
	Zombies(ctx context.Context, asOf, now time.Time) ([]model.Zombie, error)
	Movements(ctx context.Context, asOf, now time.Time) ([]model.MovementEvent, error)
	Slippage(ctx context.Context, asOf, now time.Time) ([]model.Slippage, error)
	Pace(ctx context.Context, asOf, now time.Time) (model.PaceMetrics, error)
	Leaderboard(ctx context.Context, asOf, now time.Time) (map[model.RollupWindow][]model.OwnerRollup, error)
	PendingRebook(ctx context.Context, asOf, now time.Time) (risk.RebookSummary, error)
	Aging(ctx context.Context, asOf, now time.Time) (model.AgingReport, error)
	Overview(ctx context.Context, asOf, now time.Time) (model.PipelineOverview, error)
	Digest(ctx context.Context, asOf, now time.Time) (summary.Digest, error)
	Summary(ctx context.Context, asOf, now time.Time) (summary.Summary, error)
}

// Options configures a Server.
type Options struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Clock supplies "now" for every request. Defaults to time.Now.
	Clock func() time.Time
}

// Server routes HTTP requests to the views.
type Server struct {
	views   Views
	metrics *metrics.Metrics
	clock   func() time.Time
	router  chi.Router
}

// NewServer builds the router.
func NewServer(views Views, opts Options) *Server {
	s := &Server{
		views:   views,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/risk", handle(s, views.Risk))
		r.Get("/engagement", handle(s, views.Engagement))
		r.Get("/focus", handle(s, views.Focus))
		r.Get("/zombies", handle(s, views.Zombies))
		r.Get("/movements", handle(s, views.Movements))
		r.Get("/slippage", handle(s, views.Slippage))
		r.Get("/pace", handle(s, views.Pace))
		r.Get("/leaderboard", handle(s, views.Leaderboard))
		r.Get("/rebook", handle(s, views.PendingRebook))
		r.Get("/aging", handle(s, views.Aging))
		r.Get("/overview", handle(s, views.Overview))
		r.Get("/digest", handle(s, views.Digest))
		r.Get("/summary", handle(s, views.Summary))
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handle adapts a view to a GET handler. The optional as_of query
// parameter selects the calendar date; it defaults to the latest
// observation.
func handle[T any](s *Server, fn func(ctx context.Context, asOf, now time.Time) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var asOf time.Time
		if raw := r.URL.Query().Get("as_of"); raw != "" {
			t, err := time.Parse(time.DateOnly, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", errors.New("as_of must be YYYY-MM-DD"))
				return
			}
			asOf = t
		}

		out, err := fn(r.Context(), asOf, s.clock())
		if err != nil {
			status, code := classify(err)
			if status >= http.StatusInternalServerError {
				zap.L().Error("api: view failed",
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Error(err),
				)
			}
			writeError(w, status, code, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// classify maps view errors onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
