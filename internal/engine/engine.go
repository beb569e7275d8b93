// Package engine computes the derived deal-health views from the snapshot
// store. Views are pure functions of (snapshots, config, clock) where the
// clock never runs past the end of the as-of date; results are cached per
// view, as-of date and cache generation, and every cached entry is dropped
// when a new batch is ingested.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/deal-health/internal/aging"
	"github.com/sells-group/deal-health/internal/cache"
	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/engagement"
	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/movement"
	"github.com/sells-group/deal-health/internal/normalize"
	"github.com/sells-group/deal-health/internal/pace"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/internal/rollup"
	"github.com/sells-group/deal-health/internal/scorer"
	"github.com/sells-group/deal-health/internal/store"
	"github.com/sells-group/deal-health/internal/summary"
)

// ErrSuperseded is the cancellation cause of computations abandoned because
// a newer snapshot batch landed.
var ErrSuperseded = eris.New("engine: snapshot batch superseded")

// Engine serves every derived view.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	cache      cache.Cache
	summarizer *summary.Summarizer
	metrics    *metrics.Metrics

	norm       *normalize.Normalizer
	classifier *risk.Classifier
	analyzer   *engagement.Analyzer
	focus      *scorer.FocusScorer
	zombies    *scorer.ZombieDetector
	tracker    *movement.Tracker
	pace       *pace.Calculator
	rollups    *rollup.Aggregator
	aging      *aging.Rater

	storeSem     *semaphore.Weighted
	storeTimeout time.Duration
	flight       singleflight.Group

	mu        sync.Mutex
	genCtx    context.Context
	genCancel context.CancelCauseFunc
}

// New creates an Engine. c, sum and m may be nil: without a cache every view
// is computed, without a summarizer the narrative is always templated.
func New(cfg *config.Config, st store.Store, c cache.Cache, sum *summary.Summarizer, m *metrics.Metrics) *Engine {
	norm := normalize.New(cfg.Risk)
	maxConc := max(cfg.Engine.MaxConcurrency, 1)
	storeTimeout := time.Duration(cfg.Engine.StoreTimeoutSecs) * time.Second
	if storeTimeout <= 0 {
		storeTimeout = 30 * time.Second
	}
	if sum == nil {
		sum = summary.New(nil, config.SummaryConfig{}, "", cfg.Resilience, m)
	}

	e := &Engine{
		cfg:          cfg,
		store:        st,
		cache:        c,
		summarizer:   sum,
		metrics:      m,
		norm:         norm,
		classifier:   risk.NewClassifier(cfg.Risk),
		analyzer:     engagement.NewAnalyzer(cfg.Engagement),
		focus:        scorer.NewFocusScorer(cfg.Scorer, cfg.Risk),
		zombies:      scorer.NewZombieDetector(cfg.Zombie),
		tracker:      movement.NewTracker(cfg.Movement, norm),
		pace:         pace.NewCalculator(cfg.Pace),
		rollups:      rollup.NewAggregator(maxConc),
		aging:        aging.NewRater(cfg.Aging),
		storeSem:     semaphore.NewWeighted(int64(maxConc)),
		storeTimeout: storeTimeout,
	}
	e.genCtx, e.genCancel = context.WithCancelCause(context.Background())
	return e
}

// Invalidate drops every cached view and abandons in-flight computations.
// Ingestion calls it after each successful batch.
func (e *Engine) Invalidate(ctx context.Context) error {
	e.mu.Lock()
	e.genCancel(ErrSuperseded)
	e.genCtx, e.genCancel = context.WithCancelCause(context.Background())
	e.mu.Unlock()

	if e.cache == nil {
		return nil
	}
	gen, err := e.cache.Invalidate(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: invalidate cache")
	}
	zap.L().Info("engine: cache invalidated", zap.Uint64("generation", gen))
	return nil
}

func (e *Engine) generation() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.genCtx
}

// ResolveAsOf returns the calendar date views are computed for. A zero
// asOf means the latest observation date, or today when the store is empty.
func (e *Engine) ResolveAsOf(ctx context.Context, asOf, now time.Time) (time.Time, error) {
	if !asOf.IsZero() {
		return model.DateOf(asOf), nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	latest, ok, err := e.store.LatestObservationDate(ctx)
	if err != nil {
		return time.Time{}, model.Upstream(eris.Wrap(err, "engine: latest observation date"))
	}
	if !ok {
		return model.DateOf(now), nil
	}
	return latest, nil
}

// state is everything a view reads for one as-of date.
type state struct {
	asOf      time.Time
	now       time.Time
	rows      []model.DealSnapshot
	deals     []model.Deal
	flags     []model.RiskFlags
	zombies   []model.Zombie
	zombieIDs map[string]struct{}
}

// open returns the open, non-zombie deals with their flags.
func (s *state) open() ([]model.Deal, []model.RiskFlags) {
	var deals []model.Deal
	var flags []model.RiskFlags
	for i, d := range s.deals {
		if _, zombie := s.zombieIDs[d.EntityID]; !d.IsOpen() || zombie {
			continue
		}
		deals = append(deals, d)
		flags = append(flags, s.flags[i])
	}
	return deals, flags
}

// load reads and normalizes the snapshots through asOf. Deals and meetings
// are read concurrently under the store semaphore.
func (e *Engine) load(ctx context.Context, asOf, now time.Time) (*state, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	var rows []model.DealSnapshot
	var meetings []model.MeetingSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.withStore(gctx, func(ctx context.Context) (err error) {
			rows, err = e.store.ListDealSnapshots(ctx, asOf)
			return err
		})
	})
	g.Go(func() error {
		return e.withStore(gctx, func(ctx context.Context) (err error) {
			meetings, err = e.store.ListMeetingSnapshots(ctx, asOf)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, model.Upstream(eris.Wrap(err, "engine: load snapshots"))
	}

	s := &state{asOf: asOf, now: now, rows: rows}
	s.deals = e.norm.Normalize(rows, meetings, asOf, now)
	s.flags = e.classifier.ClassifyAll(s.deals, now)
	s.zombies = e.zombies.Detect(s.deals, now)
	s.zombieIDs = scorer.IDs(s.zombies)
	return s, nil
}

func (e *Engine) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.storeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.storeSem.Release(1)
	return fn(ctx)
}

// state returns the shared state for asOf. Concurrent callers for the same
// date and generation share one load.
func (e *Engine) state(ctx context.Context, asOf, now time.Time, gen uint64) (*state, error) {
	key := fmt.Sprintf("state:%s:g%d", asOf.Format(time.DateOnly), gen)
	v, err := e.share(ctx, key, func(ctx context.Context) (any, error) {
		return e.load(ctx, asOf, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*state), nil
}

// share runs fn once per key across concurrent callers. fn runs under the
// current generation's context so one caller giving up does not abort it
// for the others, while a new batch does.
func (e *Engine) share(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	genCtx := e.generation()
	ch := e.flight.DoChan(key, func() (any, error) {
		return fn(genCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil && genCtx.Err() != nil {
			return nil, context.Cause(genCtx)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// view computes or fetches a cached view. A computation superseded by a new
// batch is retried once against the new generation.
func view[T any](ctx context.Context, e *Engine, name string, asOf, now time.Time, compute func(ctx context.Context, s *state) (T, error)) (T, error) {
	var zero T
	asOf, err := e.ResolveAsOf(ctx, asOf, now)
	if err != nil {
		e.metrics.ViewError(name)
		return zero, err
	}
	now = model.ClockAt(asOf, now)

	for attempt := 0; ; attempt++ {
		out, err := viewOnce(ctx, e, name, asOf, now, compute)
		if errors.Is(err, ErrSuperseded) && attempt == 0 {
			zap.L().Debug("engine: view superseded, recomputing", zap.String("view", name))
			continue
		}
		if err != nil {
			e.metrics.ViewError(name)
		}
		return out, err
	}
}

func viewOnce[T any](ctx context.Context, e *Engine, name string, asOf, now time.Time, compute func(ctx context.Context, s *state) (T, error)) (T, error) {
	var zero T
	gen := e.cacheGeneration(ctx)
	key := cache.Key(name, asOf, gen)

	if out, ok := cacheGet[T](ctx, e, name, key); ok {
		return out, nil
	}

	v, err := e.share(ctx, key, func(ctx context.Context) (any, error) {
		start := time.Now()
		s, err := e.state(ctx, asOf, now, gen)
		if err != nil {
			return nil, err
		}
		out, err := compute(ctx, s)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveView(name, time.Since(start))
		if ctx.Err() == nil && e.cacheGeneration(ctx) == gen {
			e.cacheSet(ctx, key, out)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func (e *Engine) cacheGeneration(ctx context.Context) uint64 {
	if e.cache == nil {
		return 0
	}
	gen, err := e.cache.Generation(ctx)
	if err != nil {
		zap.L().Warn("engine: cache generation unavailable", zap.Error(err))
		return 0
	}
	return gen
}

func cacheGet[T any](ctx context.Context, e *Engine, name, key string) (T, bool) {
	var out T
	if e.cache == nil {
		return out, false
	}
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("engine: cache get failed", zap.String("key", key), zap.Error(err))
		return out, false
	}
	e.metrics.CacheLookup(name, ok)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		zap.L().Warn("engine: discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return out, false
	}
	return out, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, v any) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("engine: cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := e.cache.Set(ctx, key, data); err != nil {
		zap.L().Warn("engine: cache set failed", zap.String("key", key), zap.Error(err))
	}
}
