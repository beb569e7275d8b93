package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/store"
)

// Invalidator drops derived results once new snapshots land.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Ingestor appends source batches to the snapshot store.
type Ingestor struct {
	store   store.Store
	inval   Invalidator
	metrics *metrics.Metrics
}

// New creates an Ingestor. inval and m may be nil.
func New(st store.Store, inval Invalidator, m *metrics.Metrics) *Ingestor {
	return &Ingestor{store: st, inval: inval, metrics: m}
}

// Run fetches one batch from src, stamps it with the observation date of
// now, and appends deals and meetings in one transaction. Rows already
// present for that date are skipped, so re-running a day is harmless. The run is recorded whether or not it
// succeeds.
func (i *Ingestor) Run(ctx context.Context, src Source, now time.Time) (store.IngestRun, error) {
	run := store.IngestRun{
		ID:         uuid.NewString(),
		Source:     src.Name(),
		ObservedOn: model.DateOf(now),
		StartedAt:  time.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("source", run.Source))
	log.Info("ingest: starting", zap.Time("observed_on", run.ObservedOn))

	err := i.run(ctx, src, now, &run, log)
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
	}
	if recErr := i.store.RecordIngestRun(ctx, run); recErr != nil {
		log.Warn("ingest: failed to record run", zap.Error(recErr))
	}
	i.metrics.IngestRun(run.Source, err)
	if err != nil {
		log.Error("ingest: failed", zap.Error(err))
		return run, err
	}

	if i.inval != nil {
		if err := i.inval.Invalidate(ctx); err != nil {
			log.Warn("ingest: cache invalidation failed", zap.Error(err))
		}
	}
	log.Info("ingest: complete",
		zap.Int("deals_seen", run.DealsSeen),
		zap.Int64("deals_inserted", run.DealsInserted),
		zap.Int("meetings_seen", run.MeetingsSeen),
		zap.Int64("meetings_inserted", run.MeetingsInserted),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (i *Ingestor) run(ctx context.Context, src Source, now time.Time, run *store.IngestRun, log *zap.Logger) error {
	batch, err := src.Fetch(ctx, now)
	if err != nil {
		return eris.Wrapf(err, "ingest: fetch from %s", src.Name())
	}

	deals := Stamp(batch.Deals, run.ObservedOn, run.ID)
	meetings := StampMeetings(batch.Meetings, run.ObservedOn, run.ID)
	if dropped := len(batch.Deals) - len(deals); dropped > 0 {
		log.Warn("ingest: dropped invalid or duplicate deals", zap.Int("count", dropped))
	}
	run.DealsSeen = len(deals)
	run.MeetingsSeen = len(meetings)

	res, err := i.store.AppendBatch(ctx, deals, meetings)
	if err != nil {
		return model.Upstream(eris.Wrap(err, "ingest: append batch"))
	}
	run.DealsInserted, run.MeetingsInserted = res.DealsInserted, res.MeetingsInserted
	i.metrics.IngestRows("deal", run.DealsSeen, run.DealsInserted)
	i.metrics.IngestRows("meeting", run.MeetingsSeen, run.MeetingsInserted)
	return nil
}

// Stamp sets the observation date, schema tag and run id on every deal.
// Rows without an entity id are dropped, as are repeats of an entity id
// within the batch (first wins).
func Stamp(deals []model.DealSnapshot, observedOn time.Time, runID string) []model.DealSnapshot {
	seen := make(map[string]struct{}, len(deals))
	out := make([]model.DealSnapshot, 0, len(deals))
	for _, d := range deals {
		if d.EntityID == "" {
			continue
		}
		if _, dup := seen[d.EntityID]; dup {
			continue
		}
		seen[d.EntityID] = struct{}{}
		d.ObservationDate = observedOn
		d.SchemaVersion = model.SchemaV1
		d.RunID = runID
		out = append(out, d)
	}
	return out
}

// StampMeetings is Stamp for meetings. Unknown outcomes become pending.
func StampMeetings(meetings []model.MeetingSnapshot, observedOn time.Time, runID string) []model.MeetingSnapshot {
	seen := make(map[string]struct{}, len(meetings))
	out := make([]model.MeetingSnapshot, 0, len(meetings))
	for _, m := range meetings {
		if m.MeetingID == "" {
			continue
		}
		if _, dup := seen[m.MeetingID]; dup {
			continue
		}
		seen[m.MeetingID] = struct{}{}
		if !m.Outcome.Valid() {
			m.Outcome = model.MeetingPending
		}
		m.ObservationDate = observedOn
		m.SchemaVersion = model.SchemaV1
		m.RunID = runID
		out = append(out, m)
	}
	return out
}
