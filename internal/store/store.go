// Package store persists append-only deal and meeting snapshots. Rows are
// never updated or deleted; a repeated (entity, observation date) append is
// ignored.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// IngestRun records one ingestion batch.
type IngestRun struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	ObservedOn       time.Time `json:"observed_on"`
	DealsSeen        int       `json:"deals_seen"`
	MeetingsSeen     int       `json:"meetings_seen"`
	DealsInserted    int64     `json:"deals_inserted"`
	MeetingsInserted int64     `json:"meetings_inserted"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}

// BatchResult counts the rows an AppendBatch inserted.
type BatchResult struct {
	DealsInserted    int64
	MeetingsInserted int64
}

// Store defines the snapshot persistence interface.
type Store interface {
	// LatestObservationDate returns the newest deal observation date. ok is
	// false when the store is empty.
	LatestObservationDate(ctx context.Context) (date time.Time, ok bool, err error)
	// ListDealSnapshots returns every deal row observed on or before through,
	// ordered by entity id then observation date.
	ListDealSnapshots(ctx context.Context, through time.Time) ([]model.DealSnapshot, error)
	// ListMeetingSnapshots returns every meeting row observed on or before
	// through, ordered by meeting id then observation date.
	ListMeetingSnapshots(ctx context.Context, through time.Time) ([]model.MeetingSnapshot, error)

	// AppendDealSnapshots inserts rows, skipping (entity, date) pairs that
	// already exist. Returns the number of rows inserted.
	AppendDealSnapshots(ctx context.Context, rows []model.DealSnapshot) (int64, error)
	AppendMeetingSnapshots(ctx context.Context, rows []model.MeetingSnapshot) (int64, error)
	// AppendBatch appends one day's deals and meetings atomically: either
	// both land or neither does.
	AppendBatch(ctx context.Context, deals []model.DealSnapshot, meetings []model.MeetingSnapshot) (BatchResult, error)

	RecordIngestRun(ctx context.Context, run IngestRun) error
	ListIngestRuns(ctx context.Context, limit int) ([]IngestRun, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open opens the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "dealhealth.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// dealColumns is the column order shared by inserts and selects.
var dealColumns = []string{
	"entity_id", "observation_date", "name", "primary_revenue", "fallback_amount",
	"stage_code", "stage_label", "owner_id", "owner_name", "owner_email", "created_by",
	"company_name", "industry", "created_at", "last_modified_at", "last_contact_at",
	"close_date", "days_in_stage", "contact_count", "next_step", "is_won", "is_lost",
	"schema_version", "run_id",
}

var meetingColumns = []string{
	"meeting_id", "observation_date", "deal_ids", "start_time", "outcome",
	"schema_version", "run_id",
}

func dealValues(s model.DealSnapshot) []any {
	return []any{
		s.EntityID, model.DateOf(s.ObservationDate), s.Name, s.PrimaryRevenue, s.FallbackAmount,
		s.StageCode, s.StageLabel, s.OwnerID, s.OwnerName, s.OwnerEmail, s.CreatedBy,
		s.CompanyName, s.Industry, s.CreatedAt.UTC(), utcPtr(s.LastModifiedAt), utcPtr(s.LastContactAt),
		datePtr(s.CloseDate), s.DaysInStage, s.ContactCount, s.NextStep, s.IsWon, s.IsLost,
		schemaOf(s.SchemaVersion), s.RunID,
	}
}

func schemaOf(v string) string {
	if v == "" {
		return model.SchemaV1
	}
	return v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func datePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := model.DateOf(*t)
	return &d
}
