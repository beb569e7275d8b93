package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-health/internal/db"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	selectDeals = `SELECT ` + strings.Join(dealColumns, ", ") + `
		FROM deal_snapshots
		WHERE observation_date <= $1
		ORDER BY entity_id, observation_date`
	selectMeetings = `SELECT ` + strings.Join(meetingColumns, ", ") + `
		FROM meeting_snapshots
		WHERE observation_date <= $1
		ORDER BY meeting_id, observation_date`
)

// preparedStatements lists the read queries prepared on each new connection.
var preparedStatements = map[string]string{
	"latest_observation": `SELECT max(observation_date) FROM deal_snapshots`,
	"select_deals":       selectDeals,
	"select_meetings":    selectMeetings,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, retry: resilience.DefaultRetryConfig()}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, retry resilience.RetryConfig) *PostgresStore {
	return &PostgresStore{pool: pool, retry: retry}
}

// Pool returns the underlying database pool for subsystems that write their
// own tables (focus score audit runs).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deal_snapshots (
	entity_id        TEXT NOT NULL,
	observation_date DATE NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	primary_revenue  DOUBLE PRECISION,
	fallback_amount  DOUBLE PRECISION,
	stage_code       TEXT NOT NULL DEFAULT '',
	stage_label      TEXT NOT NULL DEFAULT '',
	owner_id         TEXT NOT NULL DEFAULT '',
	owner_name       TEXT NOT NULL DEFAULT '',
	owner_email      TEXT NOT NULL DEFAULT '',
	created_by       TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	industry         TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	last_modified_at TIMESTAMPTZ,
	last_contact_at  TIMESTAMPTZ,
	close_date       DATE,
	days_in_stage    INTEGER NOT NULL DEFAULT 0,
	contact_count    INTEGER NOT NULL DEFAULT 0,
	next_step        TEXT NOT NULL DEFAULT '',
	is_won           BOOLEAN NOT NULL DEFAULT false,
	is_lost          BOOLEAN NOT NULL DEFAULT false,
	schema_version   TEXT NOT NULL DEFAULT 'v1',
	run_id           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_id, observation_date)
);

CREATE INDEX IF NOT EXISTS idx_deal_snapshots_observation ON deal_snapshots(observation_date);

CREATE TABLE IF NOT EXISTS meeting_snapshots (
	meeting_id       TEXT NOT NULL,
	observation_date DATE NOT NULL,
	deal_ids         TEXT[] NOT NULL DEFAULT '{}',
	start_time       TIMESTAMPTZ NOT NULL,
	outcome          TEXT NOT NULL DEFAULT 'pending',
	schema_version   TEXT NOT NULL DEFAULT 'v1',
	run_id           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (meeting_id, observation_date)
);

CREATE INDEX IF NOT EXISTS idx_meeting_snapshots_observation ON meeting_snapshots(observation_date);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	observed_on       DATE NOT NULL,
	deals_seen        INTEGER NOT NULL DEFAULT 0,
	meetings_seen     INTEGER NOT NULL DEFAULT 0,
	deals_inserted    BIGINT NOT NULL DEFAULT 0,
	meetings_inserted BIGINT NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL,
	error             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS focus_score_runs (
	run_id           TEXT NOT NULL,
	as_of            DATE NOT NULL,
	entity_id        TEXT NOT NULL,
	rank             INTEGER NOT NULL,
	engagement_score DOUBLE PRECISION NOT NULL,
	threading_score  DOUBLE PRECISION NOT NULL,
	stage_age_score  DOUBLE PRECISION NOT NULL,
	size_score       DOUBLE PRECISION NOT NULL,
	focus_score      DOUBLE PRECISION NOT NULL,
	risk_priority    TEXT NOT NULL,
	config_hash      TEXT NOT NULL,
	scored_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_focus_score_runs_as_of ON focus_score_runs(as_of);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LatestObservationDate(ctx context.Context) (time.Time, bool, error) {
	latest, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*time.Time, error) {
		var t *time.Time
		err := s.pool.QueryRow(ctx, `SELECT max(observation_date) FROM deal_snapshots`).Scan(&t)
		return t, err
	})
	if err != nil {
		return time.Time{}, false, eris.Wrap(err, "postgres: latest observation date")
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return model.DateOf(*latest), true, nil
}

func (s *PostgresStore) ListDealSnapshots(ctx context.Context, through time.Time) ([]model.DealSnapshot, error) {
	out, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]model.DealSnapshot, error) {
		rows, err := s.pool.Query(ctx, selectDeals, model.DateOf(through))
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, scanDeal)
	})
	return out, eris.Wrap(err, "postgres: list deal snapshots")
}

func (s *PostgresStore) ListMeetingSnapshots(ctx context.Context, through time.Time) ([]model.MeetingSnapshot, error) {
	out, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]model.MeetingSnapshot, error) {
		rows, err := s.pool.Query(ctx, selectMeetings, model.DateOf(through))
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MeetingSnapshot, error) {
			var m model.MeetingSnapshot
			var outcome string
			err := row.Scan(&m.MeetingID, &m.ObservationDate, &m.DealIDs, &m.StartTime,
				&outcome, &m.SchemaVersion, &m.RunID)
			m.Outcome = model.MeetingOutcome(outcome)
			return m, err
		})
	})
	return out, eris.Wrap(err, "postgres: list meeting snapshots")
}

func scanDeal(row pgx.CollectableRow) (model.DealSnapshot, error) {
	var d model.DealSnapshot
	err := row.Scan(
		&d.EntityID, &d.ObservationDate, &d.Name, &d.PrimaryRevenue, &d.FallbackAmount,
		&d.StageCode, &d.StageLabel, &d.OwnerID, &d.OwnerName, &d.OwnerEmail, &d.CreatedBy,
		&d.CompanyName, &d.Industry, &d.CreatedAt, &d.LastModifiedAt, &d.LastContactAt,
		&d.CloseDate, &d.DaysInStage, &d.ContactCount, &d.NextStep, &d.IsWon, &d.IsLost,
		&d.SchemaVersion, &d.RunID,
	)
	return d, err
}

var (
	dealAppend = db.AppendConfig{
		Table:        "deal_snapshots",
		Columns:      dealColumns,
		ConflictKeys: []string{"entity_id", "observation_date"},
	}
	meetingAppend = db.AppendConfig{
		Table:        "meeting_snapshots",
		Columns:      meetingColumns,
		ConflictKeys: []string{"meeting_id", "observation_date"},
	}
)

func (s *PostgresStore) AppendDealSnapshots(ctx context.Context, rows []model.DealSnapshot) (int64, error) {
	n, err := db.AppendOnly(ctx, s.pool, dealAppend, dealRows(rows))
	return n, eris.Wrap(err, "postgres: append deal snapshots")
}

func (s *PostgresStore) AppendMeetingSnapshots(ctx context.Context, rows []model.MeetingSnapshot) (int64, error) {
	n, err := db.AppendOnly(ctx, s.pool, meetingAppend, meetingRows(rows))
	return n, eris.Wrap(err, "postgres: append meeting snapshots")
}

func (s *PostgresStore) AppendBatch(ctx context.Context, deals []model.DealSnapshot, meetings []model.MeetingSnapshot) (BatchResult, error) {
	var res BatchResult
	if len(deals) == 0 && len(meetings) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "postgres: append batch: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	dn, err := db.AppendTx(ctx, tx, dealAppend, dealRows(deals))
	if err != nil {
		return res, eris.Wrap(err, "postgres: append batch deals")
	}
	mn, err := db.AppendTx(ctx, tx, meetingAppend, meetingRows(meetings))
	if err != nil {
		return res, eris.Wrap(err, "postgres: append batch meetings")
	}
	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "postgres: append batch: commit tx")
	}
	return BatchResult{DealsInserted: dn, MeetingsInserted: mn}, nil
}

func dealRows(rows []model.DealSnapshot) [][]any {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = dealValues(r)
	}
	return values
}

func meetingRows(rows []model.MeetingSnapshot) [][]any {
	values := make([][]any, len(rows))
	for i, m := range rows {
		ids := m.DealIDs
		if ids == nil {
			ids = []string{}
		}
		values[i] = []any{
			m.MeetingID, model.DateOf(m.ObservationDate), ids, m.StartTime.UTC(),
			string(m.Outcome), schemaOf(m.SchemaVersion), m.RunID,
		}
	}
	return values
}

func (s *PostgresStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_runs
			(id, source, observed_on, deals_seen, meetings_seen, deals_inserted,
			 meetings_inserted, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, run.Source, model.DateOf(run.ObservedOn), run.DealsSeen, run.MeetingsSeen,
		run.DealsInserted, run.MeetingsInserted, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Error)
	return eris.Wrapf(err, "postgres: record ingest run %s", run.ID)
}

func (s *PostgresStore) ListIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, observed_on, deals_seen, meetings_seen, deals_inserted,
		       meetings_inserted, started_at, finished_at, error
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingest runs")
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (IngestRun, error) {
		var r IngestRun
		err := row.Scan(&r.ID, &r.Source, &r.ObservedOn, &r.DealsSeen, &r.MeetingsSeen,
			&r.DealsInserted, &r.MeetingsInserted, &r.StartedAt, &r.FinishedAt, &r.Error)
		return r, err
	})
	return runs, eris.Wrap(err, "postgres: scan ingest runs")
}
