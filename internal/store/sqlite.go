package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deal-health/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored
// as ISO-8601 text so range predicates compare lexically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deal_snapshots (
	entity_id        TEXT NOT NULL,
	observation_date TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	primary_revenue  REAL,
	fallback_amount  REAL,
	stage_code       TEXT NOT NULL DEFAULT '',
	stage_label      TEXT NOT NULL DEFAULT '',
	owner_id         TEXT NOT NULL DEFAULT '',
	owner_name       TEXT NOT NULL DEFAULT '',
	owner_email      TEXT NOT NULL DEFAULT '',
	created_by       TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	industry         TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	last_modified_at TEXT,
	last_contact_at  TEXT,
	close_date       TEXT,
	days_in_stage    INTEGER NOT NULL DEFAULT 0,
	contact_count    INTEGER NOT NULL DEFAULT 0,
	next_step        TEXT NOT NULL DEFAULT '',
	is_won           INTEGER NOT NULL DEFAULT 0,
	is_lost          INTEGER NOT NULL DEFAULT 0,
	schema_version   TEXT NOT NULL DEFAULT 'v1',
	run_id           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_id, observation_date)
);

CREATE INDEX IF NOT EXISTS idx_deal_snapshots_observation ON deal_snapshots(observation_date);

CREATE TABLE IF NOT EXISTS meeting_snapshots (
	meeting_id       TEXT NOT NULL,
	observation_date TEXT NOT NULL,
	deal_ids         TEXT NOT NULL DEFAULT '[]',
	start_time       TEXT NOT NULL,
	outcome          TEXT NOT NULL DEFAULT 'pending',
	schema_version   TEXT NOT NULL DEFAULT 'v1',
	run_id           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (meeting_id, observation_date)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	observed_on       TEXT NOT NULL,
	deals_seen        INTEGER NOT NULL DEFAULT 0,
	meetings_seen     INTEGER NOT NULL DEFAULT 0,
	deals_inserted    INTEGER NOT NULL DEFAULT 0,
	meetings_inserted INTEGER NOT NULL DEFAULT 0,
	started_at        TEXT NOT NULL,
	finished_at       TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT ''
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LatestObservationDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT max(observation_date) FROM deal_snapshots`).Scan(&latest)
	if err != nil {
		return time.Time{}, false, eris.Wrap(err, "sqlite: latest observation date")
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.DateOnly, latest.String)
	if err != nil {
		return time.Time{}, false, eris.Wrap(err, "sqlite: parse observation date")
	}
	return t, true, nil
}

func (s *SQLiteStore) ListDealSnapshots(ctx context.Context, through time.Time) ([]model.DealSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(dealColumns, ", ")+`
		FROM deal_snapshots
		WHERE observation_date <= ?
		ORDER BY entity_id, observation_date`, formatDate(through))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deal snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DealSnapshot
	for rows.Next() {
		var d model.DealSnapshot
		var obs, created string
		var modified, contact, closeDate sql.NullString
		var primary, fallback sql.NullFloat64
		if err := rows.Scan(
			&d.EntityID, &obs, &d.Name, &primary, &fallback,
			&d.StageCode, &d.StageLabel, &d.OwnerID, &d.OwnerName, &d.OwnerEmail, &d.CreatedBy,
			&d.CompanyName, &d.Industry, &created, &modified, &contact,
			&closeDate, &d.DaysInStage, &d.ContactCount, &d.NextStep, &d.IsWon, &d.IsLost,
			&d.SchemaVersion, &d.RunID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal snapshot")
		}
		if d.ObservationDate, err = time.Parse(time.DateOnly, obs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse observation date of %s", d.EntityID)
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse created_at of %s", d.EntityID)
		}
		d.PrimaryRevenue = floatPtr(primary)
		d.FallbackAmount = floatPtr(fallback)
		d.LastModifiedAt = parseNullTime(modified, time.RFC3339Nano)
		d.LastContactAt = parseNullTime(contact, time.RFC3339Nano)
		d.CloseDate = parseNullTime(closeDate, time.DateOnly)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate deal snapshots")
}

func (s *SQLiteStore) ListMeetingSnapshots(ctx context.Context, through time.Time) ([]model.MeetingSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(meetingColumns, ", ")+`
		FROM meeting_snapshots
		WHERE observation_date <= ?
		ORDER BY meeting_id, observation_date`, formatDate(through))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list meeting snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MeetingSnapshot
	for rows.Next() {
		var m model.MeetingSnapshot
		var obs, ids, start, outcome string
		if err := rows.Scan(&m.MeetingID, &obs, &ids, &start, &outcome, &m.SchemaVersion, &m.RunID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan meeting snapshot")
		}
		if m.ObservationDate, err = time.Parse(time.DateOnly, obs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse observation date of %s", m.MeetingID)
		}
		if m.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse start time of %s", m.MeetingID)
		}
		if err := json.Unmarshal([]byte(ids), &m.DealIDs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal deal ids of %s", m.MeetingID)
		}
		m.Outcome = model.MeetingOutcome(outcome)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate meeting snapshots")
}

var (
	sqliteDealInsert    = `INSERT OR IGNORE INTO deal_snapshots (` + strings.Join(dealColumns, ", ") + `) VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(dealColumns)), ", ") + `)`
	sqliteMeetingInsert = `INSERT OR IGNORE INTO meeting_snapshots (` + strings.Join(meetingColumns, ", ") + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

func sqliteDealArgs(r model.DealSnapshot) []any {
	return []any{
		r.EntityID, formatDate(r.ObservationDate), r.Name, r.PrimaryRevenue, r.FallbackAmount,
		r.StageCode, r.StageLabel, r.OwnerID, r.OwnerName, r.OwnerEmail, r.CreatedBy,
		r.CompanyName, r.Industry, formatTime(r.CreatedAt), formatNullTime(r.LastModifiedAt, time.RFC3339Nano),
		formatNullTime(r.LastContactAt, time.RFC3339Nano), formatNullTime(r.CloseDate, time.DateOnly),
		r.DaysInStage, r.ContactCount, r.NextStep, r.IsWon, r.IsLost, schemaOf(r.SchemaVersion), r.RunID,
	}
}

func sqliteMeetingArgs(m model.MeetingSnapshot) []any {
	ids := m.DealIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, _ := json.Marshal(ids) //nolint:errchkjson
	return []any{
		m.MeetingID, formatDate(m.ObservationDate), string(idsJSON), formatTime(m.StartTime),
		string(m.Outcome), schemaOf(m.SchemaVersion), m.RunID,
	}
}

func (s *SQLiteStore) AppendDealSnapshots(ctx context.Context, rows []model.DealSnapshot) (int64, error) {
	var n int64
	err := s.inTx(ctx, "deal snapshots", func(tx *sql.Tx) (err error) {
		n, err = insertRows(ctx, tx, "deal snapshots", sqliteDealInsert, len(rows), func(i int) []any {
			return sqliteDealArgs(rows[i])
		})
		return err
	})
	return n, err
}

func (s *SQLiteStore) AppendMeetingSnapshots(ctx context.Context, rows []model.MeetingSnapshot) (int64, error) {
	var n int64
	err := s.inTx(ctx, "meeting snapshots", func(tx *sql.Tx) (err error) {
		n, err = insertRows(ctx, tx, "meeting snapshots", sqliteMeetingInsert, len(rows), func(i int) []any {
			return sqliteMeetingArgs(rows[i])
		})
		return err
	})
	return n, err
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, deals []model.DealSnapshot, meetings []model.MeetingSnapshot) (BatchResult, error) {
	var res BatchResult
	err := s.inTx(ctx, "batch", func(tx *sql.Tx) (err error) {
		res.DealsInserted, err = insertRows(ctx, tx, "deal snapshots", sqliteDealInsert, len(deals), func(i int) []any {
			return sqliteDealArgs(deals[i])
		})
		if err != nil {
			return err
		}
		res.MeetingsInserted, err = insertRows(ctx, tx, "meeting snapshots", sqliteMeetingInsert, len(meetings), func(i int) []any {
			return sqliteMeetingArgs(meetings[i])
		})
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// inTx runs fn in one transaction, committing only when fn succeeds.
func (s *SQLiteStore) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin append %s", what)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit append %s", what)
}

// insertRows inserts n rows and returns the number that were not ignored.
func insertRows(ctx context.Context, tx *sql.Tx, what, query string, n int, args func(i int) []any) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare append %s", what)
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for i := range n {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: append %s row %d", what, i)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: rows affected for %s", what)
		}
		inserted += affected
	}
	return inserted, nil
}

func (s *SQLiteStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs
			(id, source, observed_on, deals_seen, meetings_seen, deals_inserted,
			 meetings_inserted, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, formatDate(run.ObservedOn), run.DealsSeen, run.MeetingsSeen,
		run.DealsInserted, run.MeetingsInserted, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Error)
	return eris.Wrapf(err, "sqlite: record ingest run %s", run.ID)
}

func (s *SQLiteStore) ListIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, observed_on, deals_seen, meetings_seen, deals_inserted,
		       meetings_inserted, started_at, finished_at, error
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingest runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []IngestRun
	for rows.Next() {
		var r IngestRun
		var observed, started, finished string
		if err := rows.Scan(&r.ID, &r.Source, &observed, &r.DealsSeen, &r.MeetingsSeen,
			&r.DealsInserted, &r.MeetingsInserted, &started, &finished, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest run")
		}
		r.ObservedOn, _ = time.Parse(time.DateOnly, observed)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ingest runs")
}

func formatDate(t time.Time) string { return model.DateOf(t).Format(time.DateOnly) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatNullTime(t *time.Time, layout string) any {
	if t == nil {
		return nil
	}
	if layout == time.DateOnly {
		return formatDate(*t)
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString, layout string) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(layout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
