package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(d int) time.Time { return time.Date(2025, 5, d, 0, 0, 0, 0, time.UTC) }

func snapshot(id string, obs time.Time, stage string) model.DealSnapshot {
	rev := 25_000.0
	contact := obs.Add(-36 * time.Hour)
	closeDate := obs.AddDate(0, 1, 0)
	return model.DealSnapshot{
		EntityID:        id,
		Name:            "Deal " + id,
		PrimaryRevenue:  &rev,
		StageCode:       stage,
		StageLabel:      stage,
		OwnerID:         "005A",
		OwnerName:       "Alice",
		CompanyName:     "Acme",
		CreatedAt:       obs.AddDate(0, 0, -20).Add(9 * time.Hour),
		LastContactAt:   &contact,
		CloseDate:       &closeDate,
		DaysInStage:     3,
		ContactCount:    2,
		ObservationDate: obs,
		RunID:           "run-1",
	}
}

func TestSQLite_DealSnapshots_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	in := snapshot("opp-1", day(10), "discovery")
	n, err := st.AppendDealSnapshots(ctx, []model.DealSnapshot{in})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.ListDealSnapshots(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, got, 1)

	out := got[0]
	assert.Equal(t, in.EntityID, out.EntityID)
	assert.Equal(t, day(10), out.ObservationDate)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.NotNil(t, out.PrimaryRevenue)
	assert.InDelta(t, 25_000.0, *out.PrimaryRevenue, 0.001)
	assert.Nil(t, out.FallbackAmount)
	assert.Nil(t, out.LastModifiedAt)
	require.NotNil(t, out.LastContactAt)
	assert.True(t, in.LastContactAt.Equal(*out.LastContactAt))
	require.NotNil(t, out.CloseDate)
	assert.Equal(t, day(10).AddDate(0, 1, 0), *out.CloseDate)
	assert.Equal(t, model.SchemaV1, out.SchemaVersion)
	assert.Equal(t, 2, out.ContactCount)
}

func TestSQLite_AppendIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := snapshot("opp-1", day(10), "discovery")
	_, err := st.AppendDealSnapshots(ctx, []model.DealSnapshot{first})
	require.NoError(t, err)

	// A second observation on the same date never overwrites the first.
	again := snapshot("opp-1", day(10), "proposal")
	n, err := st.AppendDealSnapshots(ctx, []model.DealSnapshot{again, snapshot("opp-2", day(10), "proposal")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.ListDealSnapshots(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "discovery", got[0].StageCode)
}

func TestSQLite_ListDealSnapshots_ThroughFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.AppendDealSnapshots(ctx, []model.DealSnapshot{
		snapshot("opp-1", day(10), "discovery"),
		snapshot("opp-1", day(11), "proposal"),
		snapshot("opp-1", day(12), "negotiation"),
	})
	require.NoError(t, err)

	got, err := st.ListDealSnapshots(ctx, day(11).Add(18*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day(10), got[0].ObservationDate)
	assert.Equal(t, day(11), got[1].ObservationDate)
}

func TestSQLite_LatestObservationDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, ok, err := st.LatestObservationDate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.AppendDealSnapshots(ctx, []model.DealSnapshot{
		snapshot("opp-1", day(10), "discovery"),
		snapshot("opp-2", day(14), "discovery"),
	})
	require.NoError(t, err)

	latest, ok, err := st.LatestObservationDate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, day(14), latest)
}

func TestSQLite_MeetingSnapshots(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	start := day(12).Add(15 * time.Hour)

	n, err := st.AppendMeetingSnapshots(ctx, []model.MeetingSnapshot{
		{MeetingID: "evt-1", DealIDs: []string{"opp-1", "opp-2"}, StartTime: start, Outcome: model.MeetingPending, ObservationDate: day(10)},
		{MeetingID: "evt-2", StartTime: start, Outcome: model.MeetingCancelled, ObservationDate: day(10)},
		{MeetingID: "evt-1", DealIDs: []string{"opp-1"}, StartTime: start, Outcome: model.MeetingHeld, ObservationDate: day(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := st.ListMeetingSnapshots(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"opp-1", "opp-2"}, got[0].DealIDs)
	assert.Equal(t, model.MeetingPending, got[0].Outcome)
	assert.True(t, start.Equal(got[0].StartTime))
	assert.Empty(t, got[1].DealIDs)
}

func TestSQLite_AppendBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	res, err := st.AppendBatch(ctx,
		[]model.DealSnapshot{snapshot("opp-1", day(10), "discovery"), snapshot("opp-2", day(10), "proposal")},
		[]model.MeetingSnapshot{{MeetingID: "evt-1", DealIDs: []string{"opp-1"}, StartTime: day(12), Outcome: model.MeetingPending, ObservationDate: day(10)}},
	)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{DealsInserted: 2, MeetingsInserted: 1}, res)
}

func TestSQLite_AppendBatch_MeetingFailureKeepsNoDeals(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx, `DROP TABLE meeting_snapshots`)
	require.NoError(t, err)

	_, err = st.AppendBatch(ctx,
		[]model.DealSnapshot{snapshot("opp-1", day(10), "discovery")},
		[]model.MeetingSnapshot{{MeetingID: "evt-1", StartTime: day(12), Outcome: model.MeetingPending, ObservationDate: day(10)}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meeting snapshots")

	got, err := st.ListDealSnapshots(ctx, day(10))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_IngestRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	started := day(10).Add(6 * time.Hour)

	for i, id := range []string{"run-1", "run-2"} {
		require.NoError(t, st.RecordIngestRun(ctx, IngestRun{
			ID:            id,
			Source:        "file",
			ObservedOn:    day(10 + i),
			DealsSeen:     4,
			DealsInserted: int64(4 - i),
			StartedAt:     started.AddDate(0, 0, i),
			FinishedAt:    started.AddDate(0, 0, i).Add(time.Minute),
		}))
	}

	runs, err := st.ListIngestRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, day(11), runs[0].ObservedOn)
	assert.Equal(t, int64(3), runs[0].DealsInserted)

	runs, err = st.ListIngestRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
