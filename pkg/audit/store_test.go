package audit

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBStore(t *testing.T) (*DBStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBStore(db), mock
}

func entryColumnNames() []string {
	return []string{
		"id", "event", "subject_type", "subject_id", "actor_id", "description",
		"old_values", "new_values", "severity", "tags", "metadata", "created_at",
	}
}

func entryRow(id int64, event Event) []driver.Value {
	return []driver.Value{
		id, string(event), "role", "3", int64(7), "role updated",
		[]byte(`{"level":10}`), []byte(`{"level":20}`), string(SeverityInfo),
		[]byte(`["entity","role"]`), []byte(`{"ip_address":"10.0.0.1"}`), time.Now().UTC(),
	}
}

func TestDBStore_Search(t *testing.T) {
	store, mock := newTestDBStore(t)

	mock.ExpectQuery("FROM audit_logs WHERE 1=1 AND event =").
		WithArgs("updated", 50).
		WillReturnRows(sqlmock.NewRows(entryColumnNames()).AddRow(entryRow(2, EventUpdated)...))

	entries, err := store.Search(context.Background(), SearchFilter{Event: EventUpdated, Limit: 50})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventUpdated, entries[0].Event)
	assert.Equal(t, "role", entries[0].SubjectType)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, int64(7), *entries[0].ActorID)
	assert.Equal(t, map[string]any{"level": float64(10)}, entries[0].OldValues)
	assert.Equal(t, []string{"entity", "role"}, entries[0].Tags)
	assert.Equal(t, "10.0.0.1", entries[0].Metadata["ip_address"])
}

func TestDBStore_Search_FreeText(t *testing.T) {
	store, mock := newTestDBStore(t)

	mock.ExpectQuery("LOWER").
		WithArgs("%export%", "%export%").
		WillReturnRows(sqlmock.NewRows(entryColumnNames()))

	entries, err := store.Search(context.Background(), SearchFilter{Search: "Export"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDBStore_Get_NotFound(t *testing.T) {
	store, mock := newTestDBStore(t)

	mock.ExpectQuery("FROM audit_logs WHERE id =").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(entryColumnNames()))

	_, err := store.Get(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDBStore_Stats(t *testing.T) {
	store, mock := newTestDBStore(t)
	// The aggregates run concurrently, so arrival order is unspecified.
	mock.MatchExpectationsInOrder(false)

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM audit_logs`)).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery("GROUP BY event").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"event", "count"}).
			AddRow("login", int64(8)).
			AddRow("role_assigned", int64(4)))
	mock.ExpectQuery("GROUP BY severity").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "count"}).
			AddRow("info", int64(8)).
			AddRow("critical", int64(4)))
	mock.ExpectQuery("GROUP BY actor_id").
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"actor_id", "entries"}).
			AddRow(int64(7), int64(9)))

	stats, err := store.Stats(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.Total)
	assert.Equal(t, int64(8), stats.ByEvent[EventLogin])
	assert.Equal(t, int64(4), stats.BySeverity[SeverityCritical])
	require.Len(t, stats.TopActors, 1)
	assert.Equal(t, int64(7), stats.TopActors[0].ActorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_Purge(t *testing.T) {
	store, mock := newTestDBStore(t)
	cutoff := time.Now().UTC().AddDate(0, 0, -90)

	mock.ExpectExec("DELETE FROM audit_logs WHERE created_at <").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	purged, err := store.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), purged)
}

func TestDBStore_Export_CapsLimit(t *testing.T) {
	store, mock := newTestDBStore(t)

	// A limit of 0 (and anything above the cap) clamps to MaxExportRows.
	mock.ExpectQuery("FROM audit_logs WHERE 1=1").
		WithArgs(MaxExportRows).
		WillReturnRows(sqlmock.NewRows(entryColumnNames()).AddRow(entryRow(1, EventLogin)...))

	data, err := store.Export(context.Background(), SearchFilter{}, ExportFormatCSV)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,event,actor")
	assert.Contains(t, string(data), "login")
}
