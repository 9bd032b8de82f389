package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthyDB(t *testing.T) (sqlmock.Sqlmock, *HealthChecker) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(10)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	return mock, NewHealthChecker(db, nil)
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	rr := httptest.NewRecorder()
	checker.Liveness(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, StatusHealthy, body["status"])
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		status := NewHealthChecker(nil, nil).Check(context.Background())

		assert.Equal(t, StatusHealthy, status.Status)
		assert.Empty(t, status.Dependencies)
		assert.Equal(t, Version, status.Version)
		assert.False(t, status.Timestamp.IsZero())
	})

	t.Run("healthy database", func(t *testing.T) {
		mock, checker := newHealthyDB(t)

		status := checker.Check(context.Background())

		require.Contains(t, status.Dependencies, "database")
		assert.NotEqual(t, StatusUnhealthy, status.Dependencies["database"].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database ping failure is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		status := NewHealthChecker(db, nil).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, "connection refused", status.Dependencies["database"].Message)
	})

	t.Run("redis failure only degrades", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
		defer client.Close()

		status := NewHealthChecker(nil, client).Check(context.Background())

		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	})

	t.Run("healthy redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		status := NewHealthChecker(nil, client).Check(context.Background())

		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
		assert.NotZero(t, status.Dependencies["redis"].Latency)
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy returns 200", func(t *testing.T) {
		_, checker := newHealthyDB(t)

		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unhealthy database returns 503", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		rr := httptest.NewRecorder()
		NewHealthChecker(db, nil).Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
		assert.Equal(t, StatusUnhealthy, status.Status)
	})

	t.Run("degraded still returns 200", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
		defer client.Close()

		rr := httptest.NewRecorder()
		NewHealthChecker(nil, client).Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestHealthChecker_DatabaseQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("query timeout"))

	status := NewHealthChecker(db, nil).checkDatabase(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Message, "query failed")
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
