package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body["error"]
}

func TestWriteSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rr, map[string]string{"name": "auditor"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "auditor", body["name"])
}

func TestWriteCreated(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rr, map[string]int64{"id": 7}))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestWriteNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteNoContent(rr)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		errMsg string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "invalid JSON") }, http.StatusBadRequest, "invalid JSON"},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "name is required") }, http.StatusBadRequest, "name is required"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "authentication required") }, http.StatusUnauthorized, "authentication required"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "missing permission: roles.edit") }, http.StatusForbidden, "missing permission: roles.edit"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "role not found") }, http.StatusNotFound, "role not found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "role already exists") }, http.StatusConflict, "role already exists"},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "rate limit exceeded") }, http.StatusTooManyRequests, "rate limit exceeded"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("database gone")) }, http.StatusInternalServerError, "database gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.errMsg, decodeError(t, rr))
		})
	}
}

func TestWriteError_UsesErrMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusUnprocessableEntity, errors.New("role is protected"))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "role is protected", decodeError(t, rr))
}
