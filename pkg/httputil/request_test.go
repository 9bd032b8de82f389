package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithVars(vars map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/roles/1", nil)
	return mux.SetURLVars(r, vars)
}

func TestParseJSONOrError(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader(`{"name":"auditor"}`))
		rr := httptest.NewRecorder()

		var dest struct {
			Name string `json:"name"`
		}
		require.True(t, ParseJSONOrError(rr, r, &dest))
		assert.Equal(t, "auditor", dest.Name)
	})

	t.Run("malformed body writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader(`{"name":`))
		rr := httptest.NewRecorder()

		var dest struct{}
		assert.False(t, ParseJSONOrError(rr, r, &dest))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr), "invalid JSON")
	})
}

func TestParsePathInt64(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		id, err := ParsePathInt64(requestWithVars(map[string]string{"id": "42"}), "id")
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ParsePathInt64(requestWithVars(nil), "id")
		assert.ErrorContains(t, err, "missing path parameter")
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := ParsePathInt64(requestWithVars(map[string]string{"id": "abc"}), "id")
		assert.ErrorContains(t, err, "invalid integer")
	})
}

func TestParsePathInt64OrError(t *testing.T) {
	rr := httptest.NewRecorder()
	id, ok := ParsePathInt64OrError(rr, requestWithVars(map[string]string{"id": "7"}), "id")
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	rr = httptest.NewRecorder()
	_, ok = ParsePathInt64OrError(rr, requestWithVars(map[string]string{"id": "x"}), "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParsePathStringOrError(t *testing.T) {
	rr := httptest.NewRecorder()
	name, ok := ParsePathStringOrError(rr, requestWithVars(map[string]string{"permission": "roles.edit"}), "permission")
	require.True(t, ok)
	assert.Equal(t, "roles.edit", name)

	rr = httptest.NewRecorder()
	_, ok = ParsePathStringOrError(rr, requestWithVars(nil), "permission")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequireNonEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(rr, "auditor", "name"))

	rr = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(rr, "", "name"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "name is required", decodeError(t, rr))
}

func TestRequirePositive(t *testing.T) {
	rr := httptest.NewRecorder()
	assert.True(t, RequirePositive(rr, 5, "role_id"))

	for _, v := range []int64{0, -3} {
		rr = httptest.NewRecorder()
		assert.False(t, RequirePositive(rr, v, "role_id"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "role_id must be positive", decodeError(t, rr))
	}
}
