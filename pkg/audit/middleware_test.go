package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/identity"
)

func TestMiddleware_CapturesRequestContext(t *testing.T) {
	var captured *identity.RequestContext
	handler := NewMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = identity.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/roles", nil)
	req.Header.Set("User-Agent", "warden-test")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, captured)
	assert.Equal(t, "/api/v1/roles", captured.URL)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "203.0.113.9", captured.IPAddress, "first X-Forwarded-For hop wins")
	assert.Equal(t, "warden-test", captured.UserAgent)
	assert.Equal(t, "req-123", captured.RequestID)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	handler := NewMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:51234"
	assert.Equal(t, "192.0.2.4", clientIP(req))

	req.Header.Set("X-Real-Ip", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestContextMetadata(t *testing.T) {
	assert.Nil(t, ContextMetadata(nil))
	assert.Nil(t, ContextMetadata(&identity.RequestContext{}))

	meta := ContextMetadata(&identity.RequestContext{
		URL:       "/api/v1/roles",
		Method:    http.MethodGet,
		IPAddress: "10.0.0.1",
	})
	assert.Equal(t, map[string]any{
		"url":        "/api/v1/roles",
		"method":     http.MethodGet,
		"ip_address": "10.0.0.1",
	}, meta)
}

func TestInput_Validate(t *testing.T) {
	assert.Error(t, (&Input{}).Validate())
	assert.Error(t, (&Input{Event: EventDeleted}).Validate())
	assert.NoError(t, (&Input{Event: EventDeleted, SubjectType: "role"}).Validate())
	assert.NoError(t, (&Input{Event: EventLogin}).Validate(), "security events need no subject")
}
