package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("refused") }

func TestCheck_CriticalFailureMarksUnhealthy(t *testing.T) {
	h := NewChecker("planverse").
		Critical("postgres", up).
		Critical("redis", down).
		Optional("minio", up).
		WithSessions(fixedCounter(3)).
		WithBreaker(func() string { return "closed" })

	status := h.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, StatusUp, status.Components["postgres"])
	assert.Equal(t, StatusDown, status.Components["redis"])
	assert.Equal(t, 3, status.Sessions)
	assert.Equal(t, "closed", status.Breaker)
	assert.Equal(t, []string{"minio", "postgres", "redis"}, h.Names())
}

func TestCheck_OptionalFailureStaysHealthy(t *testing.T) {
	h := NewChecker("planverse").Critical("postgres", up).Optional("kafka", down)

	status := h.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, StatusDown, status.Components["kafka"])
}

func TestServeHTTP(t *testing.T) {
	w := httptest.NewRecorder()
	NewChecker("planverse").Critical("nats", down).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StatusDown, status.Components["nats"])

	w = httptest.NewRecorder()
	NewChecker("planverse").LiveHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
