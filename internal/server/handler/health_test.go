package handler

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPairs int

func (p staticPairs) Len() int { return int(p) }

func TestHealthCheckReportsModeUptimeAndPairs(t *testing.T) {
	h := NewHealthHandler("scan", time.Now().UTC().Add(-90*time.Second), staticPairs(42), slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest("GET", "/api/health", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "scan", body["mode"])
	assert.Equal(t, 42.0, body["pairs"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], 90.0)
}

func TestHealthCheckWithoutGraphOmitsPairs(t *testing.T) {
	h := NewHealthHandler("server", time.Now().UTC(), nil, slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest("GET", "/api/health", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, ok := body["pairs"]
	assert.False(t, ok)
}
