package status

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/archive-ingest/internal/metrics"
)

func TestStatusRoutes(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	app := NewApp(Info{RunID: "run-1", Command: "load", StartedAt: started})

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "load", body["command"])
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), float64(90))
}

func TestMetricsRoute(t *testing.T) {
	metrics.LoadLines.WithLabelValues("written").Inc()
	app := NewApp(Info{RunID: "run-2", Command: "load", StartedAt: time.Now()})

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "ingest_load_lines_total"))
}

func TestStartDisabled(t *testing.T) {
	stop := Start("", Info{})
	stop()
}
