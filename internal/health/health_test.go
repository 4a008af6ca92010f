package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor() *Monitor {
	now := time.Now()
	return &Monitor{
		workerID:      "worker-test-1-123",
		healthy:       true,
		startedAt:     now,
		lastHeartbeat: now,
		currentJobs:   make(map[string]time.Time),
		healthPort:    "8000",
	}
}

func TestGenerateWorkerID_Format(t *testing.T) {
	id := GenerateWorkerID(time.Unix(1000, 0))
	assert.Regexp(t, `^worker-.+-\d+-1000$`, id)
}

func TestSetHealthy_TogglesState(t *testing.T) {
	m := newTestMonitor()
	m.SetHealthy(false, "dependency probe failed")
	assert.False(t, m.healthy)
	m.SetHealthy(true, "recovered")
	assert.True(t, m.healthy)
}

func TestIsShuttingDown_ReflectsShutdownState(t *testing.T) {
	m := newTestMonitor()
	// BeginShutdown itself calls writeRecord, which needs a live cache
	// client; exercise just the state transition it performs.
	m.mu.Lock()
	m.shuttingDown = true
	m.healthy = false
	m.mu.Unlock()

	assert.True(t, m.IsShuttingDown())
	assert.False(t, m.healthy)
}

func TestCurrentJobCount_TracksInFlightJobs(t *testing.T) {
	m := newTestMonitor()
	m.currentJobs["job-1"] = time.Now()
	m.currentJobs["job-2"] = time.Now()
	assert.Equal(t, 2, m.CurrentJobCount())
}

func TestAcceptNewJobs_FalseWhenUnhealthy(t *testing.T) {
	m := newTestMonitor()
	m.healthy = false
	assert.False(t, m.AcceptNewJobs(context.Background()))
}

func TestAcceptNewJobs_FalseWhenShuttingDown(t *testing.T) {
	m := newTestMonitor()
	m.shuttingDown = true
	assert.False(t, m.AcceptNewJobs(context.Background()))
}

func TestAcceptNewJobs_TrueWhenHealthyAndNoCapacityTracker(t *testing.T) {
	m := newTestMonitor()
	assert.True(t, m.AcceptNewJobs(context.Background()))
}

func TestHealthStatus_ReflectsCurrentState(t *testing.T) {
	m := newTestMonitor()
	m.currentJobs["job-1"] = time.Now()

	status := m.healthStatus()
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 1, status.CurrentJobs)

	m.healthy = false
	status = m.healthStatus()
	assert.Equal(t, "unhealthy", status.Status)
}

func TestWorkerMetrics_ComputesSuccessRate(t *testing.T) {
	m := newTestMonitor()
	m.jobsProcessed = 3
	m.jobsFailed = 1

	metrics := m.workerMetrics()
	assert.InDelta(t, 0.75, metrics.SuccessRate, 0.0001)
}

func TestWorkerMetrics_ZeroJobsNoDivideByZero(t *testing.T) {
	m := newTestMonitor()
	metrics := m.workerMetrics()
	assert.Equal(t, 0.0, metrics.SuccessRate)
}

func TestRoutes_HealthEndpointServesJSON(t *testing.T) {
	m := newTestMonitor()
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	m.Routes().ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "worker-test-1-123", resp.WorkerID)
	assert.Equal(t, "healthy", resp.Status)
}
