// Package health implements spec §4.4's Worker Health Monitor (C6): the
// component each render worker embeds to register itself, heartbeat,
// expose readonly HTTP status endpoints, and gate new-job acceptance on
// health plus the Capacity Tracker's concurrent-job limit. Ported from
// original_source/video-creator/health_monitor.py (WorkerHealthMonitor),
// trading its Flask app + threading.Thread pair for a go-chi router and a
// ticker goroutine, and its signal.signal handlers for the caller wiring
// os/signal + context cancellation around Monitor.RunHeartbeatLoop (the teacher's own
// cmd/api/main.go pattern of a context cancelled on SIGINT/SIGTERM).
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/capacity"
)

// GenerateWorkerID builds spec §4.4's stable worker_id format:
// "worker-{host}-{pid}-{start_ts}".
func GenerateWorkerID(startedAt time.Time) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("worker-%s-%d-%d", host, os.Getpid(), startedAt.Unix())
}

// Monitor is the Worker Health Monitor. One instance per worker process.
type Monitor struct {
	workerID string
	cache    *cache.Client
	capacity *capacity.Tracker
	log      zerolog.Logger

	heartbeatInterval time.Duration
	healthPort        string

	mu            sync.Mutex
	healthy       bool
	shuttingDown  bool
	startedAt     time.Time
	lastHeartbeat time.Time
	currentJobs   map[string]time.Time
	jobsProcessed int
	jobsFailed    int
	totalDuration time.Duration
}

func New(workerID string, c *cache.Client, tracker *capacity.Tracker, heartbeatInterval time.Duration, healthPort string, log zerolog.Logger) *Monitor {
	now := time.Now()
	return &Monitor{
		workerID:          workerID,
		cache:             c,
		capacity:          tracker,
		log:               log.With().Str("subcomponent", "health").Str("worker_id", workerID).Logger(),
		heartbeatInterval: heartbeatInterval,
		healthPort:        healthPort,
		healthy:           true,
		startedAt:         now,
		lastHeartbeat:     now,
		currentJobs:       make(map[string]time.Time),
	}
}

// Register writes this worker's initial record. Spec §4.4: "Register on
// startup."
func (m *Monitor) Register(ctx context.Context) error {
	return m.writeRecord(ctx)
}

// Deregister removes this worker's record, the final step of graceful
// shutdown (spec §4.4 step 3).
func (m *Monitor) Deregister(ctx context.Context) error {
	return m.cache.DeleteWorker(ctx, m.workerID)
}

func (m *Monitor) writeRecord(ctx context.Context) error {
	m.mu.Lock()
	rec := cache.WorkerRecord{
		WorkerID:       m.workerID,
		StartedAt:      m.startedAt,
		LastSeen:       time.Now(),
		Healthy:        m.healthy,
		CurrentJobs:    m.jobIDsLocked(),
		JobsProcessed:  m.jobsProcessed,
		JobsFailed:     m.jobsFailed,
		IsShuttingDown: m.shuttingDown,
		HealthPort:     m.healthPort,
	}
	m.mu.Unlock()
	return m.cache.PutWorker(ctx, rec)
}

func (m *Monitor) jobIDsLocked() []string {
	ids := make([]string, 0, len(m.currentJobs))
	for id := range m.currentJobs {
		ids = append(ids, id)
	}
	return ids
}

// RunHeartbeatLoop refreshes last_seen every heartbeatInterval until ctx is
// canceled. Spec §4.4: "update last_seen every HEARTBEAT_INTERVAL."
func (m *Monitor) RunHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.lastHeartbeat = time.Now()
			m.mu.Unlock()
			if err := m.writeRecord(ctx); err != nil {
				m.log.Warn().Err(err).Msg("heartbeat write failed")
			}
		}
	}
}

// StartJob records job_id's start time. Spec §4.4: "start(job_id) records
// start time."
func (m *Monitor) StartJob(ctx context.Context, jobID string) {
	m.mu.Lock()
	m.currentJobs[jobID] = time.Now()
	m.mu.Unlock()
	if err := m.writeRecord(ctx); err != nil {
		m.log.Warn().Err(err).Msg("worker record write failed after job start")
	}
}

// CompleteJob computes job_id's duration, feeds the Capacity Tracker, and
// clears it from the in-flight set. Spec §4.4: "complete(job_id, success)
// computes duration, feeds Capacity Tracker, clears current job."
func (m *Monitor) CompleteJob(ctx context.Context, jobID string, success bool) {
	m.mu.Lock()
	start, ok := m.currentJobs[jobID]
	delete(m.currentJobs, jobID)
	var duration time.Duration
	if ok {
		duration = time.Since(start)
	}
	if success {
		m.jobsProcessed++
	} else {
		m.jobsFailed++
	}
	m.totalDuration += duration
	currentJobs := len(m.currentJobs)
	m.mu.Unlock()

	if m.capacity != nil {
		if _, err := m.capacity.ReportSample(ctx, capacitySample(m.workerID, duration, success, currentJobs)); err != nil {
			m.log.Warn().Err(err).Msg("capacity sample report failed")
		}
	}
	if err := m.writeRecord(ctx); err != nil {
		m.log.Warn().Err(err).Msg("worker record write failed after job completion")
	}
}

func capacitySample(workerID string, duration time.Duration, success bool, currentJobs int) capacity.Sample {
	return capacity.Sample{
		WorkerID:    workerID,
		JobDuration: duration,
		JobSuccess:  success,
		JobsDone:    true,
		CurrentJobs: currentJobs,
	}
}

// SetHealthy toggles the health flag an out-of-band check (e.g. a failed
// dependency probe) reports. A nil-reason toggle back to healthy is normal
// recovery; logging always records the reason.
func (m *Monitor) SetHealthy(healthy bool, reason string) {
	m.mu.Lock()
	m.healthy = healthy
	m.mu.Unlock()
	m.log.Info().Bool("healthy", healthy).Str("reason", reason).Msg("health status changed")
}

// AcceptNewJobs implements spec §4.4's accept_new_jobs(): false if
// unhealthy, shutting down, or current_jobs >= concurrent_job_limit from
// the Capacity Tracker.
func (m *Monitor) AcceptNewJobs(ctx context.Context) bool {
	m.mu.Lock()
	healthy, shuttingDown, currentJobs := m.healthy, m.shuttingDown, len(m.currentJobs)
	m.mu.Unlock()
	if !healthy || shuttingDown {
		return false
	}
	if m.capacity == nil {
		return true
	}
	rec, err := m.cache.GetCapacity(ctx, m.workerID)
	if err != nil {
		m.log.Warn().Err(err).Msg("capacity lookup failed; defaulting to accept")
		return true
	}
	if rec == nil {
		return true
	}
	return currentJobs < rec.ConcurrentJobLimit
}

// BeginShutdown implements step 1 of spec §4.4's graceful-shutdown
// sequence: mark shutting_down and unhealthy so the scheduler stops
// handing out work and the consume loop stops pulling. The caller is
// responsible for steps 2 (drain in-flight jobs normally) and 3
// (Deregister then exit).
func (m *Monitor) BeginShutdown(ctx context.Context) {
	m.mu.Lock()
	m.shuttingDown = true
	m.healthy = false
	m.mu.Unlock()
	m.log.Info().Msg("graceful shutdown initiated")
	if err := m.writeRecord(ctx); err != nil {
		m.log.Warn().Err(err).Msg("worker record write failed at shutdown start")
	}
}

// IsShuttingDown reports whether BeginShutdown has been called, so the
// worker's consume loop knows to stop pulling new messages.
func (m *Monitor) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuttingDown
}

// CurrentJobCount reports how many jobs are presently in flight, used by
// the graceful-shutdown drain wait.
func (m *Monitor) CurrentJobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.currentJobs)
}

type healthResponse struct {
	WorkerID       string  `json:"worker_id"`
	Status         string  `json:"status"`
	LastHeartbeat  string  `json:"last_heartbeat"`
	CurrentJobs    int     `json:"current_jobs"`
	IsShuttingDown bool    `json:"is_shutting_down"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

func (m *Monitor) healthStatus() healthResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "healthy"
	if !m.healthy {
		status = "unhealthy"
	}
	return healthResponse{
		WorkerID:       m.workerID,
		Status:         status,
		LastHeartbeat:  m.lastHeartbeat.Format(time.RFC3339),
		CurrentJobs:    len(m.currentJobs),
		IsShuttingDown: m.shuttingDown,
		UptimeSeconds:  time.Since(m.startedAt).Seconds(),
	}
}

type metricsResponse struct {
	WorkerID      string  `json:"worker_id"`
	JobsProcessed int     `json:"jobs_processed"`
	JobsFailed    int     `json:"jobs_failed"`
	SuccessRate   float64 `json:"success_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	JobsPerHour   float64 `json:"jobs_per_hour"`
}

func (m *Monitor) workerMetrics() metricsResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	uptime := time.Since(m.startedAt)
	total := m.jobsProcessed + m.jobsFailed
	var successRate, jobsPerHour float64
	if total > 0 {
		successRate = float64(m.jobsProcessed) / float64(total)
	}
	if uptime.Seconds() > 0 {
		jobsPerHour = (float64(m.jobsProcessed) / uptime.Seconds()) * 3600
	}
	return metricsResponse{
		WorkerID:      m.workerID,
		JobsProcessed: m.jobsProcessed,
		JobsFailed:    m.jobsFailed,
		SuccessRate:   successRate,
		UptimeSeconds: uptime.Seconds(),
		JobsPerHour:   jobsPerHour,
	}
}

type statusResponse struct {
	WorkerID string          `json:"worker_id"`
	Health   healthResponse  `json:"health"`
	Metrics  metricsResponse `json:"metrics"`
	Config   statusConfig    `json:"config"`
}

type statusConfig struct {
	HeartbeatIntervalSec int    `json:"heartbeat_interval"`
	HealthCheckPort      string `json:"health_check_port"`
}

// Routes builds the readonly /health, /metrics, /status endpoints spec
// §4.4 names.
func (m *Monitor) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.healthStatus())
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.workerMetrics())
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{
			WorkerID: m.workerID,
			Health:   m.healthStatus(),
			Metrics:  m.workerMetrics(),
			Config: statusConfig{
				HeartbeatIntervalSec: int(m.heartbeatInterval.Seconds()),
				HealthCheckPort:      m.healthPort,
			},
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
