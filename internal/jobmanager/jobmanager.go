// Package jobmanager implements spec §4.3's Job Manager (C3): the
// authoritative job lifecycle state machine and its orphaned-job recovery
// loop. Grounded on original_source/scaling-controller/job_manager.py,
// ported operation-for-operation onto the durable Postgres table
// internal/store defines, with a best-effort mirror into the KV cache for
// the UI-facing job:{job_id} snapshot spec §6 names.
package jobmanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
)

// Manager is the Job Manager. Logically singleton per spec §5 ("physically
// may be library code run inside monitor/controller provided operations
// are serialized via the KV store"); serialization in this implementation
// comes from Postgres row-level guards (the UPDATE ... WHERE status = ...
// guard clauses in internal/store), so multiple Manager instances across
// processes are safe without an additional external lock.
type Manager struct {
	store    *store.Store
	cache    *cache.Client
	bus      *bus.Bus
	ledger   *store.Ledger
	notifier *notify.Notifier
	log      zerolog.Logger

	jobTimeout       time.Duration
	heartbeatTimeout time.Duration
}

// New builds a Manager. jobTimeout and heartbeatTimeout are spec §4.3's
// JOB_TIMEOUT / JOB_HEARTBEAT_TIMEOUT recovery thresholds.
func New(st *store.Store, c *cache.Client, b *bus.Bus, ledger *store.Ledger, notifier *notify.Notifier, log zerolog.Logger, jobTimeout, heartbeatTimeout time.Duration) *Manager {
	return &Manager{
		store: st, cache: c, bus: b, ledger: ledger, notifier: notifier,
		log:              log.With().Str("subcomponent", "jobmanager").Logger(),
		jobTimeout:       jobTimeout,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Create inserts a new PENDING job record. Spec §4.3 `create`.
func (m *Manager) Create(ctx context.Context, jobID, userID string, payload map[string]interface{}, maxRetries int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return cperr.New("Create", cperr.KindBadRequest, err)
	}
	if err := m.store.CreateJob(ctx, jobID, userID, body, maxRetries, sql.NullFloat64{}); err != nil {
		return err
	}
	m.mirrorSnapshot(ctx, jobID, userID, "PENDING", "")
	return nil
}

// Assign transitions PENDING -> ASSIGNED. Spec §4.3 `assign`.
func (m *Manager) Assign(ctx context.Context, jobID, workerID string) error {
	ok, err := m.store.AssignJob(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	if !ok {
		return cperr.New("Assign", cperr.KindForbidden, nil)
	}
	m.refreshSnapshot(ctx, jobID)
	return nil
}

// Start transitions ASSIGNED -> PROCESSING. Spec §4.3 `start`.
func (m *Manager) Start(ctx context.Context, jobID, workerID string) error {
	ok, err := m.store.StartJob(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	if !ok {
		return cperr.New("Start", cperr.KindForbidden, nil)
	}
	m.refreshSnapshot(ctx, jobID)
	return nil
}

// Heartbeat refreshes heartbeat_at. Spec §4.3 `heartbeat`.
func (m *Manager) Heartbeat(ctx context.Context, jobID, workerID string) error {
	ok, err := m.store.Heartbeat(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	if !ok {
		return cperr.New("Heartbeat", cperr.KindForbidden, nil)
	}
	return nil
}

// Complete transitions PROCESSING -> COMPLETED/FAILED. On failure it also
// refunds the user's spent credit, since every non-COMPLETED terminal state
// implies the job never delivered what the user paid for (spec §7
// WORKER_FAILURE: "Job Manager marks FAILED and Ledger refunds"). Spec §4.3
// `complete`.
func (m *Manager) Complete(ctx context.Context, jobID, workerID string, success bool, errMsg, downloadURL string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	ok, err := m.store.CompleteJob(ctx, jobID, workerID, success, errMsg, downloadURL)
	if err != nil {
		return err
	}
	if !ok {
		return cperr.New("Complete", cperr.KindForbidden, nil)
	}
	if success {
		if _, err := m.store.IncrVideoCount(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to increment durable video count")
		}
		if _, err := m.cache.IncrVideoCount(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to increment cached video count")
		}
	} else {
		if _, err := m.ledger.Refund(ctx, job.UserID, "job "+jobID+" failed"); err != nil {
			m.log.Error().Err(err).Str("job_id", jobID).Msg("refund after job failure did not complete")
		}
	}
	status := "COMPLETED"
	if !success {
		status = "FAILED"
	}
	m.mirrorSnapshot(ctx, jobID, job.UserID, status, errMsg)
	return nil
}

// FailEnqueue marks a never-assigned PENDING job FAILED after the
// Submission Gateway exhausts its publish retries. Spec §4.2 step 5: "On
// final publish failure: Ledger.refund and mark job FAILED with reason
// 'enqueue_failed'." The credit refund itself is the gateway's
// responsibility (it already holds the userID from the request), so this
// only performs the state transition and cache mirror.
func (m *Manager) FailEnqueue(ctx context.Context, jobID, userID string) error {
	ok, err := m.store.FailPending(ctx, jobID, "enqueue_failed")
	if err != nil {
		return err
	}
	if !ok {
		return cperr.New("FailEnqueue", cperr.KindForbidden, nil)
	}
	m.mirrorSnapshot(ctx, jobID, userID, "FAILED", "enqueue_failed")
	return nil
}

func (m *Manager) Get(ctx context.Context, jobID string) (*store.ArchivedJob, error) {
	return m.store.GetJob(ctx, jobID)
}

// DeleteNotStarted rolls back a just-created PENDING job record. Spec
// §4.2 step 3: "If [spend] fails, delete the job record; propagate error."
func (m *Manager) DeleteNotStarted(ctx context.Context, jobID string) error {
	return m.store.DeleteJob(ctx, jobID)
}

// VideoCount returns the durable monotonic video-generation counter.
// Spec §6 GET /video-count.
func (m *Manager) VideoCount(ctx context.Context) (int64, error) {
	return m.store.VideoCount(ctx)
}

func (m *Manager) ListActive(ctx context.Context) ([]store.ArchivedJob, error) {
	return m.store.ListActiveJobs(ctx)
}

func (m *Manager) ListByWorker(ctx context.Context, workerID string) ([]store.ArchivedJob, error) {
	return m.store.ListJobsByWorker(ctx, workerID)
}

func (m *Manager) ListByUser(ctx context.Context, userID string) ([]store.ArchivedJob, error) {
	return m.store.ListJobsByUser(ctx, userID)
}

func (m *Manager) Statistics(ctx context.Context) (store.Statistics, error) {
	return m.store.JobStatistics(ctx)
}

// RunRecoveryLoop runs the orphaned-job sweep every interval until ctx is
// canceled. Spec §4.3: "runs every N seconds, N <= 60."
func (m *Manager) RunRecoveryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.RecoverOrphanedJobs(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("recovery sweep failed")
				continue
			}
			if n > 0 {
				m.log.Info().Int("recovered", n).Msg("recovery sweep reassigned or abandoned jobs")
			}
		}
	}
}

// RecoverOrphanedJobs implements spec §4.3's recovery algorithm: for each
// active job, recover if started_at is stale beyond job_timeout OR
// heartbeat_at is stale beyond heartbeat_timeout. Recovery retries
// (RETRYING + republish) while retries remain, else abandons (+ refund).
// State write precedes republish; if republish fails the job stays
// RETRYING so the next sweep retries the publish, per spec's ordering rule.
func (m *Manager) RecoverOrphanedJobs(ctx context.Context) (int, error) {
	jobs, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	recovered := 0
	for _, j := range jobs {
		shouldRecover := false
		if j.StartedAt.Valid && now.Sub(j.StartedAt.Time) > m.jobTimeout {
			shouldRecover = true
		} else if j.HeartbeatAt.Valid && now.Sub(j.HeartbeatAt.Time) > m.heartbeatTimeout {
			shouldRecover = true
		}
		if !shouldRecover {
			continue
		}

		if j.RetryCount < j.MaxRetries {
			ok, err := m.store.RetryJob(ctx, j.JobID)
			if err != nil {
				m.log.Error().Err(err).Str("job_id", j.JobID).Msg("retry transition failed")
				continue
			}
			if !ok {
				continue
			}
			var payload map[string]interface{}
			_ = json.Unmarshal(j.Payload, &payload)
			if err := m.bus.Publish(ctx, bus.QueueVideo, payload); err != nil {
				m.log.Warn().Err(err).Str("job_id", j.JobID).
					Msg("republish failed after retry transition; next sweep will retry the publish")
			}
			m.mirrorSnapshot(ctx, j.JobID, j.UserID, "RETRYING", "")
			recovered++
		} else {
			ok, err := m.store.AbandonJob(ctx, j.JobID)
			if err != nil {
				m.log.Error().Err(err).Str("job_id", j.JobID).Msg("abandon transition failed")
				continue
			}
			if !ok {
				continue
			}
			if _, err := m.ledger.Refund(ctx, j.UserID, "job "+j.JobID+" abandoned"); err != nil {
				m.log.Error().Err(err).Str("job_id", j.JobID).Msg("refund after abandonment did not complete")
			}
			m.notifier.JobAbandoned(j.JobID, j.UserID)
			m.mirrorSnapshot(ctx, j.JobID, j.UserID, "ABANDONED", "Job abandoned due to repeated failures")
			recovered++
		}
	}
	return recovered, nil
}

func (m *Manager) refreshSnapshot(ctx context.Context, jobID string) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	m.mirrorSnapshot(ctx, jobID, j.UserID, j.Status, "")
}

func (m *Manager) mirrorSnapshot(ctx context.Context, jobID, userID, status, errMsg string) {
	if err := m.cache.PutJobSnapshot(ctx, cache.JobSnapshot{
		JobID: jobID, UserID: userID, Status: status, ErrorMsg: errMsg, UpdatedAt: time.Now(),
	}); err != nil {
		m.log.Warn().Err(err).Str("job_id", jobID).Msg("job snapshot cache mirror failed")
	}
}
