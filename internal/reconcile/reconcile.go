// Package reconcile keeps the Redis JobSnapshot mirror (internal/cache) in
// step with the PostgreSQL ArchivedJob table, which is authoritative.
// Ported from internal_teacher_ref/sync's PostgreSQL->Redis balance syncer:
// same cold-start full-sync / periodic drift-correction / on-demand-repair
// shape, retargeted from customer balances onto job status snapshots since
// this module's cache mirror is job state, not a spendable balance (credit
// balances here are read straight from PostgreSQL on every check — see
// store.Ledger.GetBalance — so they have no mirror to drift).
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
)

// Reconciler syncs cache.JobSnapshot mirrors from the authoritative store.
type Reconciler struct {
	store *store.Store
	cache *cache.Client
	log   zerolog.Logger
}

func New(st *store.Store, c *cache.Client, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: st, cache: c, log: log.With().Str("component", "reconcile").Logger()}
}

// FullSync rebuilds the snapshot mirror for every active (non-terminal) job.
// Call this once on controller startup: a cold Redis would otherwise answer
// GET /videos/{job_id} with a cache miss until the next transition.
func (r *Reconciler) FullSync(ctx context.Context) (int, error) {
	start := time.Now()
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		r.mirror(ctx, &j)
	}
	r.log.Info().Int("job_count", len(jobs)).Dur("duration", time.Since(start)).Msg("full snapshot sync complete")
	return len(jobs), nil
}

// RunPeriodicSync re-mirrors active jobs on a ticker, correcting any drift
// from a cache write that failed silently (mirrorSnapshot logs and
// continues rather than failing the job transition) or a Redis eviction.
func (r *Reconciler) RunPeriodicSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.FullSync(ctx); err != nil {
				r.log.Error().Err(err).Msg("periodic snapshot sync failed")
			}
		}
	}
}

// SyncJob re-mirrors one job on demand, e.g. after an operator-reported
// discrepancy or a manual rrctl correction.
func (r *Reconciler) SyncJob(ctx context.Context, jobID string) error {
	j, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	r.mirror(ctx, j)
	return nil
}

// VerifyIntegrity samples up to sampleSize active jobs and compares each
// one's cache mirror against its PostgreSQL record, auto-repairing any
// mismatch it finds. Returns how many discrepancies it found (and fixed).
func (r *Reconciler) VerifyIntegrity(ctx context.Context, sampleSize int) (int, error) {
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	if len(jobs) > sampleSize {
		jobs = jobs[:sampleSize]
	}

	discrepancies := 0
	for _, j := range jobs {
		snap, err := r.cache.GetJobSnapshot(ctx, j.JobID)
		if err != nil {
			continue
		}
		if snap == nil || snap.Status != j.Status {
			r.log.Warn().
				Str("job_id", j.JobID).
				Str("postgres_status", j.Status).
				Msg("job snapshot mismatch detected; repairing")
			discrepancies++
			r.mirror(ctx, &j)
		}
	}
	return discrepancies, nil
}

func (r *Reconciler) mirror(ctx context.Context, j *store.ArchivedJob) {
	snap := cache.JobSnapshot{
		JobID:     j.JobID,
		UserID:    j.UserID,
		Status:    j.Status,
		UpdatedAt: time.Now(),
	}
	if j.ErrorMessage.Valid {
		snap.ErrorMsg = j.ErrorMessage.String
	}
	if j.DownloadURL.Valid {
		snap.DownloadURL = j.DownloadURL.String
	}
	if err := r.cache.PutJobSnapshot(ctx, snap); err != nil {
		r.log.Warn().Err(err).Str("job_id", j.JobID).Msg("snapshot mirror write failed")
	}
}
