package store

import (
	"context"
	"database/sql"
	"encoding/json"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

// ArchivedJob is the durable record of a job in jobs_archive, which holds
// every job, active or terminal: CreateJob inserts the PENDING row and the
// guarded transitions below update it in place. Queryable by operators and
// by GET /user/videos. Terminal rows are never removed (the spec's
// 1000-item cap applies to the fast KV ring buffer, not this table).
type ArchivedJob struct {
	JobID             string
	UserID            string
	Status            string
	WorkerID          sql.NullString
	AssignedAt        sql.NullTime
	StartedAt         sql.NullTime
	CompletedAt       sql.NullTime
	HeartbeatAt       sql.NullTime
	RetryCount        int
	MaxRetries        int
	ErrorMessage      sql.NullString
	Payload           json.RawMessage
	EstimatedDuration sql.NullFloat64
	DownloadURL       sql.NullString
}

// CreateJob inserts a new PENDING job record. job_id is generated by the
// caller (spec §4.2 step 2: job_id = UUIDv4) so the Submission Gateway can
// reference it before the row exists.
func (s *Store) CreateJob(ctx context.Context, jobID, userID string, payload json.RawMessage, maxRetries int, estimatedDuration sql.NullFloat64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs_archive (job_id, user_id, status, max_retries, payload, estimated_duration)
		VALUES ($1,$2,'PENDING',$3,$4,$5)`,
		jobID, userID, maxRetries, payload, estimatedDuration)
	if err != nil {
		return cperr.New("CreateJob", cperr.KindDependencyUnavailable, err)
	}
	return nil
}

// DeleteJob removes a job record outright. Only ever called by the
// Submission Gateway when a just-created PENDING job must be rolled back
// because the credit spend that should follow it failed (spec §4.2 step 3).
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs_archive WHERE job_id = $1 AND status = 'PENDING'`, jobID)
	if err != nil {
		return cperr.New("DeleteJob", cperr.KindDependencyUnavailable, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*ArchivedJob, error) {
	var j ArchivedJob
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, user_id, status, worker_id, assigned_at, started_at, completed_at, heartbeat_at,
		       retry_count, max_retries, error_message, payload, estimated_duration, download_url
		FROM jobs_archive WHERE job_id = $1`, jobID).Scan(
		&j.JobID, &j.UserID, &j.Status, &j.WorkerID, &j.AssignedAt, &j.StartedAt, &j.CompletedAt,
		&j.HeartbeatAt, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.Payload, &j.EstimatedDuration, &j.DownloadURL)
	if err == sql.ErrNoRows {
		return nil, cperr.New("GetJob", cperr.KindNotFound, err)
	}
	if err != nil {
		return nil, cperr.New("GetJob", cperr.KindDependencyUnavailable, err)
	}
	return &j, nil
}

// AssignJob transitions PENDING -> ASSIGNED. Spec §4.3: "assign... requires
// status==PENDING". Returns false (no error) if the guard did not hold, so
// the caller can surface FORBIDDEN without a spurious dependency error.
func (s *Store) AssignJob(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive SET status = 'ASSIGNED', worker_id = $2, assigned_at = now()
		WHERE job_id = $1 AND status = 'PENDING'`, jobID, workerID)
	return guardResult(res, err)
}

// StartJob transitions ASSIGNED -> PROCESSING, guarded on worker_id match.
func (s *Store) StartJob(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive SET status = 'PROCESSING', started_at = now(), heartbeat_at = now()
		WHERE job_id = $1 AND status = 'ASSIGNED' AND worker_id = $2`, jobID, workerID)
	return guardResult(res, err)
}

// Heartbeat refreshes heartbeat_at for a PROCESSING job, guarded on
// worker_id match.
func (s *Store) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive SET heartbeat_at = now()
		WHERE job_id = $1 AND status = 'PROCESSING' AND worker_id = $2`, jobID, workerID)
	return guardResult(res, err)
}

// CompleteJob transitions PROCESSING -> COMPLETED or FAILED, guarded on
// worker_id match, and archives the terminal record (spec §4.3).
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string, success bool, errMsg string, downloadURL string) (bool, error) {
	status := "COMPLETED"
	if !success {
		status = "FAILED"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive SET status = $3, completed_at = now(), error_message = NULLIF($4, ''),
		       download_url = NULLIF($5, ''), archived_at = now()
		WHERE job_id = $1 AND status = 'PROCESSING' AND worker_id = $2`,
		jobID, workerID, status, errMsg, downloadURL)
	return guardResult(res, err)
}

// FailPending transitions PENDING -> FAILED directly, for the Submission
// Gateway's "enqueue failed after debit" path (spec §4.2 step 5), where
// the job was never assigned to a worker so the PROCESSING-guarded
// CompleteJob transition does not apply.
func (s *Store) FailPending(ctx context.Context, jobID, errMsg string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive SET status = 'FAILED', completed_at = now(), archived_at = now(),
		       error_message = NULLIF($2, '')
		WHERE job_id = $1 AND status = 'PENDING'`, jobID, errMsg)
	return guardResult(res, err)
}

// RetryRow is everything the recovery loop needs to republish a job's
// original payload after transitioning it to RETRYING.
type RetryRow struct {
	JobID      string
	Payload    json.RawMessage
	RetryCount int
}

// RetryJob transitions {ASSIGNED, PROCESSING} -> RETRYING: clears
// worker_id, increments retry_count, guarded on retry_count < max_retries.
// Spec §4.3.
func (s *Store) RetryJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive
		SET status = 'RETRYING', worker_id = NULL, assigned_at = NULL, started_at = NULL, heartbeat_at = NULL,
		    retry_count = retry_count + 1
		WHERE job_id = $1 AND status IN ('ASSIGNED','PROCESSING') AND retry_count < max_retries`, jobID)
	return guardResult(res, err)
}

// AbandonJob transitions {ASSIGNED, PROCESSING} -> ABANDONED, guarded on
// retry_count >= max_retries. Spec §4.3.
func (s *Store) AbandonJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs_archive
		SET status = 'ABANDONED', completed_at = now(), archived_at = now(),
		    error_message = 'Job abandoned due to repeated failures'
		WHERE job_id = $1 AND status IN ('ASSIGNED','PROCESSING') AND retry_count >= max_retries`, jobID)
	return guardResult(res, err)
}

// ListActiveJobs returns every job not yet in a terminal state, for the
// recovery loop and for statistics().
func (s *Store) ListActiveJobs(ctx context.Context) ([]ArchivedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, user_id, status, worker_id, assigned_at, started_at, completed_at, heartbeat_at,
		       retry_count, max_retries, error_message, payload, estimated_duration, download_url
		FROM jobs_archive WHERE status NOT IN ('COMPLETED','FAILED','ABANDONED')`)
	if err != nil {
		return nil, cperr.New("ListActiveJobs", cperr.KindDependencyUnavailable, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) ListJobsByWorker(ctx context.Context, workerID string) ([]ArchivedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, user_id, status, worker_id, assigned_at, started_at, completed_at, heartbeat_at,
		       retry_count, max_retries, error_message, payload, estimated_duration, download_url
		FROM jobs_archive WHERE worker_id = $1 AND status NOT IN ('COMPLETED','FAILED','ABANDONED')`, workerID)
	if err != nil {
		return nil, cperr.New("ListJobsByWorker", cperr.KindDependencyUnavailable, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]ArchivedJob, error) {
	var out []ArchivedJob
	for rows.Next() {
		var j ArchivedJob
		if err := rows.Scan(&j.JobID, &j.UserID, &j.Status, &j.WorkerID, &j.AssignedAt, &j.StartedAt,
			&j.CompletedAt, &j.HeartbeatAt, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.Payload,
			&j.EstimatedDuration, &j.DownloadURL); err != nil {
			return nil, cperr.New("scanJobs", cperr.KindInternal, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Statistics mirrors spec §4.3's statistics() result shape.
type Statistics struct {
	Pending             int
	Assigned            int
	Processing          int
	Retrying            int
	WorkersWithJobs      int
	AverageProcessingSec float64
}

func (s *Store) JobStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'ASSIGNED'),
			count(*) FILTER (WHERE status = 'PROCESSING'),
			count(*) FILTER (WHERE status = 'RETRYING'),
			count(DISTINCT worker_id) FILTER (WHERE worker_id IS NOT NULL),
			coalesce(avg(extract(epoch from (now() - started_at))) FILTER (WHERE status = 'PROCESSING'), 0)
		FROM jobs_archive WHERE status NOT IN ('COMPLETED','FAILED','ABANDONED')`).Scan(
		&stats.Pending, &stats.Assigned, &stats.Processing, &stats.Retrying,
		&stats.WorkersWithJobs, &stats.AverageProcessingSec)
	if err != nil {
		return Statistics{}, cperr.New("JobStatistics", cperr.KindDependencyUnavailable, err)
	}
	return stats, nil
}

func guardResult(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, cperr.New("guardedUpdate", cperr.KindDependencyUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, cperr.New("guardedUpdate", cperr.KindDependencyUnavailable, err)
	}
	return n > 0, nil
}

// ListJobsByUser backs GET /user/videos: every job (active or terminal)
// owned by userID, most recent first.
func (s *Store) ListJobsByUser(ctx context.Context, userID string) ([]ArchivedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, user_id, status, worker_id, assigned_at, started_at, completed_at, heartbeat_at,
		       retry_count, max_retries, error_message, payload, estimated_duration, download_url
		FROM jobs_archive WHERE user_id = $1 ORDER BY archived_at DESC LIMIT 200`, userID)
	if err != nil {
		return nil, cperr.New("ListJobsByUser", cperr.KindDependencyUnavailable, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// IncrVideoCount is the durable counterpart of the KV mirror in
// internal/cache: the monotonic counter spec §6's GET /video-count exposes.
func (s *Store) IncrVideoCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO video_generation_count (id, count) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET count = video_generation_count.count + 1
		RETURNING count`).Scan(&count)
	if err != nil {
		return 0, cperr.New("IncrVideoCount", cperr.KindDependencyUnavailable, err)
	}
	return count, nil
}

func (s *Store) VideoCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM video_generation_count WHERE id = 1`).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, cperr.New("VideoCount", cperr.KindDependencyUnavailable, err)
	}
	return count, nil
}
