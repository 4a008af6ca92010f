// Package cache wraps the Redis hot-path KV store: job status snapshots,
// worker/capacity registries, metrics and scaling history ring buffers, the
// scaling_lock distributed lock, and the processed_session idempotency
// markers — the KV keyspace spec §6 names. Grounded on the teacher's
// ledger.go Redis usage (aggressive sub-ms timeouts, pipelined reads) and
// sync.go's batched-pipeline sync pattern.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	keyJobPrefix          = "job:"
	keyScalingWorkers     = "scaling_workers"
	keyWorkerCapacity     = "worker_capacity"
	keyCurrentMetrics     = "current_metrics"
	keyMetricsHistory     = "scaling_metrics_history"
	keyScalingHistory     = "scaling_history"
	keyScalingLock        = "scaling_lock"
	keyVideoGenCount      = "video_generation_count"
	keyProcessedPrefix    = "processed_session:"
	keyLastScalingAction  = "last_scaling_action"
	channelScalingEvents  = "scaling_events"

	historyCap = 100
)

// Client is the Redis-backed KV cache. It is never the source of truth for
// correctness-critical fields (balance, job status); those live in the
// durable store (internal/store) and are only mirrored here for fast reads,
// per spec §9's design note on treating KV as an eventually-consistent
// cache.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New connects to Redis with the teacher's aggressive low-latency pool
// settings (this is a hot-path cache, not a durability layer).
func New(addr, password string, log zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		PoolSize:     50,
		MinIdleConns: 10,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb, log: log.With().Str("subcomponent", "cache").Logger()}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Raw exposes the underlying client for components (bus, lock) that need
// primitives this wrapper does not surface.
func (c *Client) Raw() *redis.Client { return c.rdb }

// JobSnapshot is the UI-facing status view stored at job:{job_id}. It is a
// read cache of the Job Manager's authoritative record, never written to by
// anyone else.
type JobSnapshot struct {
	JobID       string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (c *Client) PutJobSnapshot(ctx context.Context, snap JobSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyJobPrefix+snap.JobID, data, 48*time.Hour).Err()
}

func (c *Client) GetJobSnapshot(ctx context.Context, jobID string) (*JobSnapshot, error) {
	data, err := c.rdb.Get(ctx, keyJobPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WorkerRecord mirrors spec §3's Worker Registration. Only the owning
// worker writes its own entry; the scaling controller may delete stale
// ones.
type WorkerRecord struct {
	WorkerID       string    `json:"worker_id"`
	StartedAt      time.Time `json:"started_at"`
	LastSeen       time.Time `json:"last_seen"`
	Healthy        bool      `json:"healthy"`
	CurrentJobs    []string  `json:"current_jobs"`
	JobsProcessed  int       `json:"jobs_processed"`
	JobsFailed     int       `json:"jobs_failed"`
	IsShuttingDown bool      `json:"is_shutting_down"`
	HealthPort     string    `json:"health_port"`
}

func (c *Client) PutWorker(ctx context.Context, w WorkerRecord) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, keyScalingWorkers, w.WorkerID, data).Err()
}

func (c *Client) DeleteWorker(ctx context.Context, workerID string) error {
	return c.rdb.HDel(ctx, keyScalingWorkers, workerID).Err()
}

func (c *Client) GetWorker(ctx context.Context, workerID string) (*WorkerRecord, error) {
	data, err := c.rdb.HGet(ctx, keyScalingWorkers, workerID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w WorkerRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) ListWorkers(ctx context.Context) ([]WorkerRecord, error) {
	raw, err := c.rdb.HGetAll(ctx, keyScalingWorkers).Result()
	if err != nil {
		return nil, err
	}
	out := make([]WorkerRecord, 0, len(raw))
	for _, v := range raw {
		var w WorkerRecord
		if err := json.Unmarshal([]byte(v), &w); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed worker record")
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// CapacityRecord mirrors spec §3's Worker Capacity.
type CapacityRecord struct {
	WorkerID           string    `json:"worker_id"`
	ConcurrentJobLimit int       `json:"concurrent_job_limit"`
	CurrentJobs        int       `json:"current_jobs"`
	JobsPerHour        float64   `json:"jobs_per_hour"`
	AvgJobDuration     float64   `json:"average_job_duration"`
	SuccessRate        float64   `json:"success_rate"`
	CPUPercent         float64   `json:"cpu_usage_percent"`
	MemPercent         float64   `json:"memory_usage_percent"`
	DiskPercent        float64   `json:"disk_usage_percent"`
	PerformanceTier    string    `json:"performance_tier"`
	EfficiencyScore    float64   `json:"efficiency_score"`
	LastUpdated        time.Time `json:"last_updated"`
}

func (c *Client) PutCapacity(ctx context.Context, r CapacityRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, keyWorkerCapacity, r.WorkerID, data).Err()
}

func (c *Client) GetCapacity(ctx context.Context, workerID string) (*CapacityRecord, error) {
	data, err := c.rdb.HGet(ctx, keyWorkerCapacity, workerID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r CapacityRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListCapacity(ctx context.Context) ([]CapacityRecord, error) {
	raw, err := c.rdb.HGetAll(ctx, keyWorkerCapacity).Result()
	if err != nil {
		return nil, err
	}
	out := make([]CapacityRecord, 0, len(raw))
	for _, v := range raw {
		var r CapacityRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) DeleteCapacity(ctx context.Context, workerID string) error {
	return c.rdb.HDel(ctx, keyWorkerCapacity, workerID).Err()
}

// MetricsSample mirrors spec §3's Metrics Sample.
type MetricsSample struct {
	QueueDepth         int       `json:"queue_depth"`
	ActiveWorkers      int       `json:"active_workers"`
	HealthyWorkers     int       `json:"healthy_workers"`
	AvgProcessingTime  float64   `json:"avg_processing_time"`
	Throughput         float64   `json:"throughput"`
	Timestamp          time.Time `json:"timestamp"`
	Recommendation     string    `json:"recommendation"`
	TargetWorkers      int       `json:"target_workers"`
}

func (c *Client) PublishMetrics(ctx context.Context, m MetricsSample) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, keyCurrentMetrics, data, 0)
	pipe.LPush(ctx, keyMetricsHistory, data)
	pipe.LTrim(ctx, keyMetricsHistory, 0, historyCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) CurrentMetrics(ctx context.Context) (*MetricsSample, error) {
	data, err := c.rdb.Get(ctx, keyCurrentMetrics).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m MetricsSample
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ScalingEvent mirrors spec §3's Scaling Event.
type ScalingEvent struct {
	Action         string    `json:"action"`
	TargetWorkers  int       `json:"target_workers"`
	CurrentWorkers int       `json:"current_workers"`
	QueueDepth     int       `json:"queue_depth"`
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
}

func (c *Client) RecordScalingEvent(ctx context.Context, ev ScalingEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, keyScalingHistory, data)
	pipe.LTrim(ctx, keyScalingHistory, 0, historyCap-1)
	pipe.Set(ctx, keyLastScalingAction, time.Now().Unix(), 0)
	pipe.Publish(ctx, channelScalingEvents, data)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) LastScalingAction(ctx context.Context) (time.Time, error) {
	unix, err := c.rdb.Get(ctx, keyLastScalingAction).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

func (c *Client) Subscribe(ctx context.Context) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channelScalingEvents)
}

// IncrVideoCount increments the monotonic video-generation counter and
// returns the new value. The durable store keeps the authoritative copy
// (internal/store); this is the fast-read mirror spec §6 names.
func (c *Client) IncrVideoCount(ctx context.Context) (int64, error) {
	return c.rdb.Incr(ctx, keyVideoGenCount).Result()
}

func (c *Client) VideoCount(ctx context.Context) (int64, error) {
	n, err := c.rdb.Get(ctx, keyVideoGenCount).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// TryMarkProcessed implements spec §4.1's idempotency marker as "SET IF NOT
// EXISTS with TTL and only grant on successful first insert": returns true
// only the first time key is seen within ttl.
func (c *Client) TryMarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, keyProcessedPrefix+key, time.Now().Format(time.RFC3339), ttl).Result()
	return ok, err
}

// lockScript releases the scaling_lock only if the caller still holds it
// (token match), a standard Redlock-style single-instance safe unlock.
var lockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ScalingLock is a held distributed lock token for the duration of a fleet
// mutation, per spec §5: "a distributed lock on scaling_lock KV key must be
// held for the duration of a fleet mutation."
type ScalingLock struct {
	token string
}

// AcquireScalingLock attempts to take the scaling_lock for ttl. Returns nil,
// nil if another controller instance currently holds it.
func (c *Client) AcquireScalingLock(ctx context.Context, ttl time.Duration) (*ScalingLock, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, keyScalingLock, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &ScalingLock{token: token}, nil
}

func (c *Client) ReleaseScalingLock(ctx context.Context, lock *ScalingLock) error {
	if lock == nil {
		return nil
	}
	return lockScript.Run(ctx, c.rdb, []string{keyScalingLock}, lock.token).Err()
}
