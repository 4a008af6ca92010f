// Package capacity implements spec §4.5's Capacity Tracker (C7):
// per-worker efficiency scoring, concurrent-job-limit policy, and cluster
// effective-capacity aggregation. Ported formula-for-formula from
// original_source/scaling-controller/capacity_tracker.py.
package capacity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
)

const (
	TierExcellent = "excellent"
	TierGood      = "good"
	TierAverage   = "average"
	TierPoor      = "poor"

	baseConcurrentLimit = 2
	maxCPUPercent       = 80.0
	maxMemPercent       = 85.0

	durationEMAAlpha    = 0.3
	successRateEMAAlpha = 0.2

	staleAfter = 10 * time.Minute
)

// Tracker owns the worker_capacity KV hash. Only the owning worker writes
// its own row (through ReportSample); the cleanup loop is the sole deleter.
type Tracker struct {
	cache *cache.Client
	log   zerolog.Logger
}

func New(c *cache.Client, log zerolog.Logger) *Tracker {
	return &Tracker{cache: c, log: log.With().Str("subcomponent", "capacity").Logger()}
}

// Sample is what a worker reports after finishing (or failing) a job, plus
// its current resource usage, per spec §4.5.
type Sample struct {
	WorkerID    string
	JobDuration time.Duration
	JobSuccess  bool
	JobsDone    bool // true if this call reports a completed job (vs. a bare resource-usage tick)
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
	CurrentJobs int
}

// ReportSample updates worker_id's capacity record: EMA-smooths
// avg_job_duration and success_rate when a job just finished, then
// recomputes efficiency_score, performance_tier, and concurrent_job_limit.
func (t *Tracker) ReportSample(ctx context.Context, s Sample) (*cache.CapacityRecord, error) {
	rec, err := t.cache.GetCapacity(ctx, s.WorkerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &cache.CapacityRecord{
			WorkerID:           s.WorkerID,
			ConcurrentJobLimit: baseConcurrentLimit,
			SuccessRate:        100.0,
			PerformanceTier:    TierAverage,
			EfficiencyScore:    50.0,
		}
	}

	rec.CurrentJobs = s.CurrentJobs
	rec.CPUPercent = s.CPUPercent
	rec.MemPercent = s.MemPercent
	rec.DiskPercent = s.DiskPercent
	rec.LastUpdated = time.Now()

	if s.JobsDone {
		updatePerformance(rec, s.JobDuration, s.JobSuccess)
	}

	rec.EfficiencyScore = efficiencyScore(*rec)
	rec.PerformanceTier = performanceTier(rec.EfficiencyScore)
	rec.ConcurrentJobLimit = concurrentLimit(*rec)

	if err := t.cache.PutCapacity(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// updatePerformance applies spec §4.5's EMA formulas for avg_job_duration
// (alpha 0.3) and success_rate (alpha 0.2), with the cold-start special
// case for a first failure (jump straight to 95.0 rather than a
// barely-moved EMA off a 100.0 base).
func updatePerformance(rec *cache.CapacityRecord, duration time.Duration, success bool) {
	seconds := duration.Seconds()
	if rec.AvgJobDuration == 0 {
		rec.AvgJobDuration = seconds
	} else {
		rec.AvgJobDuration = durationEMAAlpha*seconds + (1-durationEMAAlpha)*rec.AvgJobDuration
	}
	if rec.AvgJobDuration > 0 {
		rec.JobsPerHour = 3600.0 / rec.AvgJobDuration
	}

	successVal := 0.0
	if success {
		successVal = 100.0
	}
	if rec.SuccessRate == 100.0 && !success {
		rec.SuccessRate = 95.0
	} else {
		rec.SuccessRate = successRateEMAAlpha*successVal + (1-successRateEMAAlpha)*rec.SuccessRate
	}
}

// efficiencyScore is spec §4.5's formula verbatim.
func efficiencyScore(rec cache.CapacityRecord) float64 {
	score := rec.SuccessRate * 0.4
	score += min(rec.JobsPerHour/2.0, 1.0) * 30
	score -= max(0, rec.CPUPercent-70) * 0.3
	score -= max(0, rec.MemPercent-70) * 0.3
	score -= max(0, rec.DiskPercent-80) * 0.2
	if rec.SuccessRate > 95 && rec.JobsPerHour > 1 {
		score += 10
	}
	return clamp(score, 0, 100)
}

func performanceTier(score float64) string {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierAverage
	default:
		return TierPoor
	}
}

// concurrentLimit is spec §4.5's policy: resource-starved workers drop to
// 1 in-flight job regardless of tier; excellent performers get a bonus slot
// capped at 3; poor performers are capped at 1; everyone else gets the
// base limit.
func concurrentLimit(rec cache.CapacityRecord) int {
	if rec.CPUPercent > maxCPUPercent || rec.MemPercent > maxMemPercent {
		return 1
	}
	switch rec.PerformanceTier {
	case TierExcellent:
		if baseConcurrentLimit+1 > 3 {
			return 3
		}
		return baseConcurrentLimit + 1
	case TierPoor:
		return 1
	default:
		return baseConcurrentLimit
	}
}

// ClusterCapacity is spec §4.5's cluster-wide aggregation.
type ClusterCapacity struct {
	EffectiveCapacity        float64
	CapacityUtilization      float64
	ResourceConstrainedCount int
	HighPerformerCount       int
}

func (t *Tracker) ClusterCapacity(ctx context.Context) (ClusterCapacity, error) {
	records, err := t.cache.ListCapacity(ctx)
	if err != nil {
		return ClusterCapacity{}, err
	}

	var out ClusterCapacity
	var totalCurrentJobs, totalLimit int
	for _, r := range records {
		out.EffectiveCapacity += float64(r.ConcurrentJobLimit) * r.EfficiencyScore / 100.0
		totalCurrentJobs += r.CurrentJobs
		totalLimit += r.ConcurrentJobLimit
		if r.CPUPercent > maxCPUPercent || r.MemPercent > maxMemPercent || r.DiskPercent > 90.0 {
			out.ResourceConstrainedCount++
		}
		if r.PerformanceTier == TierExcellent || r.PerformanceTier == TierGood {
			out.HighPerformerCount++
		}
	}
	if totalLimit > 0 {
		out.CapacityUtilization = float64(totalCurrentJobs) / float64(totalLimit)
	}
	return out, nil
}

// CleanupStale drops capacity rows whose last_updated exceeds 10 minutes,
// per spec §4.5.
func (t *Tracker) CleanupStale(ctx context.Context) (int, error) {
	records, err := t.cache.ListCapacity(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	now := time.Now()
	for _, r := range records {
		if now.Sub(r.LastUpdated) > staleAfter {
			if err := t.cache.DeleteCapacity(ctx, r.WorkerID); err != nil {
				t.log.Warn().Err(err).Str("worker_id", r.WorkerID).Msg("failed to drop stale capacity row")
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
