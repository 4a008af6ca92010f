// Package queuemonitor implements spec §4.6's Queue Monitor (C8): periodic
// metrics collection and the scaling recommendation algorithm. Ported from
// original_source/queue-monitor/monitor.py, with the queue depth read off
// the Redis Streams `video` queue (internal/bus) instead of monitor.py's
// pika/RabbitMQ passive-declare call — Streams is the only queue primitive
// this module's dependency stack actually provides (see SPEC_FULL.md's
// DOMAIN STACK).
package queuemonitor

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
)

const (
	Recommendationmaintain  = "maintain"
	RecommendationScaleUp   = "scale_up"
	RecommendationScaleDown = "scale_down"

	freshWorkerWindow = 2 * time.Minute
)

// Config mirrors spec §6's env vars this component reads.
type Config struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleDownThreshold float64
	CooldownPeriod     time.Duration
}

// Monitor is the Queue Monitor. It depends on the Job Manager only for
// `processing_jobs`/`workers_with_jobs` statistics (spec §4.6 step 2), not
// for any state mutation.
type Monitor struct {
	rdb   *redis.Client
	cache *cache.Client
	jobs  *jobmanager.Manager
	cfg   Config
	log   zerolog.Logger
}

func New(rdb *redis.Client, c *cache.Client, jobs *jobmanager.Manager, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{rdb: rdb, cache: c, jobs: jobs, cfg: cfg, log: log.With().Str("subcomponent", "queuemonitor").Logger()}
}

// Metrics is the full collected sample before a recommendation is computed.
type Metrics struct {
	QueueDepth        int
	ActiveWorkers     int
	HealthyWorkers    int
	AvgProcessingTime float64
	Throughput        float64
	ProcessingJobs    int
	WorkersWithJobs   int
}

// CollectMetrics gathers the raw signals spec §4.6 names: queue depth of
// the video queue, active/healthy worker counts (fresh within 2 minutes),
// average processing time, and a throughput estimate.
func (m *Monitor) CollectMetrics(ctx context.Context) (Metrics, error) {
	var out Metrics

	length, err := m.rdb.XLen(ctx, bus.QueueVideo).Result()
	if err != nil && err != redis.Nil {
		return out, err
	}
	out.QueueDepth = int(length)

	workers, err := m.cache.ListWorkers(ctx)
	if err != nil {
		return out, err
	}
	now := time.Now()
	for _, w := range workers {
		if now.Sub(w.LastSeen) <= freshWorkerWindow && !w.IsShuttingDown {
			out.ActiveWorkers++
			if w.Healthy {
				out.HealthyWorkers++
			}
		}
	}

	stats, err := m.jobs.Statistics(ctx)
	if err != nil {
		return out, err
	}
	out.ProcessingJobs = stats.Processing
	out.WorkersWithJobs = stats.WorkersWithJobs
	out.AvgProcessingTime = stats.AverageProcessingSec

	if out.AvgProcessingTime > 0 {
		out.Throughput = (float64(out.ActiveWorkers) * 60.0) / out.AvgProcessingTime
	}

	return out, nil
}

// Recommend implements spec §4.6's algorithm exactly, including its tie-
// break rules: prefer maintain when target == active, and never recommend
// below workers_with_jobs.
func (m *Monitor) Recommend(metrics Metrics, lastScalingAction time.Time) (recommendation string, target int) {
	if !lastScalingAction.IsZero() && time.Since(lastScalingAction) < m.cfg.CooldownPeriod {
		return Recommendationmaintain, metrics.ActiveWorkers
	}

	totalWorkload := metrics.QueueDepth + metrics.ProcessingJobs
	if totalWorkload == 0 {
		target = clampInt(m.cfg.MinWorkers, minInt(metrics.ActiveWorkers, 2), m.cfg.MaxWorkers)
	} else {
		target = clampInt(m.cfg.MinWorkers, maxInt(totalWorkload, totalWorkload/2+1), m.cfg.MaxWorkers)
	}
	if target < metrics.WorkersWithJobs {
		target = metrics.WorkersWithJobs
	}

	if target > metrics.ActiveWorkers && float64(metrics.HealthyWorkers) >= 0.8*float64(metrics.ActiveWorkers) {
		return RecommendationScaleUp, target
	}

	idleWorkers := metrics.ActiveWorkers - metrics.WorkersWithJobs
	if target < metrics.ActiveWorkers && idleWorkers > 0 &&
		float64(metrics.QueueDepth) < m.cfg.ScaleDownThreshold*float64(metrics.ActiveWorkers) {
		downTarget := maxInt(target, metrics.WorkersWithJobs+1)
		return RecommendationScaleDown, downTarget
	}

	return Recommendationmaintain, metrics.ActiveWorkers
}

// RunLoop collects, recommends, and publishes every interval until ctx is
// canceled. Spec §4.6: "every METRICS_COLLECTION_INTERVAL (default 15s)".
func (m *Monitor) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.log.Error().Err(err).Msg("metrics collection tick failed")
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	metrics, err := m.CollectMetrics(ctx)
	if err != nil {
		return err
	}
	lastAction, err := m.cache.LastScalingAction(ctx)
	if err != nil {
		return err
	}
	recommendation, target := m.Recommend(metrics, lastAction)

	sample := cache.MetricsSample{
		QueueDepth:        metrics.QueueDepth,
		ActiveWorkers:     metrics.ActiveWorkers,
		HealthyWorkers:    metrics.HealthyWorkers,
		AvgProcessingTime: metrics.AvgProcessingTime,
		Throughput:        metrics.Throughput,
		Timestamp:         time.Now(),
		Recommendation:    recommendation,
		TargetWorkers:     target,
	}
	if err := m.cache.PublishMetrics(ctx, sample); err != nil {
		return err
	}

	// The monitor tracks its own cooldown clock only when it actually
	// recommends a change (original_source/queue-monitor/monitor.py
	// publish_metrics: last_scaling_action is updated here, not just by
	// the controller that enacts the change).
	if recommendation != Recommendationmaintain {
		if err := m.cache.RecordScalingEvent(ctx, cache.ScalingEvent{
			Action: recommendation, TargetWorkers: target, CurrentWorkers: metrics.ActiveWorkers,
			QueueDepth: metrics.QueueDepth, Timestamp: time.Now(), Reason: "queue monitor recommendation",
		}); err != nil {
			return err
		}
	}
	return nil
}

func clampInt(lo, v, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
