package scaling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/capacity"
	"github.com/Harshaan-Chugh/rabbitreels/internal/notify"
	"github.com/Harshaan-Chugh/rabbitreels/internal/queuemonitor"
)

// Config mirrors spec §6/§4.7's env vars.
type Config struct {
	MinWorkers             int
	MaxWorkers             int
	ScalingCheckInterval   time.Duration
	JobDrainTimeout        time.Duration
	UnhealthyWorkerTimeout time.Duration
	CooldownPeriod         time.Duration
	ScaleDownThreshold     float64
	HealthCheckPortBase    int
}

// Controller is the Scaling Controller (C9): it reads the latest
// recommendation, enforces the cooldown window (with override conditions),
// and enacts fleet changes through a FleetDriver while honoring in-flight
// jobs on drain.
type Controller struct {
	cache    *cache.Client
	capacity *capacity.Tracker
	fleet    FleetDriver
	notifier *notify.Notifier
	cfg      Config
	log      zerolog.Logger

	prevInFlight int // previous tick's total current_jobs, for the recent-completions proxy below
}

func New(c *cache.Client, cap *capacity.Tracker, fleet FleetDriver, notifier *notify.Notifier, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{cache: c, capacity: cap, fleet: fleet, notifier: notifier, cfg: cfg, log: log.With().Str("subcomponent", "scaling-controller").Logger()}
}

// RunLoop ticks every ScalingCheckInterval until ctx is canceled. Spec
// §4.7: "Runs a loop every SCALING_CHECK_INTERVAL (default 30s)."
func (c *Controller) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ScalingCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.log.Error().Err(err).Msg("scaling tick failed")
			}
			if n, err := c.ReapUnhealthyWorkers(ctx); err != nil {
				c.log.Error().Err(err).Msg("unhealthy-worker reap failed")
			} else if n > 0 {
				c.log.Info().Int("reaped", n).Msg("removed unhealthy workers")
			}
			if n, err := c.capacity.CleanupStale(ctx); err != nil {
				c.log.Error().Err(err).Msg("capacity cleanup failed")
			} else if n > 0 {
				c.log.Debug().Int("dropped", n).Msg("dropped stale capacity rows")
			}
		}
	}
}

// Tick is one iteration of spec §4.7's control loop.
func (c *Controller) Tick(ctx context.Context) error {
	metrics, err := c.cache.CurrentMetrics(ctx)
	if err != nil {
		return err
	}
	if metrics == nil {
		return nil // no recommendation published yet
	}

	workers, err := c.cache.ListWorkers(ctx)
	if err != nil {
		return err
	}
	current := 0
	inFlight := 0
	for _, w := range workers {
		if !w.IsShuttingDown {
			current++
		}
		inFlight += len(w.CurrentJobs)
	}
	// recent-completions proxy: a drop in total in-flight jobs since the
	// last tick implies that many jobs finished, a direct port of
	// controller.py's _recent_job_completions (it tracks the same delta
	// rather than subscribing to a completion event stream).
	recentCompletions := 0
	if c.prevInFlight > inFlight {
		recentCompletions = c.prevInFlight - inFlight
	}
	c.prevInFlight = inFlight

	lastAction, err := c.cache.LastScalingAction(ctx)
	if err != nil {
		return err
	}
	clusterCap, err := c.capacity.ClusterCapacity(ctx)
	if err != nil {
		return err
	}

	withinCooldown := !lastAction.IsZero() && time.Since(lastAction) < c.cfg.CooldownPeriod
	if withinCooldown && !c.overridesCooldown(metrics.QueueDepth, current, recentCompletions, clusterCap.CapacityUtilization) {
		return nil
	}

	target := clampInt(c.cfg.MinWorkers, metrics.TargetWorkers, c.cfg.MaxWorkers)
	if target == current {
		return nil
	}

	lock, err := c.cache.AcquireScalingLock(ctx, 2*time.Minute)
	if err != nil {
		return err
	}
	if lock == nil {
		c.log.Debug().Msg("another controller holds the scaling lock; skipping this tick")
		return nil
	}
	defer c.cache.ReleaseScalingLock(ctx, lock)

	var action string
	if target > current {
		action = queuemonitor.RecommendationScaleUp
		err = c.scaleUp(ctx, workers, target-current)
	} else {
		action = queuemonitor.RecommendationScaleDown
		err = c.scaleDown(ctx, workers, current-target)
	}
	if err != nil {
		return err
	}

	if err := c.cache.RecordScalingEvent(ctx, cache.ScalingEvent{
		Action: action, TargetWorkers: target, CurrentWorkers: current,
		QueueDepth: metrics.QueueDepth, Timestamp: time.Now(), Reason: "controller tick",
	}); err != nil {
		return err
	}
	c.notifier.ScalingEvent(action, current, target)
	return nil
}

// overridesCooldown implements spec §4.7 step 2's override conditions:
// queue_depth > 3*active; recent completions > 0.5*active; capacity
// utilization > 0.9.
func (c *Controller) overridesCooldown(queueDepth, active, recentCompletions int, capacityUtilization float64) bool {
	if active == 0 {
		return true
	}
	if float64(queueDepth) > 3*float64(active) {
		return true
	}
	if float64(recentCompletions) > 0.5*float64(active) {
		return true
	}
	if capacityUtilization > 0.9 {
		return true
	}
	return false
}

func (c *Controller) scaleUp(ctx context.Context, existing []cache.WorkerRecord, count int) error {
	specs := make([]WorkerSpec, 0, count)
	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("worker-%d-%d", time.Now().Unix(), i)
		specs = append(specs, WorkerSpec{
			WorkerID:   workerID,
			HealthPort: fmt.Sprintf("%d", c.cfg.HealthCheckPortBase+i),
		})
	}
	return c.fleet.ScaleUp(ctx, specs)
}

// scaleDown selects count candidate workers preferring idle ones with the
// lowest efficiency tier (spec §4.7 scale-down selection rule), marks each
// is_shutting_down, waits up to JobDrainTimeout for current_jobs to empty,
// then terminates.
func (c *Controller) scaleDown(ctx context.Context, workers []cache.WorkerRecord, count int) error {
	candidates := make([]cache.WorkerRecord, len(workers))
	copy(candidates, workers)
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := len(candidates[i].CurrentJobs), len(candidates[j].CurrentJobs)
		if li != lj {
			return li < lj // idle workers (0 current jobs) sort first
		}
		ci, _ := c.cache.GetCapacity(ctx, candidates[i].WorkerID)
		cj, _ := c.cache.GetCapacity(ctx, candidates[j].WorkerID)
		return tierRank(ci) < tierRank(cj) // lower efficiency tier sorts first
	})
	if count > len(candidates) {
		count = len(candidates)
	}
	targets := candidates[:count]

	ids := make([]string, 0, len(targets))
	for _, w := range targets {
		w.IsShuttingDown = true
		if err := c.cache.PutWorker(ctx, w); err != nil {
			return err
		}
		ids = append(ids, w.WorkerID)
	}

	for _, id := range ids {
		c.waitForDrain(ctx, id)
	}

	return c.fleet.Terminate(ctx, ids)
}

func tierRank(rec *cache.CapacityRecord) int {
	if rec == nil {
		return 1 // unknown treated as average
	}
	switch rec.PerformanceTier {
	case capacity.TierPoor:
		return 0
	case capacity.TierAverage:
		return 1
	case capacity.TierGood:
		return 2
	case capacity.TierExcellent:
		return 3
	default:
		return 1
	}
}

// waitForDrain polls every 10s until current_jobs empties or
// JobDrainTimeout elapses, matching controller.py's _wait_for_job_completion.
func (c *Controller) waitForDrain(ctx context.Context, workerID string) {
	deadline := time.Now().Add(c.cfg.JobDrainTimeout)
	for time.Now().Before(deadline) {
		w, err := c.cache.GetWorker(ctx, workerID)
		if err != nil || w == nil || len(w.CurrentJobs) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
	c.log.Warn().Str("worker_id", workerID).Msg("drain timeout reached; terminating despite possible in-flight job")
}

// ReapUnhealthyWorkers removes any worker record stale beyond
// UnhealthyWorkerTimeout AND holding no live job. Spec §4.7: "Never reap a
// worker that still owns a live job — the Job Manager recovery loop
// handles that path instead."
func (c *Controller) ReapUnhealthyWorkers(ctx context.Context) (int, error) {
	workers, err := c.cache.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	var ids []string
	for _, w := range workers {
		if len(w.CurrentJobs) > 0 {
			continue // owns a live job: Job Manager recovery handles it
		}
		if now.Sub(w.LastSeen) <= c.cfg.UnhealthyWorkerTimeout {
			continue
		}
		if err := c.cache.DeleteWorker(ctx, w.WorkerID); err != nil {
			c.log.Warn().Err(err).Str("worker_id", w.WorkerID).Msg("failed to delete stale worker record")
			continue
		}
		ids = append(ids, w.WorkerID)
		removed++
	}
	if len(ids) > 0 {
		if err := c.fleet.Terminate(ctx, ids); err != nil {
			c.log.Warn().Err(err).Msg("failed to terminate instances for reaped workers")
		}
	}
	return removed, nil
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
