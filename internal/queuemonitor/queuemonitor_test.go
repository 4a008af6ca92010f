package queuemonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

func TestRecommend_CooldownShortCircuitsToMaintain(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: 2 * time.Minute})
	metrics := Metrics{QueueDepth: 50, ActiveWorkers: 3, HealthyWorkers: 3}

	rec, target := m.Recommend(metrics, time.Now().Add(-30*time.Second))
	assert.Equal(t, Recommendationmaintain, rec)
	assert.Equal(t, metrics.ActiveWorkers, target)
}

func TestRecommend_ZeroLastScalingActionNeverCoolsDown(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: 2 * time.Minute})
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 1, HealthyWorkers: 1}

	rec, _ := m.Recommend(metrics, time.Time{})
	assert.NotEqual(t, "", rec)
}

func TestRecommend_WorkloadZeroSizesToCappedActive(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	// no workload, 5 active workers all healthy and idle: target caps at min(active, 2) = 2,
	// which is below ActiveWorkers so this should recommend scale_down.
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 5, HealthyWorkers: 5, WorkersWithJobs: 0}

	rec, target := m.Recommend(metrics, time.Time{})
	assert.Equal(t, RecommendationScaleDown, rec)
	assert.Equal(t, 2, target)
}

func TestRecommend_WorkloadZeroFloorsAtMinWorkers(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 3, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 1, HealthyWorkers: 1, WorkersWithJobs: 0}

	_, target := m.Recommend(metrics, time.Time{})
	assert.GreaterOrEqual(t, target, 3)
}

func TestRecommend_WorkloadNonzeroSizesToTotalWorkload(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 20, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	// totalWorkload = 10, so target = max(10, 10/2+1) = 10
	metrics := Metrics{QueueDepth: 6, ProcessingJobs: 4, ActiveWorkers: 2, HealthyWorkers: 2, WorkersWithJobs: 2}

	rec, target := m.Recommend(metrics, time.Time{})
	assert.Equal(t, RecommendationScaleUp, rec)
	assert.Equal(t, 10, target)
}

func TestRecommend_TargetClampedToMaxWorkers(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 5, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	metrics := Metrics{QueueDepth: 100, ProcessingJobs: 0, ActiveWorkers: 2, HealthyWorkers: 2, WorkersWithJobs: 0}

	_, target := m.Recommend(metrics, time.Time{})
	assert.Equal(t, 5, target)
}

func TestRecommend_NeverRecommendsBelowWorkersWithJobs(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	// workload-zero sizing would pick min(active,2)=2, but 4 workers already hold jobs.
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 4, HealthyWorkers: 4, WorkersWithJobs: 4}

	_, target := m.Recommend(metrics, time.Time{})
	assert.GreaterOrEqual(t, target, metrics.WorkersWithJobs)
}

func TestRecommend_ScaleUpRequiresHealthyMajority(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 20, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	// totalWorkload pushes target above ActiveWorkers, but HealthyWorkers is below the
	// 0.8*ActiveWorkers bar, so scale_up should not fire.
	metrics := Metrics{QueueDepth: 10, ProcessingJobs: 0, ActiveWorkers: 3, HealthyWorkers: 2, WorkersWithJobs: 0}

	rec, _ := m.Recommend(metrics, time.Time{})
	assert.Equal(t, Recommendationmaintain, rec)
}

func TestRecommend_ScaleDownRequiresIdleWorkersAndLowQueue(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.5, CooldownPeriod: time.Minute})
	// 4 active, all busy (WorkersWithJobs == ActiveWorkers): no idle workers so no scale_down;
	// the workload-zero target of 2 is raised to WorkersWithJobs, equal to ActiveWorkers.
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 4, HealthyWorkers: 4, WorkersWithJobs: 4}

	rec, _ := m.Recommend(metrics, time.Time{})
	assert.Equal(t, Recommendationmaintain, rec)
}

func TestRecommend_ScaleDownTargetFloorsAtWorkersWithJobsPlusOne(t *testing.T) {
	m := newMonitor(Config{MinWorkers: 1, MaxWorkers: 10, ScaleDownThreshold: 0.9, CooldownPeriod: time.Minute})
	metrics := Metrics{QueueDepth: 0, ProcessingJobs: 0, ActiveWorkers: 5, HealthyWorkers: 5, WorkersWithJobs: 2}

	rec, target := m.Recommend(metrics, time.Time{})
	assert.Equal(t, RecommendationScaleDown, rec)
	assert.Equal(t, 3, target)
}

func TestClampIntHelper(t *testing.T) {
	assert.Equal(t, 0, clampInt(0, -5, 10))
	assert.Equal(t, 10, clampInt(0, 15, 10))
	assert.Equal(t, 4, clampInt(0, 4, 10))
}

func TestMinMaxIntHelpers(t *testing.T) {
	assert.Equal(t, 2, minInt(2, 5))
	assert.Equal(t, 2, minInt(5, 2))
	assert.Equal(t, 5, maxInt(2, 5))
	assert.Equal(t, 5, maxInt(5, 2))
}
