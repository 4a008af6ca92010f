package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
)

func TestPerformanceTier(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{95, TierExcellent},
		{80, TierExcellent},
		{70, TierGood},
		{60, TierGood},
		{45, TierAverage},
		{40, TierAverage},
		{10, TierPoor},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, performanceTier(c.score))
	}
}

func TestConcurrentLimit_ResourceStarvedDropsToOne(t *testing.T) {
	rec := cache.CapacityRecord{PerformanceTier: TierExcellent, CPUPercent: 95}
	assert.Equal(t, 1, concurrentLimit(rec))

	rec = cache.CapacityRecord{PerformanceTier: TierExcellent, MemPercent: 90}
	assert.Equal(t, 1, concurrentLimit(rec))
}

func TestConcurrentLimit_TierPolicy(t *testing.T) {
	assert.Equal(t, 3, concurrentLimit(cache.CapacityRecord{PerformanceTier: TierExcellent}))
	assert.Equal(t, 1, concurrentLimit(cache.CapacityRecord{PerformanceTier: TierPoor}))
	assert.Equal(t, baseConcurrentLimit, concurrentLimit(cache.CapacityRecord{PerformanceTier: TierGood}))
	assert.Equal(t, baseConcurrentLimit, concurrentLimit(cache.CapacityRecord{PerformanceTier: TierAverage}))
}

func TestEfficiencyScore_PenalizesResourcePressure(t *testing.T) {
	base := cache.CapacityRecord{SuccessRate: 100, JobsPerHour: 4}
	loaded := base
	loaded.CPUPercent = 90
	loaded.MemPercent = 90

	assert.Greater(t, efficiencyScore(base), efficiencyScore(loaded))
}

func TestEfficiencyScore_ClampedToRange(t *testing.T) {
	worst := cache.CapacityRecord{SuccessRate: 0, CPUPercent: 100, MemPercent: 100, DiskPercent: 100}
	assert.GreaterOrEqual(t, efficiencyScore(worst), 0.0)

	best := cache.CapacityRecord{SuccessRate: 100, JobsPerHour: 10}
	assert.LessOrEqual(t, efficiencyScore(best), 100.0)
}

func TestUpdatePerformance_FirstFailureJumpsToNinetyFive(t *testing.T) {
	rec := &cache.CapacityRecord{SuccessRate: 100.0}
	updatePerformance(rec, 0, false)
	assert.Equal(t, 95.0, rec.SuccessRate)
}

func TestUpdatePerformance_ColdStartDurationSetsDirectly(t *testing.T) {
	rec := &cache.CapacityRecord{}
	updatePerformance(rec, 0, true)
	assert.Equal(t, 0.0, rec.AvgJobDuration)
}
