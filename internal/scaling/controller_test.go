package scaling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Harshaan-Chugh/rabbitreels/internal/cache"
	"github.com/Harshaan-Chugh/rabbitreels/internal/capacity"
)

func TestTierRank_UnknownTreatedAsAverage(t *testing.T) {
	assert.Equal(t, 1, tierRank(nil))
	assert.Equal(t, 1, tierRank(&cache.CapacityRecord{PerformanceTier: "unrecognized"}))
}

func TestTierRank_Ordering(t *testing.T) {
	poor := tierRank(&cache.CapacityRecord{PerformanceTier: capacity.TierPoor})
	avg := tierRank(&cache.CapacityRecord{PerformanceTier: capacity.TierAverage})
	good := tierRank(&cache.CapacityRecord{PerformanceTier: capacity.TierGood})
	excellent := tierRank(&cache.CapacityRecord{PerformanceTier: capacity.TierExcellent})

	assert.Less(t, poor, avg)
	assert.Less(t, avg, good)
	assert.Less(t, good, excellent)
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 1, clampInt(1, 0, 10))
	assert.Equal(t, 10, clampInt(1, 20, 10))
	assert.Equal(t, 5, clampInt(1, 5, 10))
}

func TestOverridesCooldown(t *testing.T) {
	c := &Controller{}

	assert.True(t, c.overridesCooldown(0, 0, 0, 0), "no active workers always overrides")
	assert.True(t, c.overridesCooldown(10, 2, 0, 0), "queue depth > 3x active overrides")
	assert.True(t, c.overridesCooldown(0, 4, 3, 0), "recent completions > half active overrides")
	assert.True(t, c.overridesCooldown(0, 4, 0, 0.95), "utilization > 0.9 overrides")
	assert.False(t, c.overridesCooldown(2, 4, 1, 0.5), "steady state does not override")
}
