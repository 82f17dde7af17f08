package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, Healthy("cache", "").IsHealthy())
	assert.True(t, Degraded("store", "slow queries").IsDegraded())
	assert.True(t, Unhealthy("nats", "disconnected").IsUnhealthy())
	assert.False(t, Degraded("store", "").Healthy)
}

func TestAggregateAllHealthy(t *testing.T) {
	overall := Aggregate("atomhub",
		func() Status { return Healthy("store", "") },
		func() Status { return Healthy("cache", "") },
	)

	assert.Equal(t, StatusHealthy, overall.Status)
	assert.True(t, overall.Healthy)
	assert.Len(t, overall.SubStatuses, 2)
}

func TestAggregateDegradedWins(t *testing.T) {
	overall := Aggregate("atomhub",
		func() Status { return Healthy("store", "") },
		func() Status { return Degraded("cache", "serving stale data") },
	)

	assert.Equal(t, StatusDegraded, overall.Status)
	assert.False(t, overall.Healthy)
}

func TestAggregateUnhealthyDominates(t *testing.T) {
	overall := Aggregate("atomhub",
		func() Status { return Degraded("cache", "stale") },
		func() Status { return Unhealthy("store", "unreachable") },
		func() Status { return Healthy("views", "") },
	)

	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Healthy)
	assert.Len(t, overall.SubStatuses, 3)
}
