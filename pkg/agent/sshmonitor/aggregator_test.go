package sshmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureAggregator_CountsWithinWindow(t *testing.T) {
	agg := NewFailureAggregator(60 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 6; i++ {
		got := agg.OnFailedLogin("10.0.0.9", base.Add(time.Duration(i)*time.Second))
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 1, agg.OnFailedLogin("10.0.0.10", base))
}

func TestFailureAggregator_PrunesExpired(t *testing.T) {
	agg := NewFailureAggregator(60 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	assert.Equal(t, 1, agg.OnFailedLogin("10.0.0.9", base))
	assert.Equal(t, 1, agg.OnFailedLogin("10.0.0.9", base.Add(61*time.Second)))
}

func TestFailureAggregator_WindowBoundaryInclusive(t *testing.T) {
	agg := NewFailureAggregator(60 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	agg.OnFailedLogin("10.0.0.9", base)
	assert.Equal(t, 2, agg.OnFailedLogin("10.0.0.9", base.Add(60*time.Second)))
}

func TestFailureAggregator_ResetOnSuccessOrClose(t *testing.T) {
	agg := NewFailureAggregator(60 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		agg.OnFailedLogin("10.0.0.9", base)
	}
	agg.OnSuccessOrClose("10.0.0.9")
	agg.OnSuccessOrClose("10.0.0.9")
	assert.Equal(t, 0, agg.Count("10.0.0.9", base))
	assert.Equal(t, 1, agg.OnFailedLogin("10.0.0.9", base))
}

func TestFailureAggregator_Count(t *testing.T) {
	agg := NewFailureAggregator(10 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	agg.OnFailedLogin("a", base)
	agg.OnFailedLogin("a", base.Add(5*time.Second))
	assert.Equal(t, 2, agg.Count("a", base.Add(9*time.Second)))
	assert.Equal(t, 1, agg.Count("a", base.Add(12*time.Second)))
	assert.Equal(t, 0, agg.Count("a", base.Add(30*time.Second)))
	assert.Equal(t, 0, agg.Len())
	assert.Equal(t, 0, agg.Count("missing", base))
}

func TestFailureAggregator_Sweep(t *testing.T) {
	agg := NewFailureAggregator(10 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	agg.OnFailedLogin("old", base)
	agg.OnFailedLogin("mixed", base)
	agg.OnFailedLogin("mixed", base.Add(15*time.Second))
	agg.OnFailedLogin("fresh", base.Add(18*time.Second))

	removed := agg.Sweep(base.Add(20 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, agg.Len())

	// 清理不影响后续计数
	assert.Equal(t, 2, agg.OnFailedLogin("mixed", base.Add(20*time.Second)))
	assert.Equal(t, 2, agg.OnFailedLogin("fresh", base.Add(20*time.Second)))
}
