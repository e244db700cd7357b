package lagcomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/clock"
	"netherlink/mathutil"
	"netherlink/transform"
)

func withX(x float64) transform.Transform {
	tr := transform.Identity
	tr.Position = mathutil.Vec3{X: x}
	return tr
}

func TestApplyBelowMinThresholdNoCorrection(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	result := c.Apply("e1", withX(0), withX(1e-6))
	assert.Equal(t, withX(0), result)

	_, ok := c.Query("e1")
	assert.False(t, ok)
}

func TestApplyAboveSnapThresholdHardSnap(t *testing.T) {
	c := New(Config{SnapThreshold: 5}, clock.NewManual(0))
	result := c.Apply("e1", withX(0), withX(10))
	assert.Equal(t, withX(10), result)

	_, ok := c.Query("e1")
	assert.False(t, ok)
}

func TestQueryEasesToTargetOverDuration(t *testing.T) {
	mc := clock.NewManual(0)
	c := New(Config{SmoothingDurationMs: 100, SnapThreshold: 5}, mc)

	c.Apply("e1", withX(0), withX(1))

	mc.Set(50)
	mid, ok := c.Query("e1")
	require.True(t, ok)
	assert.Greater(t, mid.Position.X, 0.0)
	assert.Less(t, mid.Position.X, 1.0)

	mc.Set(100)
	end, ok := c.Query("e1")
	require.True(t, ok)
	assert.InDelta(t, 1.0, end.Position.X, 1e-6)

	_, stillActive := c.Query("e1")
	assert.False(t, stillActive)
}

func TestErrorHistoryCapsAtTen(t *testing.T) {
	c := New(Config{}, clock.NewManual(0))
	for i := 0; i < 15; i++ {
		c.Apply("e1", withX(0), withX(0.2))
	}
	assert.LessOrEqual(t, len(c.ErrorHistory("e1")), 10)
}
