package snapshot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/clock"
	"netherlink/mathutil"
	"netherlink/transform"
)

func snap(x, ts float64) transform.Snapshot {
	return transform.Snapshot{
		Transform: transform.Transform{
			Position: mathutil.Vec3{X: x},
			Rotation: mathutil.IdentityQuat,
			Scale:    mathutil.One3,
		},
		TimestampMs: ts,
	}
}

// Scenario (a): lerp between two bracketing snapshots.
func TestScenarioLerpBetweenSnapshots(t *testing.T) {
	eng := NewEngine(Config{}, clock.NewManual(0))
	eng.AddSnapshot("e1", snap(0, 1000))
	eng.AddSnapshot("e1", snap(10, 2000))

	tr, ok := eng.GetInterpolatedTransform("e1", 1500)
	require.True(t, ok)
	assert.InDelta(t, 5.0, tr.Position.X, 1e-9)
	assert.InDelta(t, 1.0, tr.Rotation.W, 1e-9)
}

// Scenario (b): extrapolation is capped at maxExtrapolationTime.
func TestScenarioExtrapolationCap(t *testing.T) {
	eng := NewEngine(Config{
		AllowExtrapolation:     true,
		MaxExtrapolationTimeMs: 500,
	}, clock.NewManual(0))
	eng.AddSnapshot("e1", snap(0, 0))
	eng.AddSnapshot("e1", snap(1, 100))

	tr, ok := eng.GetInterpolatedTransform("e1", 2000)
	require.True(t, ok)
	assert.InDelta(t, 6.0, tr.Position.X, 1e-9)
}

func TestNoExtrapolationHoldsLastSnapshot(t *testing.T) {
	eng := NewEngine(Config{AllowExtrapolation: false}, clock.NewManual(0))
	eng.AddSnapshot("e1", snap(0, 0))
	eng.AddSnapshot("e1", snap(1, 100))

	tr, ok := eng.GetInterpolatedTransform("e1", 5000)
	require.True(t, ok)
	assert.InDelta(t, 1.0, tr.Position.X, 1e-9)
}

func TestZeroSnapshotsReturnsNotFound(t *testing.T) {
	eng := NewEngine(Config{}, clock.NewManual(0))
	_, ok := eng.GetInterpolatedTransform("missing", 0)
	assert.False(t, ok)
}

func TestSingleSnapshotReturnsItself(t *testing.T) {
	eng := NewEngine(Config{}, clock.NewManual(0))
	eng.AddSnapshot("e1", snap(7, 42))
	tr, ok := eng.GetInterpolatedTransform("e1", 999)
	require.True(t, ok)
	assert.InDelta(t, 7.0, tr.Position.X, 1e-9)
}

// Property 1: interpolation monotonicity between bracketing snapshots.
func TestInterpolationMonotonicity(t *testing.T) {
	eng := NewEngine(Config{}, clock.NewManual(0))
	eng.AddSnapshot("e1", snap(0, 0))
	eng.AddSnapshot("e1", snap(100, 1000))

	prev := math.Inf(-1)
	for ms := 0.0; ms <= 1000; ms += 50 {
		tr, ok := eng.GetInterpolatedTransform("e1", ms)
		require.True(t, ok)
		assert.GreaterOrEqual(t, tr.Position.X, prev)
		prev = tr.Position.X
	}
}

func TestEvictionKeepsAtLeastTwo(t *testing.T) {
	eng := NewEngine(Config{SnapshotExpirationMs: 100}, clock.NewManual(10000))
	eng.AddSnapshot("e1", snap(0, 0))
	eng.AddSnapshot("e1", snap(1, 50))
	eng.AddSnapshot("e1", snap(2, 9999))

	eng.Update()
	snaps := eng.Snapshots("e1")
	assert.GreaterOrEqual(t, len(snaps), 2)
}

func TestSquadBoundariesMatchEndpoints(t *testing.T) {
	q0 := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, 0)
	q1 := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, 0.3)
	q2 := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, 0.6)
	q3 := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, 0.9)

	start := Squad(q1, q2, q0, q3, 0)
	end := Squad(q1, q2, q0, q3, 1)

	assert.InDelta(t, 1.0, math.Abs(start.Dot(q1)), 1e-6)
	assert.InDelta(t, 1.0, math.Abs(end.Dot(q2)), 1e-6)
}

func TestCatmullRomDegenerateFallsBackToLerp(t *testing.T) {
	p := mathutil.Vec3{X: 1, Y: 1, Z: 1}
	result := catmullRomCentripetal(mathutil.Vec3{}, p, p, mathutil.Vec3{X: 2}, 0.5, DefaultCentripetalAlpha)
	expected := p.Lerp(p, 0.5)
	assert.InDelta(t, expected.X, result.X, 1e-9)
}
