package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Normalize_ZeroReturnsZero(t *testing.T) {
	v := Vec3{}.Normalize()
	assert.Equal(t, Vec3{}, v)
}

func TestVec3Lerp(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{10, 0, 0}
	mid := a.Lerp(b, 0.5)
	assert.InDelta(t, 5.0, mid.X, 1e-9)
}

func TestQuaternionInverse_IsUnitForUnitInput(t *testing.T) {
	q := FromAxisAngle(Vec3{0, 1, 0}, math.Pi/3)
	inv := q.Inverse()
	assert.InDelta(t, 1.0, inv.Length(), 1e-9)

	identity := q.Multiply(inv)
	assert.InDelta(t, 1.0, identity.W, 1e-6)
}

func TestSlerpBoundaries(t *testing.T) {
	q1 := FromAxisAngle(Vec3{0, 1, 0}, 0)
	q2 := FromAxisAngle(Vec3{0, 1, 0}, math.Pi/2)

	start := Slerp(q1, q2, 0)
	end := Slerp(q1, q2, 1)

	assert.InDelta(t, q1.X, start.X, 1e-6)
	assert.InDelta(t, q1.W, start.W, 1e-6)
	assert.InDelta(t, q2.X, end.X, 1e-6)
	assert.InDelta(t, q2.W, end.W, 1e-6)
}

func TestSlerpChoosesShorterArc(t *testing.T) {
	q1 := FromAxisAngle(Vec3{0, 1, 0}, 0)
	q2 := FromAxisAngle(Vec3{0, 1, 0}, math.Pi/2).negate()

	mid := Slerp(q1, q2, 0.5)
	assert.InDelta(t, 1.0, mid.Length(), 1e-6)
	// dot with q1 should be nonnegative: we took the short path, not the long one.
	assert.GreaterOrEqual(t, mid.Dot(q1), 0.0)
}

func TestSlerpNearParallelFallsBackToLerp(t *testing.T) {
	q1 := FromAxisAngle(Vec3{0, 1, 0}, 0.001)
	q2 := FromAxisAngle(Vec3{0, 1, 0}, 0.0011)
	mid := Slerp(q1, q2, 0.5)
	assert.InDelta(t, 1.0, mid.Length(), 1e-6)
}

func TestQuaternionLogExpRoundTrip(t *testing.T) {
	q := FromAxisAngle(Vec3{1, 0, 0}, math.Pi/4)
	roundTripped := q.Log().Exp()
	assert.InDelta(t, 1-math.Abs(q.Dot(roundTripped)), 0, 1e-6)
}

func TestMatrix4ComposeDecomposeRoundTrip(t *testing.T) {
	pos := Vec3{1, 2, 3}
	rot := FromAxisAngle(Vec3{0, 1, 0}, math.Pi/5)
	scale := Vec3{2, 1, 0.5}

	mat := Compose(pos, rot, scale)
	gotPos, gotRot, gotScale := mat.Decompose()

	assert.InDelta(t, pos.X, gotPos.X, 1e-9)
	assert.InDelta(t, pos.Y, gotPos.Y, 1e-9)
	assert.InDelta(t, pos.Z, gotPos.Z, 1e-9)

	assert.InDelta(t, scale.X, gotScale.X, 1e-6)
	assert.InDelta(t, scale.Y, gotScale.Y, 1e-6)
	assert.InDelta(t, scale.Z, gotScale.Z, 1e-6)

	// Rotation may recover the equivalent (possibly negated) quaternion.
	dot := math.Abs(rot.Dot(gotRot))
	assert.InDelta(t, 1.0, dot, 1e-5)
}

func TestMatrix4DecomposeNegativeScaleSign(t *testing.T) {
	pos := Vec3{}
	rot := IdentityQuat
	scale := Vec3{-1, 1, 1}

	mat := Compose(pos, rot, scale)
	_, _, gotScale := mat.Decompose()

	assert.True(t, gotScale.X < 0)
}
