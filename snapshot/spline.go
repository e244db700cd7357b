package snapshot

import (
	"math"

	"netherlink/mathutil"
	"netherlink/transform"
)

// Method selects which advanced interpolation scheme AdvancedInterpolate
// uses when four bracketing snapshots are available.
type Method int

const (
	MethodLinear Method = iota
	MethodHermite
	MethodCatmullRom
)

// DefaultTension is the Hermite tension used when none is supplied.
const DefaultTension = 0.0

// DefaultCentripetalAlpha is the Catmull-Rom centripetal exponent.
const DefaultCentripetalAlpha = 0.5

// AdvancedInterpolate resolves a position between p1 and p2 (t in [0,1])
// given the four bracketing points p0,p1,p2,p3; MethodLinear (or any
// method other than Hermite and Catmull-Rom) uses simple linear
// interpolation between p1 and p2. Rotation is always resolved via Squad
// over the four orientations.
func AdvancedInterpolate(points [4]transform.Transform, t float64, method Method, tension float64) transform.Transform {
	pos := interpolatePosition(points, t, method, tension)
	rot := Squad(points[1].Rotation, points[2].Rotation, points[0].Rotation, points[3].Rotation, t)
	scale := points[1].Scale.Lerp(points[2].Scale, t)
	return transform.Transform{Position: pos, Rotation: rot, Scale: scale}
}

func interpolatePosition(points [4]transform.Transform, t float64, method Method, tension float64) mathutil.Vec3 {
	p0, p1, p2, p3 := points[0].Position, points[1].Position, points[2].Position, points[3].Position

	switch method {
	case MethodHermite:
		return hermite(p0, p1, p2, p3, t, tension)
	case MethodCatmullRom:
		return catmullRomCentripetal(p0, p1, p2, p3, t, DefaultCentripetalAlpha)
	default:
		return p1.Lerp(p2, t)
	}
}

// hermite interpolates p1->p2 at t using Catmull-Rom-style tangents
// scaled by tension tau: m_i = ((1-tau)/2)(p_{i+1}-p_{i-1}).
func hermite(p0, p1, p2, p3 mathutil.Vec3, t, tau float64) mathutil.Vec3 {
	m1 := p2.Sub(p0).Scale((1 - tau) / 2)
	m2 := p3.Sub(p1).Scale((1 - tau) / 2)

	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return p1.Scale(h00).Add(m1.Scale(h10)).Add(p2.Scale(h01)).Add(m2.Scale(h11))
}

// catmullRomCentripetal implements the centripetal parameterization (knot
// spacing dt_i = |p_{i+1}-p_i|^alpha), falling back to a simple lerp when
// the p1->p2 span is degenerate (dt1 < 1e-4).
func catmullRomCentripetal(p0, p1, p2, p3 mathutil.Vec3, t, alpha float64) mathutil.Vec3 {
	dt0 := math.Pow(p1.Distance(p0), alpha)
	dt1 := math.Pow(p2.Distance(p1), alpha)
	dt2 := math.Pow(p3.Distance(p2), alpha)

	if dt1 < 1e-4 {
		return p1.Lerp(p2, t)
	}

	// Guard degenerate outer spans by substituting a small epsilon so the
	// tangent terms don't divide by zero; this only affects curvature at
	// the segment ends, never the t=0/t=1 endpoints themselves.
	if dt0 < 1e-4 {
		dt0 = 1e-4
	}
	if dt2 < 1e-4 {
		dt2 = 1e-4
	}

	t0 := 0.0
	t1 := t0 + dt0
	t2Knot := t1 + dt1
	t3 := t2Knot + dt2

	tt := t1 + t*(t2Knot-t1)

	a1 := p0.Scale((t1 - tt) / (t1 - t0)).Add(p1.Scale((tt - t0) / (t1 - t0)))
	a2 := p1.Scale((t2Knot - tt) / (t2Knot - t1)).Add(p2.Scale((tt - t1) / (t2Knot - t1)))
	a3 := p2.Scale((t3 - tt) / (t3 - t2Knot)).Add(p3.Scale((tt - t2Knot) / (t3 - t2Knot)))

	b1 := a1.Scale((t2Knot - tt) / (t2Knot - t0)).Add(a2.Scale((tt - t0) / (t2Knot - t0)))
	b2 := a2.Scale((t3 - tt) / (t3 - t1)).Add(a3.Scale((tt - t1) / (t3 - t1)))

	return b1.Scale((t2Knot - tt) / (t2Knot - t1)).Add(b2.Scale((tt - t1) / (t2Knot - t1)))
}

// Squad performs spherical cubic interpolation through q1,q2 (the
// segment endpoints) using control points derived from the flanking
// orientations q0,q3:
//
//	s_i = q_i * exp(-(log(q_i^-1 * q_{i-1}) + log(q_i^-1 * q_{i+1})) / 4)
//	result = slerp(slerp(q1,q2,t), slerp(s1,s2,t), 2t(1-t))
func Squad(q1, q2, q0, q3 mathutil.Quaternion, t float64) mathutil.Quaternion {
	s1 := squadControlPoint(q0, q1, q2)
	s2 := squadControlPoint(q1, q2, q3)

	slerpMain := mathutil.Slerp(q1, q2, t)
	slerpControl := mathutil.Slerp(s1, s2, t)

	return mathutil.Slerp(slerpMain, slerpControl, 2*t*(1-t))
}

func squadControlPoint(prev, cur, next mathutil.Quaternion) mathutil.Quaternion {
	curInv := cur.Inverse()
	logPrev := curInv.Multiply(prev).Log()
	logNext := curInv.Multiply(next).Log()

	sum := mathutil.Quaternion{
		X: -(logPrev.X + logNext.X) / 4,
		Y: -(logPrev.Y + logNext.Y) / 4,
		Z: -(logPrev.Z + logNext.Z) / 4,
		W: 0,
	}

	return cur.Multiply(sum.Exp())
}
