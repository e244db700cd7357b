package mathutil

import "math"

// Matrix4 is a 4x4 matrix stored in column-major order, matching the
// convention most WebGL/Three.js-adjacent tooling expects: m[col*4+row].
type Matrix4 struct {
	m [16]float64
}

// Compose builds a TRS matrix from position, rotation, and scale.
func Compose(position Vec3, rotation Quaternion, scale Vec3) Matrix4 {
	q := rotation.Normalize()
	x, y, z, w := q.X, q.Y, q.Z, q.W

	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	var mat Matrix4
	mat.m[0] = (1 - (yy + zz)) * scale.X
	mat.m[1] = (xy + wz) * scale.X
	mat.m[2] = (xz - wy) * scale.X
	mat.m[3] = 0

	mat.m[4] = (xy - wz) * scale.Y
	mat.m[5] = (1 - (xx + zz)) * scale.Y
	mat.m[6] = (yz + wx) * scale.Y
	mat.m[7] = 0

	mat.m[8] = (xz + wy) * scale.Z
	mat.m[9] = (yz - wx) * scale.Z
	mat.m[10] = (1 - (xx + yy)) * scale.Z
	mat.m[11] = 0

	mat.m[12] = position.X
	mat.m[13] = position.Y
	mat.m[14] = position.Z
	mat.m[15] = 1

	return mat
}

// Decompose extracts position, rotation, and scale from a TRS matrix.
// Scale is derived from the length of each basis column; sign is fixed
// using the matrix determinant so a negative-scale (mirrored) transform
// round-trips. Rotation extraction uses the trace-based branch choice:
// the w-dominant branch when trace>0, otherwise the branch keyed on the
// largest diagonal entry, to avoid dividing by a near-zero number.
func (mat Matrix4) Decompose() (position Vec3, rotation Quaternion, scale Vec3) {
	m := mat.m

	position = Vec3{m[12], m[13], m[14]}

	col0 := Vec3{m[0], m[1], m[2]}
	col1 := Vec3{m[4], m[5], m[6]}
	col2 := Vec3{m[8], m[9], m[10]}

	sx := col0.Length()
	sy := col1.Length()
	sz := col2.Length()

	if mat.determinant3x3() < 0 {
		sx = -sx
	}
	scale = Vec3{sx, sy, sz}

	// Normalize the rotation part by dividing out scale.
	var rm [9]float64
	if sx != 0 {
		rm[0], rm[1], rm[2] = m[0]/sx, m[1]/sx, m[2]/sx
	}
	if sy != 0 {
		rm[3], rm[4], rm[5] = m[4]/sy, m[5]/sy, m[6]/sy
	}
	if sz != 0 {
		rm[6], rm[7], rm[8] = m[8]/sz, m[9]/sz, m[10]/sz
	}

	rotation = rotationFromBasis(rm)
	return
}

// determinant3x3 computes the determinant of the upper-left 3x3 block,
// used only to recover the sign lost by taking column lengths.
func (mat Matrix4) determinant3x3() float64 {
	m := mat.m
	a, b, c := m[0], m[4], m[8]
	d, e, f := m[1], m[5], m[9]
	g, h, i := m[2], m[6], m[10]
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

// rotationFromBasis converts a column-major 3x3 rotation basis (rm[col*3+row])
// into a unit quaternion using the trace-based branch choice.
func rotationFromBasis(rm [9]float64) Quaternion {
	m00, m10, m20 := rm[0], rm[1], rm[2]
	m01, m11, m21 := rm[3], rm[4], rm[5]
	m02, m12, m22 := rm[6], rm[7], rm[8]

	trace := m00 + m11 + m22

	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		return Quaternion{
			W: 0.25 / s,
			X: (m21 - m12) * s,
			Y: (m02 - m20) * s,
			Z: (m10 - m01) * s,
		}.Normalize()
	case m00 > m11 && m00 > m22:
		s := 2.0 * math.Sqrt(1.0+m00-m11-m22)
		return Quaternion{
			W: (m21 - m12) / s,
			X: 0.25 * s,
			Y: (m01 + m10) / s,
			Z: (m02 + m20) / s,
		}.Normalize()
	case m11 > m22:
		s := 2.0 * math.Sqrt(1.0+m11-m00-m22)
		return Quaternion{
			W: (m02 - m20) / s,
			X: (m01 + m10) / s,
			Y: 0.25 * s,
			Z: (m12 + m21) / s,
		}.Normalize()
	default:
		s := 2.0 * math.Sqrt(1.0+m22-m00-m11)
		return Quaternion{
			W: (m10 - m01) / s,
			X: (m02 + m20) / s,
			Y: (m12 + m21) / s,
			Z: 0.25 * s,
		}.Normalize()
	}
}
