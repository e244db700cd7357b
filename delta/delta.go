// Package delta implements transform delta computation, predictive
// deltas, and the quantized binary wire encodings used to keep
// network_update packets small.
package delta

import (
	"encoding/binary"
	"errors"
	"math"

	"netherlink/mathutil"
	"netherlink/transform"
)

// DefaultThreshold is the componentwise/L1 magnitude below which a field
// is considered unchanged and omitted from a delta.
const DefaultThreshold = 0.001

// DefaultMaxValue bounds the quantization range for position and
// scale: encoded values map [-maxValue, maxValue] to an i16 in
// [-32767, 32767].
const DefaultMaxValue = 10.0

// PositionOnlyBound is the fixed bound used by the position-only and
// super-compressed encodings (±1000 world units).
const PositionOnlyBound = 1000.0

const quantScale = 32767.0

// mask bits for the binary TransformDelta encoding.
const (
	maskPosition byte = 1 << 0
	maskRotation byte = 1 << 1
	maskScale    byte = 1 << 2
)

// TransformDelta is a sparse change-from-base record: a field is present
// only when it changed by more than the computing threshold.
type TransformDelta struct {
	HasPosition bool
	Position    mathutil.Vec3

	HasRotation bool
	Rotation    mathutil.Quaternion

	HasScale bool
	Scale    mathutil.Vec3
}

// Changed reports whether any field is present.
func (d TransformDelta) Changed() bool {
	return d.HasPosition || d.HasRotation || d.HasScale
}

// Compute builds the delta from base to current:
// position/scale are componentwise subtraction, emitted when any
// component's magnitude exceeds threshold; rotation is
// current · base⁻¹, emitted when its componentwise L1 magnitude
// exceeds threshold.
func Compute(base, current transform.Transform, threshold float64) TransformDelta {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var d TransformDelta

	posDelta := current.Position.Sub(base.Position)
	if exceedsComponentThreshold(posDelta, threshold) {
		d.HasPosition = true
		d.Position = posDelta
	}

	scaleDelta := current.Scale.Sub(base.Scale)
	if exceedsComponentThreshold(scaleDelta, threshold) {
		d.HasScale = true
		d.Scale = scaleDelta
	}

	rotDelta := current.Rotation.Multiply(base.Rotation.Inverse()).Normalize()
	if quatL1(rotDelta) > threshold {
		d.HasRotation = true
		d.Rotation = rotDelta
	}

	return d
}

// Apply reconstructs current from base and delta, the inverse of Compute.
func Apply(base transform.Transform, d TransformDelta) transform.Transform {
	result := base

	if d.HasPosition {
		result.Position = base.Position.Add(d.Position)
	}
	if d.HasScale {
		result.Scale = base.Scale.Add(d.Scale)
	}
	if d.HasRotation {
		result.Rotation = d.Rotation.Multiply(base.Rotation).Normalize()
	}

	return result
}

func exceedsComponentThreshold(v mathutil.Vec3, threshold float64) bool {
	return math.Abs(v.X) > threshold || math.Abs(v.Y) > threshold || math.Abs(v.Z) > threshold
}

func quatL1(q mathutil.Quaternion) float64 {
	return math.Abs(q.X) + math.Abs(q.Y) + math.Abs(q.Z) + math.Abs(q.W-1)
}

// Predict computes the linear predictive estimate 2*h[n-1] - h[n-2] for
// position/scale and SLERP(h[n-2], h[n-1], 2) for rotation.
func Predict(hPrev2, hPrev1 transform.Transform) transform.Transform {
	return transform.Transform{
		Position: hPrev1.Position.Scale(2).Sub(hPrev2.Position),
		Rotation: mathutil.Slerp(hPrev2.Rotation, hPrev1.Rotation, 2).Normalize(),
		Scale:    hPrev1.Scale.Scale(2).Sub(hPrev2.Scale),
	}
}

// ErrShortBuffer is returned by the Decode functions when the input is
// too short for the encoding it claims to be.
var ErrShortBuffer = errors.New("delta: buffer too short")

func quantize(v float64, maxValue float64) int16 {
	clamped := mathutil.Clamp(v/maxValue, -1, 1)
	return int16(math.Round(clamped * quantScale))
}

func dequantize(q int16, maxValue float64) float64 {
	return (float64(q) / quantScale) * maxValue
}

// EncodeBinary serializes d using the mask-prefixed i16-quantized
// wire form.
func EncodeBinary(d TransformDelta, maxValue float64) []byte {
	if maxValue <= 0 {
		maxValue = DefaultMaxValue
	}

	var mask byte
	if d.HasPosition {
		mask |= maskPosition
	}
	if d.HasRotation {
		mask |= maskRotation
	}
	if d.HasScale {
		mask |= maskScale
	}

	buf := []byte{mask}

	if d.HasPosition {
		buf = appendVec3Quantized(buf, d.Position, maxValue)
	}
	if d.HasRotation {
		buf = append(buf, encodeSmallestThree(d.Rotation)...)
	}
	if d.HasScale {
		buf = appendVec3Quantized(buf, d.Scale, maxValue)
	}

	return buf
}

// DecodeBinary parses the wire form produced by EncodeBinary.
func DecodeBinary(buf []byte, maxValue float64) (TransformDelta, error) {
	if maxValue <= 0 {
		maxValue = DefaultMaxValue
	}
	if len(buf) < 1 {
		return TransformDelta{}, ErrShortBuffer
	}

	mask := buf[0]
	buf = buf[1:]
	var d TransformDelta

	if mask&maskPosition != 0 {
		v, rest, err := readVec3Quantized(buf, maxValue)
		if err != nil {
			return TransformDelta{}, err
		}
		d.HasPosition, d.Position, buf = true, v, rest
	}
	if mask&maskRotation != 0 {
		if len(buf) < 7 {
			return TransformDelta{}, ErrShortBuffer
		}
		d.HasRotation = true
		d.Rotation = decodeSmallestThree(buf[:7])
		buf = buf[7:]
	}
	if mask&maskScale != 0 {
		v, rest, err := readVec3Quantized(buf, maxValue)
		if err != nil {
			return TransformDelta{}, err
		}
		d.HasScale, d.Scale, buf = true, v, rest
	}

	return d, nil
}

func appendVec3Quantized(buf []byte, v mathutil.Vec3, maxValue float64) []byte {
	var tmp [6]byte
	binary.LittleEndian.PutUint16(tmp[0:2], uint16(quantize(v.X, maxValue)))
	binary.LittleEndian.PutUint16(tmp[2:4], uint16(quantize(v.Y, maxValue)))
	binary.LittleEndian.PutUint16(tmp[4:6], uint16(quantize(v.Z, maxValue)))
	return append(buf, tmp[:]...)
}

func readVec3Quantized(buf []byte, maxValue float64) (mathutil.Vec3, []byte, error) {
	if len(buf) < 6 {
		return mathutil.Vec3{}, nil, ErrShortBuffer
	}
	x := dequantize(int16(binary.LittleEndian.Uint16(buf[0:2])), maxValue)
	y := dequantize(int16(binary.LittleEndian.Uint16(buf[2:4])), maxValue)
	z := dequantize(int16(binary.LittleEndian.Uint16(buf[4:6])), maxValue)
	return mathutil.Vec3{X: x, Y: y, Z: z}, buf[6:], nil
}

// encodeSmallestThree drops the largest-magnitude quaternion component,
// re-signs the remaining three so the dropped one is non-negative, and
// packs them as a 1-byte dropped-index prefix followed by three i16
// scaled by 32767 — 7 bytes total.
func encodeSmallestThree(q mathutil.Quaternion) []byte {
	q = q.Normalize()
	components := [4]float64{q.X, q.Y, q.Z, q.W}

	dropIdx := 0
	largest := math.Abs(components[0])
	for i := 1; i < 4; i++ {
		if math.Abs(components[i]) > largest {
			largest = math.Abs(components[i])
			dropIdx = i
		}
	}

	if components[dropIdx] < 0 {
		for i := range components {
			components[i] = -components[i]
		}
	}

	buf := make([]byte, 7)
	buf[0] = byte(dropIdx)

	out := 1
	for i := 0; i < 4; i++ {
		if i == dropIdx {
			continue
		}
		binary.LittleEndian.PutUint16(buf[out:out+2], uint16(int16(math.Round(components[i]*quantScale))))
		out += 2
	}

	return buf
}

// decodeSmallestThree is the inverse of encodeSmallestThree.
func decodeSmallestThree(buf []byte) mathutil.Quaternion {
	dropIdx := int(buf[0])

	var kept [3]float64
	for i := 0; i < 3; i++ {
		raw := int16(binary.LittleEndian.Uint16(buf[1+i*2 : 3+i*2]))
		kept[i] = float64(raw) / quantScale
	}

	sumSq := kept[0]*kept[0] + kept[1]*kept[1] + kept[2]*kept[2]
	dropped := math.Sqrt(math.Max(0, 1-sumSq))

	var components [4]float64
	k := 0
	for i := 0; i < 4; i++ {
		if i == dropIdx {
			components[i] = dropped
			continue
		}
		components[i] = kept[k]
		k++
	}

	return mathutil.Quaternion{X: components[0], Y: components[1], Z: components[2], W: components[3]}.Normalize()
}

// EncodeFull serializes the full transform uncompressed as 10 little-
// endian float32s: position, rotation (x,y,z,w), scale.
func EncodeFull(t transform.Transform) []byte {
	buf := make([]byte, 40)
	vals := []float64{
		t.Position.X, t.Position.Y, t.Position.Z,
		t.Rotation.X, t.Rotation.Y, t.Rotation.Z, t.Rotation.W,
		t.Scale.X, t.Scale.Y, t.Scale.Z,
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(float32(v)))
	}
	return buf
}

// DecodeFull is the inverse of EncodeFull.
func DecodeFull(buf []byte) (transform.Transform, error) {
	if len(buf) < 40 {
		return transform.Transform{}, ErrShortBuffer
	}
	v := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4])))
	}
	return transform.Transform{
		Position: mathutil.Vec3{X: v(0), Y: v(1), Z: v(2)},
		Rotation: mathutil.Quaternion{X: v(3), Y: v(4), Z: v(5), W: v(6)},
		Scale:    mathutil.Vec3{X: v(7), Y: v(8), Z: v(9)},
	}, nil
}

// EncodePositionOnly quantizes position alone to 6 bytes against the
// fixed ±1000 bound used for high-frequency position-only updates.
func EncodePositionOnly(pos mathutil.Vec3) []byte {
	return appendVec3Quantized(nil, pos, PositionOnlyBound)
}

// DecodePositionOnly is the inverse of EncodePositionOnly.
func DecodePositionOnly(buf []byte) (mathutil.Vec3, error) {
	v, _, err := readVec3Quantized(buf, PositionOnlyBound)
	return v, err
}

// EncodeEntityUpdate packs the "super-compressed entity update": a type
// byte, a length-prefixed entity ID, a ±1000-bound quantized position
// (6 bytes), and a smallest-three rotation (7 bytes) — the
// ENTITY_UPDATE wire form.
func EncodeEntityUpdate(packetType byte, entityID string, t transform.Transform) []byte {
	idBytes := []byte(entityID)
	buf := make([]byte, 0, 2+len(idBytes)+6+7)
	buf = append(buf, packetType, byte(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = appendVec3Quantized(buf, t.Position, PositionOnlyBound)
	buf = append(buf, encodeSmallestThree(t.Rotation)...)
	return buf
}

// DecodeEntityUpdate is the inverse of EncodeEntityUpdate, returning the
// packet type, entity ID, and the decoded position/rotation (scale is
// not carried by this wire form and is left at the caller's default).
func DecodeEntityUpdate(buf []byte) (packetType byte, entityID string, pos mathutil.Vec3, rot mathutil.Quaternion, err error) {
	if len(buf) < 2 {
		err = ErrShortBuffer
		return
	}
	packetType = buf[0]
	idLen := int(buf[1])
	buf = buf[2:]
	if len(buf) < idLen+6+7 {
		err = ErrShortBuffer
		return
	}
	entityID = string(buf[:idLen])
	buf = buf[idLen:]

	pos, buf, err = readVec3Quantized(buf, PositionOnlyBound)
	if err != nil {
		return
	}
	rot = decodeSmallestThree(buf[:7])
	return
}
