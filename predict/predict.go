// Package predict implements the stateless forward-integrator of input
// against a base transform.
package predict

import (
	"netherlink/inputbuffer"
	"netherlink/mathutil"
	"netherlink/transform"
)

// DefaultSpeed is the movement speed (units/second) used when a Predictor
// is constructed with a zero Speed.
const DefaultSpeed = 5.0

// DefaultRotationSpeed is the yaw rate (radians/second) used when a
// Predictor is constructed with a zero RotationSpeed. Movement inputs do
// not rotate the entity by default; this exists for extension inputs
// that do (see Predict's Extensions handling).
const DefaultRotationSpeed = 2.0

// DefaultTickMs is the timestep assumed between consecutive inputs when
// no explicit timestamp delta is available.
const DefaultTickMs = 1000.0 / 60.0

// Predictor is a pure function object: Predict never mutates its
// receiver's fields after construction and never retains state between
// calls.
type Predictor struct {
	Speed         float64
	RotationSpeed float64
}

func New(speed, rotationSpeed float64) Predictor {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	if rotationSpeed <= 0 {
		rotationSpeed = DefaultRotationSpeed
	}
	return Predictor{Speed: speed, RotationSpeed: rotationSpeed}
}

// Predict forward-integrates one input over dt seconds against base,
// applying the player-relative movement rule:
// forward/backward moves along the base's local -Z/+Z axis, strafing
// moves along local ±X, and rotate-left/right (carried as extension
// booleans "rotate_left"/"rotate_right") yaws the base rotation.
func (p Predictor) Predict(input inputbuffer.InputState, dtSeconds float64, base transform.Transform) transform.Transform {
	result := base

	var localMove mathutil.Vec3
	if input.Forward {
		localMove.Z -= 1
	}
	if input.Backward {
		localMove.Z += 1
	}
	if input.Right {
		localMove.X += 1
	}
	if input.Left {
		localMove.X -= 1
	}

	speed := p.Speed
	if input.Sprint {
		speed *= 2
	}

	if localMove != (mathutil.Vec3{}) {
		worldMove := base.Rotation.Rotate(localMove).Scale(speed * dtSeconds)
		result.Position = base.Position.Add(worldMove)
	}

	if rotateLeft, _ := input.Extensions["rotate_left"].(bool); rotateLeft {
		yaw := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, p.RotationSpeed*dtSeconds)
		result.Rotation = yaw.Multiply(base.Rotation)
	}
	if rotateRight, _ := input.Extensions["rotate_right"].(bool); rotateRight {
		yaw := mathutil.FromAxisAngle(mathutil.Vec3{Y: 1}, -p.RotationSpeed*dtSeconds)
		result.Rotation = yaw.Multiply(base.Rotation)
	}

	return result
}

// PredictSequence folds Predict over inputs, using each consecutive pair
// of recorded timestamps to derive dt (DefaultTickMs when a previous
// timestamp is unavailable, i.e. for the first input in the slice).
func (p Predictor) PredictSequence(inputs []inputbuffer.Record, start transform.Transform) transform.Transform {
	result, _ := p.PredictSequenceFrom(inputs, start, 0, false)
	return result
}

// PredictSequenceFrom behaves like PredictSequence but seeds the first
// input's dt from seedTimestampMs (e.g. the timestamp of the last
// acknowledged input) when haveSeed is true, instead of falling back to
// DefaultTickMs. It also returns the timestamp of the last input folded,
// so callers can chain further replays.
func (p Predictor) PredictSequenceFrom(inputs []inputbuffer.Record, start transform.Transform, seedTimestampMs float64, haveSeed bool) (transform.Transform, float64) {
	current := start
	lastTs := seedTimestampMs
	haveLast := haveSeed

	for _, rec := range inputs {
		dtMs := DefaultTickMs
		if haveLast {
			if d := rec.TimestampMs - lastTs; d > 0 {
				dtMs = d
			}
		}
		current = p.Predict(rec.Input, dtMs/1000.0, current)
		lastTs = rec.TimestampMs
		haveLast = true
	}

	return current, lastTs
}
