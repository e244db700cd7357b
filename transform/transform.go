// Package transform defines the Transform and Snapshot value types shared
// across the replication core: every entity's state, at any point in time,
// is one of these.
package transform

import "netherlink/mathutil"

// Transform is the tuple (position, orientation, scale) describing an
// entity's pose. The zero value is NOT a valid transform (rotation would
// be the zero quaternion); use Identity.
type Transform struct {
	Position mathutil.Vec3
	Rotation mathutil.Quaternion
	Scale    mathutil.Vec3
}

// Identity is the default transform: origin, no rotation, unit scale.
var Identity = Transform{
	Position: mathutil.Vec3{},
	Rotation: mathutil.IdentityQuat,
	Scale:    mathutil.One3,
}

// Lerp linearly interpolates position and scale and SLERPs rotation,
// with t expected in [0,1] (callers clamp per their own contract).
func (t Transform) Lerp(o Transform, u float64) Transform {
	return Transform{
		Position: t.Position.Lerp(o.Position, u),
		Rotation: mathutil.Slerp(t.Rotation, o.Rotation, u),
		Scale:    t.Scale.Lerp(o.Scale, u),
	}
}

// Metadata carries identity/authority information alongside a Snapshot.
type Metadata struct {
	EntityID      string
	Authoritative bool
}

// Snapshot is an immutable, timestamped Transform observation.
type Snapshot struct {
	Transform   Transform
	TimestampMs float64
	Metadata    Metadata
}
