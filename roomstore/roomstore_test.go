package roomstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/mathutil"
)

func TestPersistedRoomStateRoundTrip(t *testing.T) {
	owner := "player-1"
	state := PersistedRoomState{
		Entities: map[string]PersistedEntity{
			"entity-1": {
				ID:                "entity-1",
				OwnerID:           &owner,
				Position:          mathutil.Vec3{X: 1, Y: 2, Z: 3},
				Rotation:          mathutil.IdentityQuat,
				Scale:             mathutil.One3,
				LatestTimestampMs: 1234.5,
				IsLocalOwned:      true,
			},
		},
		LastUpdateMs: 1234.5,
	}

	payload, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded PersistedRoomState
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, state.LastUpdateMs, decoded.LastUpdateMs)
	require.Contains(t, decoded.Entities, "entity-1")
	assert.Equal(t, *state.Entities["entity-1"].OwnerID, *decoded.Entities["entity-1"].OwnerID)
	assert.Equal(t, state.Entities["entity-1"].Position, decoded.Entities["entity-1"].Position)
}

func TestPersistedEntityTransform(t *testing.T) {
	e := PersistedEntity{
		Position: mathutil.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: mathutil.IdentityQuat,
		Scale:    mathutil.One3,
	}
	tr := e.Transform()
	assert.Equal(t, e.Position, tr.Position)
	assert.Equal(t, e.Rotation, tr.Rotation)
	assert.Equal(t, e.Scale, tr.Scale)
}
