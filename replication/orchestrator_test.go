package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/clock"
	"netherlink/delta"
	"netherlink/inputbuffer"
	"netherlink/mathutil"
	"netherlink/reliable"
	"netherlink/transform"
	"netherlink/wire"
)

func testConfig() Config {
	return Config{
		PredictSpeed: 5.0,
		EntityTTLMs:  60_000,
	}
}

func TestRegisterLocalEntityIsActive(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	rec := o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	assert.Equal(t, Active, rec.State)
	assert.True(t, rec.IsLocalOwned)

	got, ok := o.Entity("player")
	require.True(t, ok)
	assert.Equal(t, "player", got.ID)
}

func TestFirstInboundPacketCreatesEntity(t *testing.T) {
	mc := clock.NewManual(1000)
	o := New(testConfig(), mc)

	tr := transform.Identity
	tr.Position = mathutil.Vec3{X: 3}
	require.NoError(t, o.HandleRemoteSnapshot("ghost", tr, 1000))

	rec, ok := o.Entity("ghost")
	require.True(t, ok)
	assert.Equal(t, Active, rec.State)
	assert.False(t, rec.IsLocalOwned)
	assert.InDelta(t, 3.0, rec.Latest.Position.X, 1e-9)
}

func TestRemoteSnapshotRejectedForLocalEntity(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	err := o.HandleRemoteSnapshot("player", transform.Identity, 0)
	assert.ErrorIs(t, err, ErrNotLocalOwned)
}

func TestIntegrateLocalAdvancesPrediction(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	_, err := o.RecordLocalInput("player", inputbuffer.InputState{Forward: true}, 0)
	require.NoError(t, err)

	tr, err := o.IntegrateLocal("player", 0.1, 100)
	require.NoError(t, err)
	// forward at 5 units/s for 0.1s moves -0.5 along local -Z
	assert.InDelta(t, -0.5, tr.Position.Z, 1e-9)
}

func TestInputOnRemoteEntityRejected(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	o.RegisterRemoteEntity("ghost", nil, transform.Identity)

	_, err := o.RecordLocalInput("ghost", inputbuffer.InputState{}, 0)
	assert.ErrorIs(t, err, ErrNotLocalOwned)
}

func TestApplyAuthoritativeReplaysUnackedInputs(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	// Three forward inputs, 16ms apart; client has predicted through all
	// of them but the server has only processed seq=1.
	for i := 0.0; i < 3; i++ {
		_, err := o.RecordLocalInput("player", inputbuffer.InputState{Forward: true}, i*16)
		require.NoError(t, err)
		_, err = o.IntegrateLocal("player", 0.016, i*16)
		require.NoError(t, err)
	}

	server := transform.Identity
	server.Position = mathutil.Vec3{Z: -0.08}

	_, err := o.ApplyAuthoritative("player", server, 1, 48)
	require.NoError(t, err)

	rec, ok := o.Entity("player")
	require.True(t, ok)
	// seq 2 and 3 replayed on the server base: -0.08 - 5*0.032 = -0.24
	assert.InDelta(t, -0.24, rec.Latest.Position.Z, 1e-6)
}

func TestEvictStaleSkipsLocalOwned(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)
	o.RegisterRemoteEntity("ghost", nil, transform.Identity)

	staled := o.EvictStale(120_000)
	assert.Equal(t, []string{"ghost"}, staled)

	rec, _ := o.Entity("ghost")
	assert.Equal(t, Stale, rec.State)
	local, _ := o.Entity("player")
	assert.Equal(t, Active, local.State)
}

func TestStaleEntityReactivatesOnInbound(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)
	o.RegisterRemoteEntity("ghost", nil, transform.Identity)
	o.EvictStale(120_000)

	require.NoError(t, o.HandleRemoteSnapshot("ghost", transform.Identity, 120_001))
	rec, _ := o.Entity("ghost")
	assert.Equal(t, Active, rec.State)
}

func TestRemoveEntityEmitsEvent(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	o.RegisterRemoteEntity("ghost", nil, transform.Identity)

	var removed []string
	o.On(EntityRemoved, func(e Event) {
		removed = append(removed, e.EntityID)
	})

	o.RemoveEntity("ghost")
	assert.Equal(t, []string{"ghost"}, removed)

	_, ok := o.Entity("ghost")
	assert.False(t, ok)
}

func TestFirstOutboundUpdateIsFullTransform(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	msg, err := o.EncodeOutboundUpdate("player")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Sequence)

	// With no acknowledged base yet, the inner packet carries the
	// 40-byte full transform encoding, not a masked delta.
	pkt, err := wire.DecodeJSON(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, wire.EntityUpdate, pkt.Type)

	var payload wire.EntityUpdatePayload
	require.NoError(t, json.Unmarshal(pkt.Data, &payload))
	assert.Equal(t, "player", payload.EntityID)
	assert.True(t, payload.Full)

	decoded, err := delta.DecodeFull(payload.Payload)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, decoded.Rotation.W, 1e-6)
}

func TestAckAdvancesDeltaBase(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)
	o.RegisterLocalEntity("player", "owner-1", transform.Identity)

	first, err := o.EncodeOutboundUpdate("player")
	require.NoError(t, err)
	o.HandleAck(first.Sequence)

	// Move the entity, then encode again: now a delta against the acked
	// base.
	_, err = o.RecordLocalInput("player", inputbuffer.InputState{Forward: true}, 10)
	require.NoError(t, err)
	_, err = o.IntegrateLocal("player", 0.1, 10)
	require.NoError(t, err)

	second, err := o.EncodeOutboundUpdate("player")
	require.NoError(t, err)

	pkt, err := wire.DecodeJSON(second.Payload)
	require.NoError(t, err)
	var payload wire.EntityUpdatePayload
	require.NoError(t, json.Unmarshal(pkt.Data, &payload))
	assert.False(t, payload.Full)

	d, err := delta.DecodeBinary(payload.Payload, delta.DefaultMaxValue)
	require.NoError(t, err)
	assert.True(t, d.HasPosition)
	assert.InDelta(t, -0.5, d.Position.Z, 0.01)
}

func TestReceiveReliableOrdersInbound(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))

	assert.Empty(t, o.ReceiveReliable(reliable.Message{Sequence: 2, Payload: []byte("b")}))
	delivered := o.ReceiveReliable(reliable.Message{Sequence: 1, Payload: []byte("a")})
	require.Len(t, delivered, 2)
	assert.Equal(t, uint64(1), delivered[0].Sequence)
	assert.Equal(t, uint64(2), delivered[1].Sequence)
}

func TestChangeOwnerEmitsOwnershipChanged(t *testing.T) {
	o := New(testConfig(), clock.NewManual(0))
	o.RegisterRemoteEntity("ghost", nil, transform.Identity)

	var events []Event
	o.On(OwnershipChanged, func(e Event) { events = append(events, e) })

	require.NoError(t, o.ChangeOwner("ghost", "owner-2"))
	require.Len(t, events, 1)
	assert.Equal(t, "ghost", events[0].EntityID)
	assert.Equal(t, "owner-2", events[0].Data)

	assert.ErrorIs(t, o.ChangeOwner("missing", "x"), ErrUnknownEntity)
}

func TestRenderedTransformUsesInterpolationForRemote(t *testing.T) {
	mc := clock.NewManual(0)
	o := New(testConfig(), mc)

	a := transform.Identity
	b := transform.Identity
	b.Position = mathutil.Vec3{X: 10}
	require.NoError(t, o.HandleRemoteSnapshot("ghost", a, 1000))
	require.NoError(t, o.HandleRemoteSnapshot("ghost", b, 2000))

	// Default interpolation delay is 100ms: rendering at now=1600 samples
	// t=1500, halfway between the two snapshots.
	mc.Set(1600)
	tr, err := o.RenderedTransform("ghost")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, tr.Position.X, 1e-6)
}
