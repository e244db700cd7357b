package wstransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netherlink/clock"
	"netherlink/config"
	"netherlink/delta"
	"netherlink/mathutil"
	"netherlink/replication"
	"netherlink/transform"
	"netherlink/wire"
)

func testReplicationConfig() replication.Config {
	return replication.Config{PredictSpeed: 5, EntityTTLMs: 60_000}
}

func newTestClient() *Client {
	return &Client{id: "conn-1", send: make(chan []byte, 16)}
}

func TestHubHandlesEntityCreate(t *testing.T) {
	h := NewHub("room-1", testReplicationConfig(), clock.NewManual(0), nil)
	c := newTestClient()

	payload := entityCreatePayload{
		EntityID: "e1",
		Position: mathutil.Vec3{X: 1, Y: 2, Z: 3},
	}
	framed, err := wire.EncodeJSON(wire.EntityCreate, payload, 0)
	require.NoError(t, err)

	h.handlePacket(c, framed)

	rec, ok := h.Orchestrator().Entity("e1")
	require.True(t, ok)
	assert.InDelta(t, 1.0, rec.Latest.Position.X, 1e-9)
	// Omitted rotation and scale fall back to identity defaults.
	assert.InDelta(t, 1.0, rec.Latest.Rotation.W, 1e-9)
	assert.InDelta(t, 1.0, rec.Latest.Scale.X, 1e-9)
}

func TestHubHandlesFullEntityUpdate(t *testing.T) {
	mc := clock.NewManual(500)
	h := NewHub("room-1", testReplicationConfig(), mc, nil)
	c := newTestClient()

	tr := transform.Identity
	tr.Position = mathutil.Vec3{X: 7}
	payload := wire.EntityUpdatePayload{EntityID: "e1", Full: true, Payload: delta.EncodeFull(tr)}
	framed, err := wire.EncodeJSON(wire.EntityUpdate, payload, 500)
	require.NoError(t, err)

	h.handlePacket(c, framed)

	rec, ok := h.Orchestrator().Entity("e1")
	require.True(t, ok)
	assert.InDelta(t, 7.0, rec.Latest.Position.X, 1e-5)
}

func TestHubDropsMalformedPacket(t *testing.T) {
	h := NewHub("room-1", testReplicationConfig(), clock.NewManual(0), nil)
	c := newTestClient()

	h.handlePacket(c, []byte("{not json"))
	assert.Empty(t, h.Orchestrator().Entities())
}

func TestHubPingRepliesWithPong(t *testing.T) {
	mc := clock.NewManual(250)
	h := NewHub("room-1", testReplicationConfig(), mc, nil)
	c := newTestClient()

	framed, err := wire.EncodeJSON(wire.Ping, pingPayload{PingID: 9}, 200)
	require.NoError(t, err)
	h.handlePacket(c, framed)

	select {
	case out := <-c.send:
		p, err := wire.DecodeJSON(out)
		require.NoError(t, err)
		assert.Equal(t, wire.Pong, p.Type)

		var pong struct {
			PingID     uint64  `json:"ping_id"`
			ClientTsMs float64 `json:"client_ts_ms"`
			ServerTsMs float64 `json:"server_ts_ms"`
		}
		require.NoError(t, json.Unmarshal(p.Data, &pong))
		assert.Equal(t, uint64(9), pong.PingID)
		assert.InDelta(t, 200.0, pong.ClientTsMs, 1e-9)
		assert.InDelta(t, 250.0, pong.ServerTsMs, 1e-9)
	default:
		t.Fatal("expected a pong frame on the client's send channel")
	}
}

func TestHubReliableEnvelopeAcksAndDelivers(t *testing.T) {
	h := NewHub("room-1", testReplicationConfig(), clock.NewManual(0), nil)
	c := newTestClient()

	inner, err := wire.EncodeJSON(wire.EntityCreate, entityCreatePayload{EntityID: "e1"}, 0)
	require.NoError(t, err)
	envelope, err := wire.EncodeReliable(1, inner, 0)
	require.NoError(t, err)
	framed, err := wire.EncodeJSON(wire.Custom, json.RawMessage(envelope), 0)
	require.NoError(t, err)

	h.handlePacket(c, framed)

	_, ok := h.Orchestrator().Entity("e1")
	assert.True(t, ok)

	select {
	case out := <-c.send:
		p, err := wire.DecodeJSON(out)
		require.NoError(t, err)
		assert.Equal(t, wire.Custom, p.Type)

		env, err := wire.DecodeReliableEnvelope(p.Data)
		require.NoError(t, err)
		assert.Equal(t, "ack", env.Type)
	default:
		t.Fatal("expected an ack frame on the client's send channel")
	}
}

func testWebSocketConfig() config.WebSocketConfig {
	return config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024}
}

func TestRouterJoinStateAndHealth(t *testing.T) {
	m := NewManager(testReplicationConfig(), testWebSocketConfig(), nil, func() clock.Clock { return clock.NewManual(0) })
	r := mux.NewRouter()
	m.Routes(r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rooms/alpha/join", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var join joinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&join))
	assert.Equal(t, "alpha", join.RoomID)

	stateResp, err := http.Get(srv.URL + "/rooms/alpha/state")
	require.NoError(t, err)
	defer stateResp.Body.Close()

	var state stateResponse
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&state))
	assert.Equal(t, "alpha", state.RoomID)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	m.CloseRoom("alpha")
}
