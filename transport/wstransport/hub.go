// Package wstransport implements the packet transport adapter and the
// HTTP/WS room router over gorilla/websocket and gorilla/mux. A Hub
// owns one room: one replication.Orchestrator,
// one registry of connected Clients, and the register/unregister/
// inbound channel trio whose Run goroutine is the room's
// single-threaded event loop — every mutation to room state happens on
// that one goroutine's channel receives.
package wstransport

import (
	"encoding/json"
	"sync"
	"time"

	"netherlink/auth"
	"netherlink/clock"
	"netherlink/delta"
	"netherlink/inputbuffer"
	"netherlink/logging"
	"netherlink/mathutil"
	"netherlink/reliable"
	"netherlink/replication"
	"netherlink/transform"
	"netherlink/wire"
)

// replicationTickInterval is the cadence of snapshot eviction and
// stale-entity sweeps.
const replicationTickInterval = 50 * time.Millisecond

// timeSyncTickInterval is how often the hub offers a ping to connected
// clients for latency estimation.
const timeSyncTickInterval = 1000 * time.Millisecond

// reliableTickInterval drives retransmits of unacknowledged reliable
// sends.
const reliableTickInterval = 1000 * time.Millisecond

// Hub coordinates one room's WebSocket clients and its replication
// orchestrator. All fields below the channel trio are only ever touched
// from run(); Clients reach the hub exclusively through register,
// unregister, and inbound, never by calling Hub methods directly from
// their own goroutines.
type Hub struct {
	RoomID string

	orchestrator *replication.Orchestrator
	cfg          replication.Config
	clock        clock.Clock
	validator    *auth.Validator

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	stop       chan struct{}

	mu      sync.RWMutex
	clients map[string]*Client // connection id -> Client

	pingSeq uint64
}

type inboundMessage struct {
	client *Client
	data   []byte
}

// NewHub builds a room's hub. validator may be nil, in which case
// CONNECT packets are accepted without a bearer token (useful for
// trusted internal tooling); replication.New's Config is the caller's
// to assemble from config.ReplicationConfig.
func NewHub(roomID string, cfg replication.Config, c clock.Clock, validator *auth.Validator) *Hub {
	if c == nil {
		c = clock.System{}
	}
	h := &Hub{
		RoomID:       roomID,
		orchestrator: replication.New(cfg, c),
		cfg:          cfg,
		clock:        c,
		validator:    validator,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundMessage, 256),
		stop:         make(chan struct{}),
		clients:      make(map[string]*Client),
	}
	return h
}

// Orchestrator exposes the room's orchestrator for the router's debug
// state endpoint and for tests.
func (h *Hub) Orchestrator() *replication.Orchestrator { return h.orchestrator }

// ClientCount reports how many WebSocket connections are currently
// registered with the room, for the router's state endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run is the hub's single-threaded event loop: every branch below is
// the only code in the process allowed to mutate the orchestrator for
// this room, so no handler is ever re-entered.
func (h *Hub) Run() {
	replicationTicker := time.NewTicker(replicationTickInterval)
	timeSyncTicker := time.NewTicker(timeSyncTickInterval)
	reliableTicker := time.NewTicker(reliableTickInterval)
	defer replicationTicker.Stop()
	defer timeSyncTicker.Stop()
	defer reliableTicker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			logging.Info("client connected", map[string]interface{}{
				"room_id": h.RoomID, "conn_id": c.id,
			})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			if c.ownerID != "" {
				h.orchestrator.Disconnect(c.ownerID)
			}
			logging.Info("client disconnected", map[string]interface{}{
				"room_id": h.RoomID, "conn_id": c.id, "owner_id": c.ownerID,
			})

		case m := <-h.inbound:
			h.handlePacket(m.client, m.data)

		case <-replicationTicker.C:
			h.orchestrator.Update(h.clock.NowMs())

		case <-timeSyncTicker.C:
			h.broadcastPing()

		case <-reliableTicker.C:
			h.retransmitDue()

		case <-h.stop:
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends the hub's event loop, closing every client's send channel.
func (h *Hub) Stop() { close(h.stop) }

// broadcast fans payload out to every connected client's send channel,
// dropping it for a client whose channel is full rather than blocking
// the single-threaded loop.
func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			logging.Warn("client send buffer full, dropping broadcast", map[string]interface{}{
				"room_id": h.RoomID, "owner_id": c.ownerID,
			})
		}
	}
}

func (h *Hub) handlePacket(c *Client, data []byte) {
	p, err := wire.DecodeJSON(data)
	if err != nil {
		logging.Warn("malformed packet", map[string]interface{}{
			"room_id": h.RoomID, "owner_id": c.ownerID, "error": err.Error(),
		})
		return
	}

	switch p.Type {
	case wire.Connect:
		h.handleConnect(c, p)
	case wire.Ping:
		h.handlePing(c, p)
	case wire.Pong:
		h.handlePong(c, p)
	case wire.EntityCreate:
		h.handleEntityCreate(c, p)
	case wire.EntityUpdate:
		h.handleEntityUpdate(c, p)
	case wire.EntityDestroy:
		h.handleEntityDestroy(c, p)
	case wire.Input:
		h.handleInput(c, p)
	case wire.Custom:
		h.handleReliableEnvelope(c, p)
	default:
		logging.Warn("unrecognized packet type", map[string]interface{}{
			"room_id": h.RoomID, "owner_id": c.ownerID, "type": int(p.Type),
		})
	}
}

type connectPayload struct {
	Token string `json:"token"`
}

func (h *Hub) handleConnect(c *Client, p wire.Packet) {
	var payload connectPayload
	json.Unmarshal(p.Data, &payload)

	if h.validator != nil {
		claims, err := h.validator.ValidateConnect(payload.Token)
		if err != nil {
			logging.Warn("connect auth rejected", map[string]interface{}{
				"room_id": h.RoomID, "error": err.Error(),
			})
			return
		}
		c.ownerID = claims.Subject
	}
}

type entityCreatePayload struct {
	EntityID string              `json:"entity_id"`
	Local    bool                `json:"local"`
	Position mathutil.Vec3       `json:"position"`
	Rotation mathutil.Quaternion `json:"rotation"`
	Scale    mathutil.Vec3       `json:"scale"`
}

func (h *Hub) handleEntityCreate(c *Client, p wire.Packet) {
	var payload entityCreatePayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		logging.Warn("malformed entity_create packet", map[string]interface{}{"room_id": h.RoomID})
		return
	}
	t := transform.Transform{
		Position: payload.Position,
		Rotation: payload.Rotation,
		Scale:    payload.Scale,
	}
	if t.Scale == (mathutil.Vec3{}) {
		t.Scale = transform.Identity.Scale
	}
	if t.Rotation == (mathutil.Quaternion{}) {
		t.Rotation = mathutil.IdentityQuat
	}
	owner := c.ownerID
	h.orchestrator.RegisterRemoteEntity(payload.EntityID, &owner, t)
}

func (h *Hub) handleEntityUpdate(c *Client, p wire.Packet) {
	var payload wire.EntityUpdatePayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		logging.Warn("malformed entity_update packet", map[string]interface{}{"room_id": h.RoomID})
		return
	}

	var t transform.Transform
	var err error
	if payload.Full {
		t, err = delta.DecodeFull(payload.Payload)
	} else {
		rec, found := h.orchestrator.Entity(payload.EntityID)
		if !found {
			return
		}
		var d delta.TransformDelta
		d, err = delta.DecodeBinary(payload.Payload, h.cfg.DeltaMaxValue)
		if err == nil {
			t = delta.Apply(rec.Latest, d)
		}
	}
	if err != nil {
		logging.Warn("failed to decode entity_update payload", map[string]interface{}{
			"room_id": h.RoomID, "entity_id": payload.EntityID, "error": err.Error(),
		})
		return
	}

	if err := h.orchestrator.HandleRemoteSnapshot(payload.EntityID, t, h.clock.NowMs()); err != nil {
		logging.Warn("failed to apply remote snapshot", map[string]interface{}{
			"room_id": h.RoomID, "entity_id": payload.EntityID, "error": err.Error(),
		})
		return
	}
	h.relayEntityUpdate(c.id, payload.EntityID)
}

// relayEntityUpdate re-encodes entityID's current state and fans it out
// to every client except the sender, so the room stays consistent
// without routing every update back through its origin. The reliable
// message's payload is itself a complete ENTITY_UPDATE packet, so the
// receiving side feeds delivered payloads back through its own packet
// dispatch.
func (h *Hub) relayEntityUpdate(senderConnID, entityID string) {
	framed, err := h.frameReliable(h.orchestrator.EncodeOutboundUpdate(entityID))
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, c := range h.clients {
		if connID == senderConnID {
			continue
		}
		select {
		case c.send <- framed:
		default:
		}
	}
}

type entityDestroyPayload struct {
	EntityID string `json:"entity_id"`
}

func (h *Hub) handleEntityDestroy(c *Client, p wire.Packet) {
	var payload entityDestroyPayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		return
	}
	h.orchestrator.RemoveEntity(payload.EntityID)
}

type inputPayload struct {
	EntityID string                 `json:"entity_id"`
	Input    inputbuffer.InputState `json:"input"`
}

func (h *Hub) handleInput(c *Client, p wire.Packet) {
	var payload inputPayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		return
	}
	if _, err := h.orchestrator.RecordLocalInput(payload.EntityID, payload.Input, h.clock.NowMs()); err != nil {
		logging.Warn("failed to record input", map[string]interface{}{
			"room_id": h.RoomID, "entity_id": payload.EntityID, "error": err.Error(),
		})
	}
}

type pingPayload struct {
	PingID uint64 `json:"ping_id"`
}

func (h *Hub) handlePing(c *Client, p wire.Packet) {
	var payload pingPayload
	json.Unmarshal(p.Data, &payload)

	pong := struct {
		PingID     uint64  `json:"ping_id"`
		ClientTsMs float64 `json:"client_ts_ms"`
		ServerTsMs float64 `json:"server_ts_ms"`
	}{
		PingID:     payload.PingID,
		ClientTsMs: p.Timestamp,
		ServerTsMs: h.clock.NowMs(),
	}
	framed, err := wire.EncodeJSON(wire.Pong, pong, h.clock.NowMs())
	if err != nil {
		return
	}
	select {
	case c.send <- framed:
	default:
	}
}

func (h *Hub) handlePong(c *Client, p wire.Packet) {
	var payload struct {
		PingID     uint64  `json:"ping_id"`
		ClientTsMs float64 `json:"client_ts_ms"`
	}
	json.Unmarshal(p.Data, &payload)
	h.orchestrator.TimeSync().RecordPong(payload.PingID, payload.ClientTsMs, h.clock.NowMs())
}

func (h *Hub) broadcastPing() {
	h.pingSeq++
	now := h.clock.NowMs()
	h.orchestrator.TimeSync().RecordPing(h.pingSeq, now)

	ping := struct {
		PingID uint64 `json:"ping_id"`
	}{PingID: h.pingSeq}
	framed, err := wire.EncodeJSON(wire.Ping, ping, now)
	if err != nil {
		return
	}
	h.broadcast(framed)
}

// frameReliable wraps a sequenced reliable message in its JSON envelope
// and the CUSTOM packet frame the receiving side's dispatch expects.
func (h *Hub) frameReliable(msg reliable.Message, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	now := h.clock.NowMs()
	envelope, err := wire.EncodeReliable(msg.Sequence, msg.Payload, now)
	if err != nil {
		return nil, err
	}
	return wire.EncodeJSON(wire.Custom, json.RawMessage(envelope), now)
}

func (h *Hub) retransmitDue() {
	for _, msg := range h.orchestrator.PendingRetransmits() {
		framed, err := h.frameReliable(msg, nil)
		if err != nil {
			continue
		}
		h.broadcast(framed)
	}
}

func (h *Hub) handleReliableEnvelope(c *Client, p wire.Packet) {
	env, err := wire.DecodeReliableEnvelope(p.Data)
	if err != nil {
		logging.Warn("malformed reliable envelope", map[string]interface{}{"room_id": h.RoomID})
		return
	}
	switch env.Type {
	case "ack":
		if env.Sequence != nil {
			h.orchestrator.HandleAck(*env.Sequence)
		}
	case "reliable":
		if env.Sequence == nil {
			return
		}
		deliverable := h.orchestrator.ReceiveReliable(reliable.Message{Sequence: *env.Sequence, Payload: env.Data})
		for _, msg := range deliverable {
			h.handlePacket(c, msg.Payload)
		}
		ackEnv, err := wire.EncodeAck(*env.Sequence, h.clock.NowMs())
		if err != nil {
			return
		}
		ackFramed, err := wire.EncodeJSON(wire.Custom, json.RawMessage(ackEnv), h.clock.NowMs())
		if err != nil {
			return
		}
		select {
		case c.send <- ackFramed:
		default:
		}
	case "unreliable":
		// Delivered immediately, never held behind buffered out-of-order
		// reliables.
		if len(env.Data) > 0 {
			h.handlePacket(c, env.Data)
		}
	}
}
