// Package rtctransport implements the WebRTC data-channel transport: a
// peer-to-peer alternative to transport/wstransport's WebSocket binding,
// carrying the same wire.Packet protocol over a pion DataChannel instead
// of a WebSocket frame. Offer/answer/ICE-candidate signalling
// establishes the channel; from there its one responsibility is feeding
// a room's existing replication.Orchestrator from a second kind of
// connection.
package rtctransport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"netherlink/clock"
	"netherlink/delta"
	"netherlink/inputbuffer"
	"netherlink/logging"
	"netherlink/reliable"
	"netherlink/replication"
	"netherlink/transform"
	"netherlink/wire"
)

// Config names the ICE servers offered to peers; STUN-only, matching
// pion/webrtc's default public STUN configuration.
type Config struct {
	ICEServers []string
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	servers := c.ICEServers
	if len(servers) == 0 {
		servers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

// SignalingMessage is the offer/answer/ICE-candidate envelope exchanged
// over whatever out-of-band channel (typically the room's existing
// WebSocket CUSTOM packet, or a dedicated HTTP endpoint) carries
// negotiation traffic between the two peers.
type SignalingMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"ice_candidate,omitempty"`
}

// Peer is one WebRTC-connected participant in a room: a peer connection,
// its data channel, and the room state it feeds.
type Peer struct {
	RoomID  string
	OwnerID string

	orchestrator *replication.Orchestrator
	deltaMax     float64
	clock        clock.Clock

	conn *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	mu sync.Mutex
}

// Manager creates and tracks one Peer per (room, owner) pair, mirroring
// a per-owner peer map keyed directly by
// owner instead of by a database-issued participant ID.
type Manager struct {
	cfg Config
	api *webrtc.API

	mu    sync.RWMutex
	peers map[string]*Peer // ownerID -> Peer
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		api:   webrtc.NewAPI(),
		peers: make(map[string]*Peer),
	}
}

// Offer begins a new peer connection for ownerID in roomID: it sets the
// remote description from offer, waits for the client's data channel
// (the client is the offering side, per common browser WebRTC usage), and
// returns the local answer to send back over the signalling channel.
// deltaMax must match the room's replication.Config.DeltaMaxValue so this
// peer's outbound/inbound delta codec agrees with the WebSocket side.
func (m *Manager) Offer(roomID, ownerID string, orchestrator *replication.Orchestrator, c clock.Clock, deltaMax float64, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if c == nil {
		c = clock.System{}
	}
	conn, err := m.api.NewPeerConnection(m.cfg.webrtcConfiguration())
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtctransport: new peer connection: %w", err)
	}

	p := &Peer{
		RoomID:       roomID,
		OwnerID:      ownerID,
		orchestrator: orchestrator,
		deltaMax:     deltaMax,
		clock:        c,
		conn:         conn,
	}

	conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		p.dc = dc
		p.mu.Unlock()

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if err := p.handleMessage(msg.Data); err != nil {
				logging.Warn("rtc data channel message rejected", map[string]interface{}{
					"room_id": roomID, "owner_id": ownerID, "error": err.Error(),
				})
			}
		})
	})

	conn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logging.Debug("rtc ice state changed", map[string]interface{}{
			"room_id": roomID, "owner_id": ownerID, "state": state.String(),
		})
	})

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			m.Remove(ownerID)
			orchestrator.Disconnect(ownerID)
		}
	})

	if err := conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtctransport: set remote description: %w", err)
	}

	answer, err := conn.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtctransport: create answer: %w", err)
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("rtctransport: set local description: %w", err)
	}

	m.mu.Lock()
	m.peers[ownerID] = p
	m.mu.Unlock()

	return answer, nil
}

// AddICECandidate forwards a trickled ICE candidate to ownerID's peer.
func (m *Manager) AddICECandidate(ownerID string, candidate webrtc.ICECandidateInit) error {
	m.mu.RLock()
	p, ok := m.peers[ownerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("rtctransport: no peer for owner %q", ownerID)
	}
	return p.conn.AddICECandidate(candidate)
}

// Remove closes and forgets ownerID's peer connection.
func (m *Manager) Remove(ownerID string) {
	m.mu.Lock()
	p, ok := m.peers[ownerID]
	delete(m.peers, ownerID)
	m.mu.Unlock()
	if ok && p.conn != nil {
		p.conn.Close()
	}
}

// Peer returns ownerID's connected peer, if any, so callers can push
// outbound updates to it alongside the WebSocket transport.
func (m *Manager) Peer(ownerID string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[ownerID]
	return p, ok
}

// handleMessage decodes an inbound wire packet received over the data
// channel and applies it to the room's orchestrator. Scoped to the
// packet types a peer-to-peer link carries: entity lifecycle, input,
// and the reliable-channel overlay (the data channel is unreliable, so
// the overlay is load-bearing here); CONNECT auth and time sync ride
// the signalling channel instead.
func (p *Peer) handleMessage(data []byte) error {
	pkt, err := wire.DecodeJSON(data)
	if err != nil {
		return fmt.Errorf("decode packet: %w", err)
	}

	switch pkt.Type {
	case wire.EntityCreate:
		return p.handleEntityCreate(pkt)
	case wire.EntityUpdate:
		return p.handleEntityUpdate(pkt)
	case wire.EntityDestroy:
		return p.handleEntityDestroy(pkt)
	case wire.Input:
		return p.handleInput(pkt)
	case wire.Custom:
		return p.handleReliableEnvelope(pkt)
	default:
		return fmt.Errorf("unsupported packet type %d over data channel", int(pkt.Type))
	}
}

// handleReliableEnvelope routes acks into the outbound retransmit set
// and reliable payloads through the ordering/dedup logic, feeding every
// now-deliverable inner packet back into handleMessage.
func (p *Peer) handleReliableEnvelope(pkt wire.Packet) error {
	env, err := wire.DecodeReliableEnvelope(pkt.Data)
	if err != nil {
		return err
	}
	switch env.Type {
	case "ack":
		if env.Sequence != nil {
			p.orchestrator.HandleAck(*env.Sequence)
		}
		return nil
	case "reliable":
		if env.Sequence == nil {
			return fmt.Errorf("reliable envelope missing sequence")
		}
		deliverable := p.orchestrator.ReceiveReliable(reliable.Message{Sequence: *env.Sequence, Payload: env.Data})
		for _, msg := range deliverable {
			if err := p.handleMessage(msg.Payload); err != nil {
				return err
			}
		}
		// Ack delivery is best-effort: a lost ack just means the peer
		// retransmits and the duplicate is dropped.
		if err := p.sendAck(*env.Sequence); err != nil {
			logging.Debug("rtc ack not sent", map[string]interface{}{
				"owner_id": p.OwnerID, "error": err.Error(),
			})
		}
		return nil
	case "unreliable":
		if len(env.Data) > 0 {
			return p.handleMessage(env.Data)
		}
		return nil
	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

func (p *Peer) sendAck(sequence uint64) error {
	now := p.clock.NowMs()
	ackEnv, err := wire.EncodeAck(sequence, now)
	if err != nil {
		return err
	}
	framed, err := wire.EncodeJSON(wire.Custom, json.RawMessage(ackEnv), now)
	if err != nil {
		return err
	}
	return p.writeChannel(framed)
}

func (p *Peer) writeChannel(framed []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("rtctransport: data channel not open for owner %q", p.OwnerID)
	}
	return dc.Send(framed)
}

func (p *Peer) handleEntityCreate(pkt wire.Packet) error {
	var payload struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(pkt.Data, &payload); err != nil {
		return err
	}
	owner := p.OwnerID
	p.orchestrator.RegisterRemoteEntity(payload.EntityID, &owner, transform.Identity)
	return nil
}

func (p *Peer) handleEntityUpdate(pkt wire.Packet) error {
	var payload wire.EntityUpdatePayload
	if err := json.Unmarshal(pkt.Data, &payload); err != nil {
		return err
	}

	var t transform.Transform
	var err error
	if payload.Full {
		t, err = delta.DecodeFull(payload.Payload)
	} else {
		rec, found := p.orchestrator.Entity(payload.EntityID)
		if !found {
			return fmt.Errorf("unknown entity %q", payload.EntityID)
		}
		var d delta.TransformDelta
		d, err = delta.DecodeBinary(payload.Payload, p.deltaMax)
		if err == nil {
			t = delta.Apply(rec.Latest, d)
		}
	}
	if err != nil {
		return err
	}
	return p.orchestrator.HandleRemoteSnapshot(payload.EntityID, t, p.clock.NowMs())
}

func (p *Peer) handleEntityDestroy(pkt wire.Packet) error {
	var payload struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(pkt.Data, &payload); err != nil {
		return err
	}
	p.orchestrator.RemoveEntity(payload.EntityID)
	return nil
}

func (p *Peer) handleInput(pkt wire.Packet) error {
	var payload struct {
		EntityID string                 `json:"entity_id"`
		Input    inputbuffer.InputState `json:"input"`
	}
	if err := json.Unmarshal(pkt.Data, &payload); err != nil {
		return err
	}
	_, err := p.orchestrator.RecordLocalInput(payload.EntityID, payload.Input, p.clock.NowMs())
	return err
}

// Send encodes entityID's current outbound delta/full state through the
// room's reliable channel and writes it to the peer's data channel,
// wrapped in the same reliable envelope the WebSocket side uses.
func (p *Peer) Send(entityID string) error {
	msg, err := p.orchestrator.EncodeOutboundUpdate(entityID)
	if err != nil {
		return err
	}
	now := p.clock.NowMs()
	envelope, err := wire.EncodeReliable(msg.Sequence, msg.Payload, now)
	if err != nil {
		return err
	}
	framed, err := wire.EncodeJSON(wire.Custom, json.RawMessage(envelope), now)
	if err != nil {
		return err
	}
	return p.writeChannel(framed)
}

// Close tears down the peer connection.
func (p *Peer) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
