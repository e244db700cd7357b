// This file implements the HTTP/WS room router: one
// gorilla/mux router exposing room join, room state, and the WebSocket
// upgrade endpoint, fronting a Manager that owns every live room's Hub.
package wstransport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"netherlink/auth"
	"netherlink/clock"
	"netherlink/config"
	"netherlink/logging"
	"netherlink/replication"
	"netherlink/roomstore"
)

// Manager owns every room's Hub, creating one lazily on first join or
// WebSocket connect and running its event loop on its own goroutine.
type Manager struct {
	cfg       replication.Config
	wsCfg     config.WebSocketConfig
	validator *auth.Validator
	clockFn   func() clock.Clock
	store     *roomstore.DB

	mu    sync.Mutex
	rooms map[string]*Hub
}

// NewManager builds a Manager. clockFn is called once per room to build
// that room's orchestrator clock; pass a func returning clock.System{}
// in production and a func returning a shared clock.Manual in tests.
func NewManager(cfg replication.Config, wsCfg config.WebSocketConfig, validator *auth.Validator, clockFn func() clock.Clock) *Manager {
	if clockFn == nil {
		clockFn = func() clock.Clock { return clock.System{} }
	}
	return &Manager{
		cfg:       cfg,
		wsCfg:     wsCfg,
		validator: validator,
		clockFn:   clockFn,
		rooms:     make(map[string]*Hub),
	}
}

// SetStore attaches an optional durable room store. When present, a
// room's registry is seeded from its last persisted snapshot on first
// reference, and CloseRoom writes the final snapshot back.
func (m *Manager) SetStore(store *roomstore.DB) {
	m.store = store
}

// RoomHub returns roomID's hub, creating and starting it if this is the
// first reference to the room.
func (m *Manager) RoomHub(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.rooms[roomID]; ok {
		return h
	}
	h := NewHub(roomID, m.cfg, m.clockFn(), m.validator)
	m.seedFromStore(h)
	m.rooms[roomID] = h
	go h.Run()
	logging.Info("room created", map[string]interface{}{"room_id": roomID})
	return h
}

// seedFromStore reloads roomID's last durable snapshot into the new
// hub's registry, so a restarted room resumes from its persisted world
// instead of an empty one. Runs before the hub's event loop starts, so
// registering directly is safe here.
func (m *Manager) seedFromStore(h *Hub) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, found, err := m.store.LoadRoomState(ctx, h.RoomID)
	if err != nil {
		logging.Warn("failed to load persisted room state", map[string]interface{}{
			"room_id": h.RoomID, "error": err.Error(),
		})
		return
	}
	if !found {
		return
	}
	for id, e := range state.Entities {
		h.Orchestrator().RegisterRemoteEntity(id, e.OwnerID, e.Transform())
	}
	logging.Info("room state restored", map[string]interface{}{
		"room_id": h.RoomID, "entities": len(state.Entities),
	})
}

// CloseRoom stops roomID's hub and forgets it, used by explicit room
// teardown rather than staleness (stale entities age out on their own
// via EvictStale). When a store is attached, the room's final entity
// snapshot is persisted first.
func (m *Manager) CloseRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.SaveRoomState(ctx, roomID, persistedState(h)); err != nil {
			logging.Warn("failed to persist room state on close", map[string]interface{}{
				"room_id": roomID, "error": err.Error(),
			})
		}
		cancel()
	}
	h.Stop()
	delete(m.rooms, roomID)
}

// persistedState converts a hub's live registry into the durable
// {entities, lastUpdate} record shared with the client-local store
// format.
func persistedState(h *Hub) roomstore.PersistedRoomState {
	records := h.Orchestrator().Entities()
	state := roomstore.PersistedRoomState{Entities: make(map[string]roomstore.PersistedEntity, len(records))}
	for _, rec := range records {
		state.Entities[rec.ID] = roomstore.PersistedEntity{
			ID:                rec.ID,
			OwnerID:           rec.OwnerID,
			Position:          rec.Latest.Position,
			Rotation:          rec.Latest.Rotation,
			Scale:             rec.Latest.Scale,
			LatestTimestampMs: rec.LatestTimestampMs,
			IsLocalOwned:      rec.IsLocalOwned,
		}
		if rec.LatestTimestampMs > state.LastUpdateMs {
			state.LastUpdateMs = rec.LatestTimestampMs
		}
	}
	return state
}

// Routes mounts the room router under r: POST /rooms/{roomId}/join,
// GET /rooms/{roomId}/state, GET /rooms/{roomId}/ws, and an
// unauthenticated GET /healthz.
func (m *Manager) Routes(r *mux.Router) {
	rooms := r.PathPrefix("/rooms").Subrouter()
	rooms.HandleFunc("/{roomId}/join", m.handleJoin).Methods("POST")
	rooms.HandleFunc("/{roomId}/state", m.handleState).Methods("GET")
	rooms.HandleFunc("/{roomId}/ws", m.handleWebSocket).Methods("GET")

	r.HandleFunc("/healthz", m.handleHealth).Methods("GET")
}

type joinResponse struct {
	RoomID      string `json:"room_id"`
	ClientCount int    `json:"client_count"`
}

func (m *Manager) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	h := m.RoomHub(roomID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(joinResponse{RoomID: roomID, ClientCount: h.ClientCount()})
}

type stateResponse struct {
	RoomID      string                       `json:"room_id"`
	ClientCount int                          `json:"client_count"`
	State       roomstore.PersistedRoomState `json:"state"`
}

// handleState returns the same {entities, lastUpdate} shape the room
// store durably persists, so operators can diff live vs. persisted
// state.
func (m *Manager) handleState(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	h := m.RoomHub(roomID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stateResponse{RoomID: roomID, ClientCount: h.ClientCount(), State: persistedState(h)})
}

func (m *Manager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	h := m.RoomHub(roomID)
	ServeWS(h, m.wsCfg, w, r)
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
