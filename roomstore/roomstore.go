// Package roomstore durably persists the per-room entity snapshot
// server-side, so a restarted orchestrator resumes a room from its
// last known state instead of an empty world.
package roomstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"netherlink/logging"
	"netherlink/mathutil"
	"netherlink/transform"
)

// PersistedEntity is the durable, JSON-serializable counterpart of
// replication.EntityRecord: enough to reseed a room's registry, without
// carrying the orchestrator's in-memory bookkeeping (input buffers,
// delta-codec base state).
type PersistedEntity struct {
	ID                string              `json:"id"`
	OwnerID           *string             `json:"owner_id,omitempty"`
	Position          mathutil.Vec3       `json:"position"`
	Rotation          mathutil.Quaternion `json:"rotation"`
	Scale             mathutil.Vec3       `json:"scale"`
	LatestTimestampMs float64             `json:"latest_timestamp_ms"`
	IsLocalOwned      bool                `json:"is_local_owned"`
}

// Transform converts the persisted fields back into a transform.Transform.
func (e PersistedEntity) Transform() transform.Transform {
	return transform.Transform{Position: e.Position, Rotation: e.Rotation, Scale: e.Scale}
}

// PersistedRoomState is the server-side counterpart of the client-local
// `puppeteer_room_state_<roomId>` record: {entities, lastUpdate},
// stored here as a jsonb column instead of a client key-value store.
// The two formats carry the same shape.
type PersistedRoomState struct {
	Entities     map[string]PersistedEntity `json:"entities"`
	LastUpdateMs float64                    `json:"lastUpdate"`
}

// DB wraps a *sql.DB so roomstore methods hang off one receiver.
type DB struct {
	*sql.DB
}

// Config names the connection parameters; loaded from
// config.ReplicationConfig.Database by the process entry point.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Connect opens the pool, pings it, and logs the connect event.
func Connect(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("roomstore: open connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("roomstore: ping: %w", err)
	}

	logging.Info("room store connection established", map[string]interface{}{
		"host": cfg.Host,
		"port": cfg.Port,
		"name": cfg.Name,
	})

	return &DB{db}, nil
}

// InitializeSchema creates the room_state table if it does not exist.
func (db *DB) InitializeSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS room_state (
			room_id    TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("roomstore: create schema: %w", err)
	}
	return nil
}

// SaveRoomState upserts a room's full entity snapshot.
func (db *DB) SaveRoomState(ctx context.Context, roomID string, state PersistedRoomState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("roomstore: marshal state: %w", err)
	}

	const upsert = `
		INSERT INTO room_state (room_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room_id) DO UPDATE SET payload = $2, updated_at = now()
	`
	if _, err := db.ExecContext(ctx, upsert, roomID, payload); err != nil {
		logging.Error("failed to save room state", map[string]interface{}{
			"room_id": roomID,
			"error":   err.Error(),
		})
		return fmt.Errorf("roomstore: save: %w", err)
	}
	return nil
}

// LoadRoomState reloads a room's last durable snapshot, used to seed
// C13's registry on room (re)start. found is false when no row exists
// yet — a brand-new room, not an error.
func (db *DB) LoadRoomState(ctx context.Context, roomID string) (PersistedRoomState, bool, error) {
	var payload []byte
	const query = `SELECT payload FROM room_state WHERE room_id = $1`
	err := db.QueryRowContext(ctx, query, roomID).Scan(&payload)
	if err == sql.ErrNoRows {
		return PersistedRoomState{}, false, nil
	}
	if err != nil {
		return PersistedRoomState{}, false, fmt.Errorf("roomstore: load: %w", err)
	}

	var state PersistedRoomState
	if err := json.Unmarshal(payload, &state); err != nil {
		return PersistedRoomState{}, false, fmt.Errorf("roomstore: unmarshal state: %w", err)
	}
	return state, true, nil
}

// DeleteRoomState removes a room's persisted snapshot (explicit room
// teardown, not staleness).
func (db *DB) DeleteRoomState(ctx context.Context, roomID string) error {
	const del = `DELETE FROM room_state WHERE room_id = $1`
	if _, err := db.ExecContext(ctx, del, roomID); err != nil {
		return fmt.Errorf("roomstore: delete: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
