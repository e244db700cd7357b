package wstransport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"netherlink/config"
	"netherlink/logging"
)

// Client is one WebSocket connection within a room's Hub. Its readPump
// and writePump run on their own goroutines and never touch orchestrator
// state directly; they hand raw frames to the hub's inbound channel and
// take framed payloads off send, keeping connection I/O separate from
// room-state mutation.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	ownerID  string
	lastSeen time.Time
}

func upgrader(cfg config.WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// readPump drains the connection into the hub's inbound channel until the
// socket closes or a read error occurs, then unregisters the client.
func (c *Client) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("websocket connection error", map[string]interface{}{
					"room_id": c.hub.RoomID, "error": err.Error(),
				})
			}
			return
		}
		c.lastSeen = time.Now()
		select {
		case c.hub.inbound <- inboundMessage{client: c, data: message}:
		default:
			logging.Warn("hub inbound buffer full, dropping message", map[string]interface{}{
				"room_id": c.hub.RoomID,
			})
		}
	}
}

// writePump drains send onto the socket and keeps the connection alive
// with periodic protocol-level pings.
func (c *Client) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades r to a WebSocket connection and registers the new
// client with hub, starting its read/write pumps.
func ServeWS(hub *Hub, cfg config.WebSocketConfig, w http.ResponseWriter, r *http.Request) {
	u := upgrader(cfg)
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", map[string]interface{}{
			"room_id": hub.RoomID, "error": err.Error(),
		})
		return
	}

	client := &Client{id: uuid.NewString(), hub: hub, conn: conn, send: make(chan []byte, 256), lastSeen: time.Now()}
	hub.register <- client

	go client.writePump(cfg)
	go client.readPump(cfg)
}
