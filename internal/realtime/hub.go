package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/middleware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message is what dashboards receive for every committed event.
type Message struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	At       time.Time       `json:"at"`
}

type DeviceLookup interface {
	GetDevice(ctx context.Context, deviceID string) (*store.Device, error)
}

// Hub fans events out to websocket clients. Admins see every event; other
// users only events of devices they own.
type Hub struct {
	upgrader websocket.Upgrader
	devices  DeviceLookup

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	principal access.Principal
}

func NewHub(devices DeviceLookup) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// The session chain has already authenticated the request.
				return true
			},
		},
		devices: devices,
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16), principal: p}
	h.addClient(c)

	go h.writePump(c)
	h.readPump(c)
}

// Publish implements the event sink used by ingest, OTA, firmware and access.
func (h *Hub) Publish(ev *store.Event) {
	if ev == nil || h.clientCount() == 0 {
		return
	}
	msg := Message{Type: ev.Type, Data: json.RawMessage(ev.Data), At: ev.Timestamp}
	var owner *uuid.UUID
	if ev.DeviceID != nil {
		msg.DeviceID = *ev.DeviceID
		if h.devices != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			dev, err := h.devices.GetDevice(ctx, *ev.DeviceID)
			cancel()
			if err == nil {
				owner = dev.OwnerID
			}
		}
	}
	if len(msg.Data) == 0 {
		msg.Data = nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !visible(c.principal, owner) {
			continue
		}
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

func visible(p access.Principal, owner *uuid.UUID) bool {
	if access.IsAdmin(p) {
		return true
	}
	return owner != nil && *owner == p.UserID
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
