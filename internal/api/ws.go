package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/sync/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon serves the local POS UI only.
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// WebSocket event types pushed to the POS UI.
const (
	EventItemCompleted = "sync.item_completed"
	EventItemFailed    = "sync.item_failed"
	EventConflict      = "sync.conflict_detected"
	EventQueueEmpty    = "sync.queue_empty"
	EventOnlineChanged = "sync.online_changed"
)

// WSEnvelope wraps every message pushed over the socket.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// WSClient is one connected UI instance.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans sync events out to connected UI clients.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
}

// NewWSHub creates a hub and starts its broadcast loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the connection.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes an event to every connected client.
func (h *WSHub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket event", err, map[string]interface{}{
			"event": eventType,
		})
		return
	}
	h.broadcast <- bytes
}

// Subscribe wires the hub to the sync notifier so queue activity reaches
// the UI without the UI polling.
func (h *WSHub) Subscribe(n *events.Notifier) {
	n.OnItemCompleted(func(item *models.SyncItem) {
		h.Broadcast(EventItemCompleted, map[string]interface{}{
			"item_id":   item.ID,
			"operation": string(item.Operation),
			"endpoint":  item.Endpoint,
		})
	})
	n.OnItemFailed(func(item *models.SyncItem) {
		h.Broadcast(EventItemFailed, map[string]interface{}{
			"item_id":     item.ID,
			"operation":   string(item.Operation),
			"endpoint":    item.Endpoint,
			"retry_count": item.RetryCount,
			"error":       item.LastError,
		})
	})
	n.OnConflict(func(item *models.SyncItem, serverData map[string]interface{}) {
		h.Broadcast(EventConflict, map[string]interface{}{
			"item_id":     item.ID,
			"endpoint":    item.Endpoint,
			"server_data": serverData,
		})
	})
	n.OnQueueEmpty(func() {
		h.Broadcast(EventQueueEmpty, map[string]interface{}{})
	})
	n.OnOnlineChanged(func(online bool) {
		h.Broadcast(EventOnlineChanged, map[string]interface{}{
			"online": online,
		})
	})
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error", map[string]interface{}{
					"client_id": c.id, "error": err.Error(),
				})
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades a request and attaches the client to the hub.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		client := &WSClient{
			id:   time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
