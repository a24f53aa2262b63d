// Package broadcast pushes cache invalidations between processes over
// WebSocket. A server mounts a Hub and calls Broadcast after every
// write to its backing collection; each client runs a Listener that
// forwards the received keys to its local store, so every process
// refetches on its next query instead of serving stale data.
package broadcast

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Invalidation is the wire message: the key of the collection whose
// cached entries are no longer trustworthy.
type Invalidation struct {
	Key []string `json:"key"`
}

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second

	// sendBuffer is the per-client queue. A client that cannot keep up
	// has its messages dropped, never the whole hub blocked.
	sendBuffer = 16
)

// client is one connected listener. The send channel is never closed;
// shutdown is signaled through done so a concurrent Broadcast can
// never hit a closed channel.
type client struct {
	conn *websocket.Conn
	send chan Invalidation
	done chan struct{}
}

// Hub accepts WebSocket connections and fans invalidations out to all
// of them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped uint64
}

// NewHub creates a hub. A nil logger falls back to slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Invalidation keys are not sensitive; cross-origin
			// listeners are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "broadcast_hub"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until the
// peer goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Invalidation, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast queues an invalidation for every connected client. Clients
// with a full queue are skipped; the next invalidation for the same key
// reaches them anyway.
func (h *Hub) Broadcast(inv Invalidation) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- inv:
		case <-c.done:
			// Disconnected after the snapshot above; skip.
		default:
			h.mu.Lock()
			h.dropped++
			dropped := h.dropped
			h.mu.Unlock()
			h.logger.Warn("invalidation dropped, client too slow", "total_dropped", dropped)
		}
	}
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects future connections.
// Broadcast remains safe to call afterwards; it simply reaches nobody.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
	}
}

// remove unregisters a client. Removal and Close can race over the same
// client, so done is only closed by whoever actually deletes it.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		close(c.done)
	}
}

// readPump consumes (and discards) inbound frames so pings and close
// handshakes are processed. Listeners never send application data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Error("read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case inv := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(inv); err != nil {
				h.logger.Error("write error", "error", err)
				return
			}
		case <-c.done:
			// Hub closed or client unregistered: say goodbye properly.
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
