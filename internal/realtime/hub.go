// Package realtime tracks WebSocket connections per user and fans out events.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types pushed to clients.
const (
	EventConnectionEstablished = "connection_established"
	EventPong                  = "pong"
	EventLocationUpdate        = "location_update"
	EventIntimacyUpdate        = "intimacy_update"
	EventTierChange            = "tier_change"
	EventTimeAdvance           = "time_advance"
	EventSystemNotification    = "system_notification"
	EventChatMessage           = "chat_message"
)

const (
	// DefaultMaxPerUser caps concurrent connections of one user.
	DefaultMaxPerUser = 5
	// DefaultHeartbeat is how long a client may stay silent.
	DefaultHeartbeat = 60 * time.Second

	writeWait  = 10 * time.Second
	sendBuffer = 32
	maxMessage = 4096
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("hub closed")

// Event is the envelope of every server push.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is the process-wide connection registry.
type Hub struct {
	mu         sync.Mutex
	conns      map[string][]*Conn
	maxPerUser int
	heartbeat  time.Duration
	now        func() time.Time
	closed     bool
	wg         sync.WaitGroup
}

// NewHub creates a Hub. maxPerUser <= 0 uses DefaultMaxPerUser.
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	return &Hub{
		conns:      make(map[string][]*Conn),
		maxPerUser: maxPerUser,
		heartbeat:  DefaultHeartbeat,
		now:        time.Now,
	}
}

// WithHeartbeat overrides the client silence deadline.
func (h *Hub) WithHeartbeat(d time.Duration) *Hub {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

// Conn is one registered client socket.
type Conn struct {
	hub    *Hub
	userID string
	ws     *websocket.Conn
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// UserID returns the authenticated owner of the connection.
func (c *Conn) UserID() string {
	return c.userID
}

// Register adds ws for userID, evicting the user's oldest connection when
// the cap is reached, and queues the welcome event.
func (h *Hub) Register(userID string, ws *websocket.Conn) (*Conn, error) {
	c := &Conn{
		hub:    h,
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		return nil, ErrClosed
	}
	var evicted []*Conn
	existing := h.conns[userID]
	for len(existing) >= h.maxPerUser {
		evicted = append(evicted, existing[0])
		existing = existing[1:]
	}
	h.conns[userID] = append(existing, c)
	total := h.countLocked()
	h.wg.Add(1)
	h.mu.Unlock()

	for _, old := range evicted {
		slog.Warn("websocket evicted oldest connection", "user_id", userID)
		old.closeWith(websocket.ClosePolicyViolation, "Connection limit exceeded")
	}

	go c.writePump()
	slog.Info("websocket connected", "user_id", userID, "total", total)

	c.enqueue(h.encode(EventConnectionEstablished, map[string]any{
		"user_id": userID,
		"message": "Neural Link synchronized.",
	}))
	return c, nil
}

// Serve reads client frames until the socket fails or the heartbeat lapses.
// It blocks and unregisters the connection on return.
func (h *Hub) Serve(c *Conn) {
	defer h.unregister(c)

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(h.now().Add(h.heartbeat))
	c.ws.SetPingHandler(func(appData string) error {
		_ = c.ws.SetReadDeadline(h.now().Add(h.heartbeat))
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.Info("websocket heartbeat timeout", "user_id", c.userID)
				c.closeWith(websocket.CloseGoingAway, "Heartbeat timeout")
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.ClosePolicyViolation) {
				slog.Warn("websocket read failed", "user_id", c.userID, "error", err)
			}
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}
		_ = c.ws.SetReadDeadline(h.now().Add(h.heartbeat))

		var msg struct {
			Type      string `json:"type"`
			Timestamp any    `json:"timestamp"`
			Topic     string `json:"topic"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("websocket invalid json", "user_id", c.userID)
			continue
		}
		switch msg.Type {
		case "ping":
			c.enqueue(h.encode(EventPong, map[string]any{"timestamp": msg.Timestamp}))
		case "subscribe":
			slog.Info("websocket subscribe", "user_id", c.userID, "topic", msg.Topic)
		default:
			slog.Warn("websocket unknown message type", "user_id", c.userID, "type", msg.Type)
		}
	}
}

// Notify sends an event to every connection of userID and returns how many
// accepted it.
func (h *Hub) Notify(userID, eventType string, data any) int {
	payload := h.encode(eventType, data)
	if payload == nil {
		return 0
	}
	h.mu.Lock()
	targets := append([]*Conn(nil), h.conns[userID]...)
	h.mu.Unlock()
	return h.deliver(targets, payload)
}

// Broadcast sends an event to every connection.
func (h *Hub) Broadcast(eventType string, data any) int {
	payload := h.encode(eventType, data)
	if payload == nil {
		return 0
	}
	h.mu.Lock()
	var targets []*Conn
	for _, conns := range h.conns {
		targets = append(targets, conns...)
	}
	h.mu.Unlock()
	return h.deliver(targets, payload)
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countLocked()
}

// UserCount returns the number of users with at least one connection.
func (h *Hub) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IsConnected reports whether userID has a live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID]) > 0
}

// Close disconnects every client and waits for the writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Conn
	for _, conns := range h.conns {
		all = append(all, conns...)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
	}
	h.wg.Wait()
}

func (h *Hub) deliver(targets []*Conn, payload []byte) int {
	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
			continue
		}
		h.unregister(c)
	}
	return sent
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	conns := h.conns[c.userID]
	for i, existing := range conns {
		if existing == c {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(h.conns, c.userID)
	} else {
		h.conns[c.userID] = conns
	}
	total := h.countLocked()
	h.mu.Unlock()

	c.closeWith(websocket.CloseNormalClosure, "")
	slog.Debug("websocket disconnected", "user_id", c.userID, "total", total)
}

func (h *Hub) countLocked() int {
	n := 0
	for _, conns := range h.conns {
		n += len(conns)
	}
	return n
}

func (h *Hub) encode(eventType string, data any) []byte {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		slog.Error("failed to encode websocket event", "type", eventType, "error", err)
		return nil
	}
	return payload
}

// enqueue hands payload to the writer. A full buffer marks the client dead.
func (c *Conn) enqueue(payload []byte) bool {
	if payload == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		slog.Warn("websocket send buffer full, dropping connection", "user_id", c.userID)
		c.closeWith(websocket.CloseTryAgainLater, "Client too slow")
		return false
	}
}

func (c *Conn) writePump() {
	defer c.hub.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("websocket write failed", "user_id", c.userID, "error", err)
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// closeWith sends a close frame (when code allows one) and tears the socket
// down. Safe to call more than once.
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if code != websocket.CloseAbnormalClosure {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		}
		_ = c.ws.Close()
	})
}
