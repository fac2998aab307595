package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/alerts"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is
	// treated as dead. pingPeriod must stay below it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBufSize  = 16
	maxFrameSize = 4096
)

// Event names carried in Message.Event.
const (
	EventAlerts = "alerts"
	EventError  = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS belongs to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source supplies the alerts the hub streams.
type Source interface {
	Alerts(f alerts.Filter) []types.Alert
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string         `json:"event"`
	Data  *AlertSnapshot `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// AlertSnapshot is the set of unresolved alerts a client subscribed to.
type AlertSnapshot struct {
	Alerts      []types.Alert        `json:"alerts"`
	Counts      map[types.Status]int `json:"counts"`
	GeneratedAt string               `json:"generated_at"` // RFC3339
}

// Hub streams unresolved alerts to WebSocket clients. Each client gets the
// alerts admitted by its Subscription, and a tick only produces a frame
// for clients whose view changed since the last one they were sent.
type Hub struct {
	src      Source
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	sub  Subscription
	last string // digest of the last snapshot sent
}

// New creates a Hub that reads from src and checks for changes every
// interval.
func New(src Source, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run pushes changed views every interval until ctx is cancelled, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// ServeHTTP validates the subscription query, upgrades the connection and
// sends the current view at once. Clients may replace their subscription
// by sending a JSON Subscription frame. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, err := parseQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		sub:  sub,
	}
	h.register(c)
	defer h.unregister(c)

	h.push(c, h.active(), true)

	go c.writePump()
	h.readPump(c) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) active() []types.Alert {
	all := h.src.Alerts(alerts.Filter{})
	out := all[:0]
	for i := range all {
		if all[i].Active() {
			out = append(out, all[i])
		}
	}
	return out
}

func (h *Hub) broadcast() {
	if h.Count() == 0 {
		return
	}
	active := h.active()

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.push(c, active, false)
	}
}

// push sends c its view of active unless it matches the last one sent.
// force sends regardless.
func (h *Hub) push(c *client, active []types.Alert, force bool) {
	c.mu.Lock()
	snap := snapshot(active, c.sub)
	digest, err := json.Marshal(struct {
		A []types.Alert
		C map[types.Status]int
	}{snap.Alerts, snap.Counts})
	if err != nil || (!force && string(digest) == c.last) {
		c.mu.Unlock()
		return
	}
	c.last = string(digest)
	c.mu.Unlock()

	snap.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	h.deliver(c, Message{Event: EventAlerts, Data: &snap})
}

// deliver queues msg for c. A client whose buffer is full is dropped.
func (h *Hub) deliver(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: encode message", "err", err)
		return
	}

	h.mu.RLock()
	_, live := h.clients[c]
	queued := true
	if live {
		select {
		case c.send <- data:
		default:
			queued = false
		}
	}
	h.mu.RUnlock()

	if !queued {
		slog.Debug("ws: dropping slow client")
		h.unregister(c)
	}
}

func snapshot(active []types.Alert, sub Subscription) AlertSnapshot {
	snap := AlertSnapshot{
		Alerts: make([]types.Alert, 0, len(active)),
		Counts: make(map[types.Status]int),
	}
	for i := range active {
		if !sub.admits(&active[i]) {
			continue
		}
		snap.Alerts = append(snap.Alerts, active[i])
		snap.Counts[active[i].Status]++
	}
	return snap
}

// readPump handles control frames and subscription updates until the
// connection closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var sub Subscription
		if err := json.Unmarshal(raw, &sub); err == nil {
			err = sub.validate()
		}
		if err != nil {
			h.deliver(c, Message{Event: EventError, Error: "invalid subscription: " + err.Error()})
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
		h.push(c, h.active(), true)
	}
}

// writePump forwards queued frames and sends pings. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
