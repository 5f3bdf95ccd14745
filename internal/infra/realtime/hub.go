package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 16
)

// Envelope is the frame written to sockets and relayed between instances.
// It reaches the sockets of Audience (a user id) and of ClientKey (one
// browser); with neither set it reaches nobody.
type Envelope struct {
	Event     string          `json:"event"`
	Audience  string          `json:"audience,omitempty"`
	ClientKey string          `json:"clientKey,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

func (e *Envelope) addressed() bool {
	return e.Audience != "" || e.ClientKey != ""
}

func (e *Envelope) reaches(c *client) bool {
	return (e.Audience != "" && c.userID == e.Audience) ||
		(e.ClientKey != "" && c.clientKey == e.ClientKey)
}

// Hub fans envelopes out to the websocket clients of this instance.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	userID    string
	clientKey string
	send      chan []byte
}

// NewHub accepts sockets from allowedOrigins; empty means same host only.
func NewHub(allowedOrigins []string, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{clients: make(map[*client]struct{}), log: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[strings.TrimRight(o, "/")] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
	return h
}

// ServeWS upgrades the request and attaches the socket to userID and
// clientKey, either of which may be empty.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, clientKey string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, userID: userID, clientKey: clientKey, send: make(chan []byte, sendBuffer)}
	h.add(c)
	go c.writePump()
	go c.readPump()
}

// Broadcast delivers env to every client in its audience. Slow clients are
// dropped rather than allowed to stall the hub.
func (h *Hub) Broadcast(env Envelope) int {
	if !env.addressed() {
		h.log.Warn().Str("event", env.Event).Msg("dropping realtime event without recipient")
		return 0
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("event", env.Event).Msg("encode realtime frame")
		return 0
	}
	h.mu.RLock()
	var slow []*client
	n := 0
	for c := range h.clients {
		if !env.reaches(c) {
			continue
		}
		select {
		case c.send <- frame:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.remove(c)
	}
	return n
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump only services control frames; clients do not publish.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
