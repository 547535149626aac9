// Package websocket pushes live analysis status and progress events to
// connected clients.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/api/rest"
	"github.com/loghawk/device-log-analysis-backend/internal/service/analysisflow"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

// client is one connected websocket. Events are dropped, not queued
// unboundedly, when a slow client falls behind.
type client struct {
	principalID uuid.UUID
	admin       bool
	send        chan analysisflow.Event
}

// Hub fans analysis events out to connections. It implements
// analysisflow.EventPublisher.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		logger:  logger.Named("websocket"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// PublishAnalysis delivers an event to the owning principal's
// connections and to admins.
func (h *Hub) PublishAnalysis(e analysisflow.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.principalID != e.PrincipalID && !c.admin {
			continue
		}
		select {
		case c.send <- e:
		default:
			// Slow consumer; skip this event rather than block the
			// worker.
		}
	}
}

// ServeHTTP upgrades an authenticated request to a websocket. Auth ran
// in the REST middleware chain; the principal is on the context.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := rest.PrincipalFromContext(r.Context())
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		principalID: p.ID,
		admin:       p.IsAdmin(),
		send:        make(chan analysisflow.Event, sendBufferSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(conn, c)
	h.readLoop(conn, c)
}

func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	defer h.drop(conn, c)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only listen; any inbound frame except control frames
		// ends the connection.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(conn, c)
	}()

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn, c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Close terminates all connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
