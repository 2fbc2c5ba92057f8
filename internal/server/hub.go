package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/worker"
)

const writeWait = 5 * time.Second

// Event types sent over the notification stream.
const (
	EventState        = "state"
	EventNotification = "notification"
)

// Event is one message on the notification stream.
type Event struct {
	Type         string               `json:"type"`
	State        *orchestrator.State  `json:"state,omitempty"`
	Notification *worker.Notification `json:"notification,omitempty"`
}

// Hub fans notifications and orchestrator state out to websocket clients.
// It is the worker's Notifier when the server runs.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// snapshot, when set, supplies the event sent to each new client.
	snapshot func() Event

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

var _ worker.Notifier = (*Hub)(nil)

// NewHub builds a hub accepting connections from allowedOrigins. An empty
// list or "*" accepts any origin.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		logger: logging.OrDefault(logger),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	if h.snapshot != nil {
		if err := write(conn, h.snapshot()); err != nil {
			delete(h.conns, conn)
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends ev to every client. Clients that cannot be written to
// are dropped.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := write(conn, ev); err != nil {
			h.logger.Debug("dropping websocket client", "error", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

// Notify implements worker.Notifier.
func (h *Hub) Notify(_ context.Context, n worker.Notification) error {
	h.Broadcast(Event{Type: EventNotification, Notification: &n})
	return nil
}

// PublishState broadcasts an orchestrator snapshot. It has the shape of an
// orchestrator.OnChange listener.
func (h *Hub) PublishState(s orchestrator.State) {
	h.Broadcast(Event{Type: EventState, State: &s})
}

func write(conn *websocket.Conn, ev Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
