package notification

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Hub pushes notifications to the websocket connections of each user.
type Hub struct {
	mu       sync.RWMutex
	conns    map[int64]map[*hubConn]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type hubConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	return c.conn.WriteJSON(v)
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Hub{
		conns: make(map[int64]map[*hubConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("module", "notification_hub"),
	}
}

// Handler serves /ws/{userID}.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws/{userID}", h)

	return mux
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("userID")
	if raw == "" {
		raw = strings.TrimPrefix(r.URL.Path, "/ws/")
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)

		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)

		return
	}

	c := &hubConn{conn: conn}
	h.register(userID, c)
	h.logger.Debug("subscriber connected", "user_id", userID)

	// Client frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(userID, c)
	h.logger.Debug("subscriber disconnected", "user_id", userID)
}

func (h *Hub) register(userID int64, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*hubConn]struct{})
	}

	h.conns[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID int64, c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.conns[userID]; ok {
		delete(set, c)

		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}

	_ = c.conn.Close()
}

// Broadcast pushes n to every connection of n.UserID and returns how many received it.
func (h *Hub) Broadcast(n models.Notification) int {
	h.mu.RLock()
	targets := make([]*hubConn, 0, len(h.conns[n.UserID]))
	for c := range h.conns[n.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0

	for _, c := range targets {
		if err := c.writeJSON(n); err != nil {
			h.logger.Warn("dropping subscriber after failed write", "user_id", n.UserID, "error", err)
			h.unregister(n.UserID, c)

			continue
		}

		delivered++
	}

	return delivered
}

// Connections returns the number of open connections of a user.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns[userID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.conns {
		for c := range set {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			_ = c.conn.Close()
		}

		delete(h.conns, userID)
	}
}
