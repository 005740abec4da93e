package server

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

//go:embed livereload.js
var liveReloadScript []byte

const writeTimeout = 5 * time.Second

// Hub holds the browsers connected for live reload and tells them to
// refresh after a rebuild.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the browser goes away. Clients never send anything meaningful.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Local verification server only.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("reload accept", "err", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Debug("reload client connected", "remote", r.RemoteAddr)

	ctx := c.CloseRead(r.Context())
	<-ctx.Done()

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	slog.Debug("reload client disconnected", "remaining", h.Count())
}

// Broadcast sends msg to every connected client, dropping clients whose
// write fails.
func (h *Hub) Broadcast(msg string) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			slog.Debug("reload write", "err", err)
			c.Close(websocket.StatusInternalError, "write failed")
		}
		cancel()
	}
	slog.Debug("reload broadcast", "msg", msg, "clients", len(conns))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
