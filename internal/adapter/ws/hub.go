// Package ws implements a WebSocket fan-out of committed events for clients
// that want push without resumption. Reconnection-safe consumption belongs to
// the SSE stream; this surface is plain best-effort push.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tidewater-labs/driftline/internal/domain/event"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
)

// writeTimeout bounds one broadcast write per connection.
const writeTimeout = 5 * time.Second

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages active WebSocket connections and broadcasts committed events.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// HandleWS upgrades the request and keeps the connection registered until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			cancel()
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// Run consumes the bus subscription and broadcasts every event until the
// context is cancelled.
func (h *Hub) Run(ctx context.Context, sub eventbus.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			h.broadcast(ctx, ev)
		}
	}
}

// broadcast writes the event envelope to all connections; a connection that
// cannot keep up is dropped.
func (h *Hub) broadcast(ctx context.Context, ev event.Stored) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("websocket envelope marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Warn("websocket write failed, dropping connection", "error", err)
			h.remove(c)
			c.cancel()
		}
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
