// Package ws pushes a session's prediction updates over a WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nids-dash/nids-go/internal/session"
	"github.com/nids-dash/nids-go/internal/sse"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Manager upgrades session-bound connections and relays hub events to them.
type Manager struct {
	hub    *sse.Hub
	logger *slog.Logger
	active atomic.Int64
}

// NewManager creates a WebSocket manager fed by hub.
func NewManager(hub *sse.Hub, logger *slog.Logger) *Manager {
	return &Manager{hub: hub, logger: logger}
}

// Active returns the number of open connections.
func (m *Manager) Active() int64 { return m.active.Load() }

// HandleWS handles GET /ws. The session comes from the request context, so a
// connection only ever receives its own session's events.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	// Subscribe before reading state so an update racing the upgrade is not lost.
	events, cancel := m.hub.Subscribe(sess.ID())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	m.active.Add(1)
	defer m.active.Add(-1)

	ctx, stop := context.WithCancel(context.WithoutCancel(r.Context()))
	defer stop()
	go m.readLoop(conn, stop)

	if err := m.hydrate(ctx, conn, sess); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames; the dashboard never sends any, but reading
// is needed to process pongs and notice the close.
func (m *Manager) readLoop(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *Manager) hydrate(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	st, err := sess.State(ctx)
	if err != nil {
		m.logger.Warn("websocket hydrate failed", "session_id", sess.ID(), "err", err)
		return err
	}
	if st.Prediction == nil {
		return writeJSON(conn, map[string]any{"type": "empty"})
	}
	return writeEvent(conn, sse.NewPredictionEvent(*st.Prediction, st.LastSeen))
}

func writeEvent(conn *websocket.Conn, ev sse.Event) error {
	return writeJSON(conn, map[string]any{
		"type": ev.Type,
		"data": json.RawMessage(ev.Data),
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
