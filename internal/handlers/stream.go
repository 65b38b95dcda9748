package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nids-dash/nids-go/internal/session"
	"github.com/nids-dash/nids-go/internal/sse"
)

const keepaliveInterval = 30 * time.Second

// StreamHandler serves SSE streams of the caller's prediction updates.
type StreamHandler struct {
	hub    *sse.Hub
	logger *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *sse.Hub, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// HandleSSE handles GET /api/stream/result.
// It sends the current verdict (or an "empty" event), then streams updates
// for the same session with periodic keepalives.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	sess := session.FromContext(r.Context())
	if sess == nil {
		jsonError(w, "no session", http.StatusUnauthorized)
		return
	}

	ch, cancel := sh.hub.Subscribe(sess.ID())
	defer cancel()

	st, err := sess.State(r.Context())
	if err != nil {
		sh.logger.Error("sse hydrate failed", "session_id", sess.ID(), "err", err)
		jsonError(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if st.Prediction == nil {
		fmt.Fprint(w, "event: empty\ndata: {}\n\n")
	} else {
		writeEvent(w, sse.NewPredictionEvent(*st.Prediction, st.LastSeen))
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev sse.Event) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
}
