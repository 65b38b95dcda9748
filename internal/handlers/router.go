package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nids-dash/nids-go/internal/briefing"
	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/detect"
	"github.com/nids-dash/nids-go/internal/model"
	"github.com/nids-dash/nids-go/internal/ratelimit"
	"github.com/nids-dash/nids-go/internal/session"
	"github.com/nids-dash/nids-go/internal/sse"
	"github.com/nids-dash/nids-go/internal/web"
	"github.com/nids-dash/nids-go/internal/ws"
)

// Artifacts is the shared model and reference dataset.
type Artifacts interface {
	LoadModel(ctx context.Context) (model.Predictor, error)
	LoadDataset(ctx context.Context) (*dataset.Table, error)
	LogoPath() (string, bool)
}

// HistoryStore persists and lists detections.
type HistoryStore interface {
	detect.History
	GetRecentDetections(ctx context.Context, sessionID string, limit int) ([]db.Detection, error)
	CountDetectionsByLabel(ctx context.Context) (map[int]int64, error)
}

// Deps bundles what the HTTP surface needs. Limiter, Briefer, History and
// Hub are optional.
type Deps struct {
	Artifacts Artifacts
	Sessions  *session.Manager
	Renderer  *web.Renderer
	Limiter   *ratelimit.Limiter
	Briefer   briefing.Briefer
	History   HistoryStore
	Hub       *sse.Hub
	WS        *ws.Manager
	Logger    *slog.Logger
}

func (d Deps) controller(p model.Predictor, table *dataset.Table) *detect.Controller {
	var opts []detect.Option
	if d.History != nil {
		opts = append(opts, detect.WithHistory(d.History))
	}
	if d.Hub != nil {
		opts = append(opts, detect.WithPublisher(d.Hub))
	}
	return detect.NewController(p, table, d.Logger, opts...)
}

// rateLimited reports whether the request was rejected by bucket.
func (d Deps) rateLimited(w http.ResponseWriter, r *http.Request, bucket string) bool {
	return d.Limiter != nil && d.Limiter.Check(w, r, bucket)
}

func (d Deps) limit(bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.rateLimited(w, r, bucket) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter wires every route of the dashboard.
func NewRouter(d Deps) http.Handler {
	if d.Briefer == nil {
		d.Briefer = briefing.Disabled{}
	}
	dash := NewDashboardHandler(d)
	api := NewAPIHandler(d)
	stream := NewStreamHandler(d.Hub, d.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Handle("/static/*", web.Static())
	r.Get("/logo", dash.Logo)

	r.Group(func(r chi.Router) {
		r.Use(d.Sessions.Middleware)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/detect", http.StatusFound)
		})
		r.Get("/detect", dash.DetectPage)
		r.Post("/detect", dash.SubmitDetect)
		r.Get("/result", dash.ResultPage)

		if d.WS != nil {
			r.Get("/ws", d.WS.HandleWS)
		}

		r.Route("/api", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(d.limit("api"))
				r.Get("/features", api.Features)
				r.Get("/result", api.Result)
				r.Get("/stats", api.Stats)
				r.Get("/briefing", api.Briefing)
				r.Get("/history", api.History)
			})
			// Charged to the detect bucket only.
			r.Post("/detect", api.Detect)
			// Long-lived; reconnects must not drain the JSON API budget.
			if d.Hub != nil {
				r.Get("/stream/result", stream.HandleSSE)
			}
		})
	})
	return r
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON encodes v before writing anything, so an unencodable value
// becomes a 500 instead of an empty 200.
func (d Deps) writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		d.Logger.Error("encode response failed", "err", err)
		jsonError(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := buf.WriteTo(w); err != nil {
		d.Logger.Debug("write response failed", "err", err)
	}
}
