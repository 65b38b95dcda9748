package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nids-dash/nids-go/internal/briefing"
	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/detect"
	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/model"
	"github.com/nids-dash/nids-go/internal/result"
	"github.com/nids-dash/nids-go/internal/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// APIHandler serves the JSON mirror of the dashboard.
type APIHandler struct {
	Deps
}

func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{Deps: d}
}

type featureJSON struct {
	Key  string  `json:"key"`
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Hint string  `json:"hint"`
}

type detectRequest struct {
	Features map[string]float64 `json:"features"`
}

type statsJSON struct {
	TotalRecords int              `json:"total_records"`
	AttackTypes  int              `json:"attack_types"`
	Detections   map[string]int64 `json:"detections,omitempty"`
}

type briefingJSON struct {
	Label    int    `json:"label"`
	Category string `json:"category"`
	Briefing string `json:"briefing"`
}

func (ah *APIHandler) load(w http.ResponseWriter, r *http.Request) (model.Predictor, *dataset.Table, bool) {
	p, mErr := ah.Artifacts.LoadModel(r.Context())
	t, dErr := ah.Artifacts.LoadDataset(r.Context())
	if err := errors.Join(mErr, dErr); err != nil {
		jsonError(w, loadFailedMessage, http.StatusServiceUnavailable)
		return nil, nil, false
	}
	return p, t, true
}

// Features handles GET /api/features.
func (ah *APIHandler) Features(w http.ResponseWriter, r *http.Request) {
	p, t, ok := ah.load(w, r)
	if !ok {
		return
	}
	fields := ah.controller(p, t).Fields()
	out := make([]featureJSON, len(fields))
	for i, f := range fields {
		out[i] = featureJSON{Key: f.Key, Name: f.Name, Mean: f.Value, Hint: f.Hint}
	}
	ah.writeJSON(w, map[string]any{"count": len(out), "features": out})
}

// Detect handles POST /api/detect with {"features": {name: value}}. Names
// left out take the column mean.
func (ah *APIHandler) Detect(w http.ResponseWriter, r *http.Request) {
	if ah.rateLimited(w, r, "detect") {
		return
	}
	p, t, ok := ah.load(w, r)
	if !ok {
		return
	}

	var req detectRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	ctrl := ah.controller(p, t)
	rec, err := ctrl.ParseMap(req.Features)
	if err != nil {
		jsonError(w, detectErrorMessage(err), http.StatusUnprocessableEntity)
		return
	}

	label, err := ctrl.Detect(r.Context(), session.FromContext(r.Context()), rec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, detect.ErrInference) {
			status = http.StatusBadGateway
		}
		jsonError(w, detectErrorMessage(err), status)
		return
	}
	ah.writeJSON(w, result.Present(&label))
}

// Result handles GET /api/result.
func (ah *APIHandler) Result(w http.ResponseWriter, r *http.Request) {
	st, err := session.FromContext(r.Context()).State(r.Context())
	if err != nil {
		ah.Logger.Error("session read failed", "err", err)
		jsonError(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	ah.writeJSON(w, result.Present(st.Prediction))
}

// Stats handles GET /api/stats: the sidebar figures, plus detection counts
// per category when history is stored.
func (ah *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	t, err := ah.Artifacts.LoadDataset(r.Context())
	if err != nil {
		jsonError(w, loadFailedMessage, http.StatusServiceUnavailable)
		return
	}
	out := statsJSON{TotalRecords: t.Len(), AttackTypes: features.CategoryCount()}
	if ah.Deps.History != nil {
		counts, err := ah.Deps.History.CountDetectionsByLabel(r.Context())
		if err != nil {
			ah.Logger.Warn("detection counts unavailable", "err", err)
		} else {
			out.Detections = make(map[string]int64, len(counts))
			for label, n := range counts {
				out.Detections[features.Label(label).String()] = n
			}
		}
	}
	ah.writeJSON(w, out)
}

// Briefing handles GET /api/briefing for the session's current verdict.
func (ah *APIHandler) Briefing(w http.ResponseWriter, r *http.Request) {
	label, ok, err := session.FromContext(r.Context()).Prediction(r.Context())
	if err != nil {
		jsonError(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "no detection result", http.StatusNotFound)
		return
	}
	cat, _ := features.Lookup(label)

	text, err := ah.Briefer.Brief(r.Context(), label)
	switch {
	case err == nil, errors.Is(err, briefing.ErrNotThreat):
		ah.writeJSON(w, briefingJSON{Label: int(label), Category: cat.Name, Briefing: text})
	case errors.Is(err, briefing.ErrDisabled):
		jsonError(w, "briefing disabled", http.StatusNotFound)
	default:
		ah.Logger.Warn("briefing failed", "label", int(label), "err", err)
		jsonError(w, "briefing unavailable", http.StatusBadGateway)
	}
}

// History handles GET /api/history?limit=N for the caller's session.
func (ah *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	if ah.Deps.History == nil {
		jsonError(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := defaultHistoryLimit
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			jsonError(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := ah.Deps.History.GetRecentDetections(r.Context(), session.FromContext(r.Context()).ID(), limit)
	if err != nil {
		ah.Logger.Error("history query failed", "err", err)
		jsonError(w, "failed to fetch history", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []db.Detection{}
	}
	ah.writeJSON(w, items)
}
