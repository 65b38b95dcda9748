package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nids-dash/nids-go/internal/briefing"
	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/detect"
	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/model"
	"github.com/nids-dash/nids-go/internal/result"
	"github.com/nids-dash/nids-go/internal/session"
	"github.com/nids-dash/nids-go/internal/web"
)

const (
	loadFailedMessage = "Failed to load model or data. Please check the file paths."
	detectedMessage   = "Detection complete! View result in the 'Detection Result' page."
	maxFormBytes      = 64 << 10
)

type flash struct {
	Kind    string // success, error, info
	Message string
}

type sidebarStats struct {
	TotalRecords int
	AttackTypes  int
}

// pageData is the single view model shared by every template.
type pageData struct {
	Title   string
	Active  string
	HasLogo bool
	Stats   *sidebarStats

	Flash  *flash
	Fields []detect.Field
	Values map[string]string

	Result          result.View
	BriefingEnabled bool

	Error   string
	Details []string
}

// DashboardHandler serves the two HTML views.
type DashboardHandler struct {
	Deps
}

func NewDashboardHandler(d Deps) *DashboardHandler {
	return &DashboardHandler{Deps: d}
}

// load returns the shared artifacts, or renders the load-failure page and
// returns ok=false. Nothing else is rendered for the request in that case.
func (dh *DashboardHandler) load(w http.ResponseWriter, r *http.Request) (model.Predictor, *dataset.Table, bool) {
	p, mErr := dh.Artifacts.LoadModel(r.Context())
	t, dErr := dh.Artifacts.LoadDataset(r.Context())
	if mErr == nil && dErr == nil {
		return p, t, true
	}

	data := dh.base("Unavailable", "")
	data.Error = loadFailedMessage
	if mErr != nil {
		data.Details = append(data.Details, "Error loading model: "+mErr.Error())
	}
	if dErr != nil {
		data.Details = append(data.Details, "Error loading data: "+dErr.Error())
	}
	dh.render(w, http.StatusServiceUnavailable, web.PageError, data)
	return nil, nil, false
}

func (dh *DashboardHandler) base(title, active string) pageData {
	_, hasLogo := dh.Artifacts.LogoPath()
	return pageData{Title: title, Active: active, HasLogo: hasLogo}
}

func (dh *DashboardHandler) withStats(data pageData, t *dataset.Table) pageData {
	data.Stats = &sidebarStats{TotalRecords: t.Len(), AttackTypes: features.CategoryCount()}
	return data
}

func (dh *DashboardHandler) render(w http.ResponseWriter, status int, page string, data pageData) {
	if err := dh.Renderer.Render(w, status, page, data); err != nil {
		dh.Logger.Error("render failed", "page", page, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// DetectPage handles GET /detect.
func (dh *DashboardHandler) DetectPage(w http.ResponseWriter, r *http.Request) {
	p, t, ok := dh.load(w, r)
	if !ok {
		return
	}
	ctrl := dh.controller(p, t)
	fields := ctrl.Fields()
	dh.render(w, http.StatusOK, web.PageDetect, dh.formPage(t, fields, defaultValues(fields), nil))
}

// SubmitDetect handles POST /detect. The form is re-rendered with a flash;
// the user moves to the result view on their own.
func (dh *DashboardHandler) SubmitDetect(w http.ResponseWriter, r *http.Request) {
	if dh.rateLimited(w, r, "detect") {
		return
	}
	p, t, ok := dh.load(w, r)
	if !ok {
		return
	}
	sess := session.FromContext(r.Context())
	ctrl := dh.controller(p, t)
	fields := ctrl.Fields()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		dh.render(w, http.StatusBadRequest, web.PageDetect,
			dh.formPage(t, fields, defaultValues(fields), &flash{Kind: "error", Message: "Invalid form submission."}))
		return
	}
	values := submittedValues(fields, r)

	rec, err := ctrl.ParseForm(r.PostForm)
	if err != nil {
		dh.render(w, http.StatusUnprocessableEntity, web.PageDetect,
			dh.formPage(t, fields, values, &flash{Kind: "error", Message: detectErrorMessage(err)}))
		return
	}

	if _, err := ctrl.Detect(r.Context(), sess, rec); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, detect.ErrInference) {
			status = http.StatusBadGateway
		}
		dh.render(w, status, web.PageDetect,
			dh.formPage(t, fields, values, &flash{Kind: "error", Message: detectErrorMessage(err)}))
		return
	}
	dh.render(w, http.StatusOK, web.PageDetect,
		dh.formPage(t, fields, values, &flash{Kind: "success", Message: detectedMessage}))
}

// ResultPage handles GET /result.
func (dh *DashboardHandler) ResultPage(w http.ResponseWriter, r *http.Request) {
	_, t, ok := dh.load(w, r)
	if !ok {
		return
	}
	st, err := session.FromContext(r.Context()).State(r.Context())
	if err != nil {
		dh.Logger.Error("session read failed", "err", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	data := dh.withStats(dh.base("Detection Result", "result"), t)
	data.Result = result.Present(st.Prediction)
	_, disabled := dh.Briefer.(briefing.Disabled)
	data.BriefingEnabled = !disabled && data.Result.HasResult && !data.Result.Benign
	dh.render(w, http.StatusOK, web.PageResult, data)
}

// Logo handles GET /logo. A missing logo is not an error for the pages.
func (dh *DashboardHandler) Logo(w http.ResponseWriter, r *http.Request) {
	path, ok := dh.Artifacts.LogoPath()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

func (dh *DashboardHandler) formPage(t *dataset.Table, fields []detect.Field, values map[string]string, f *flash) pageData {
	data := dh.withStats(dh.base("Attack Detection", "detect"), t)
	data.Fields = fields
	data.Values = values
	data.Flash = f
	return data
}

func defaultValues(fields []detect.Field) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Key] = f.InputValue()
	}
	return out
}

// submittedValues echoes what the user typed so a failed submit keeps edits.
func submittedValues(fields []detect.Field, r *http.Request) map[string]string {
	out := defaultValues(fields)
	for _, f := range fields {
		if v := strings.TrimSpace(r.PostForm.Get(f.Key)); v != "" {
			out[f.Key] = v
		}
	}
	return out
}

func detectErrorMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), detect.ErrInference.Error()+": ")
	return "Error in attack detection: " + msg
}
