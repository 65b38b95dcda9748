// Package detect turns form input into a feature record, runs the model and
// stores the resulting label in the caller's session.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/model"
	"github.com/nids-dash/nids-go/internal/sse"
)

var (
	// ErrCoercion is returned when an input cannot be read as a number.
	ErrCoercion = errors.New("invalid numeric input")
	// ErrInference wraps every failure raised by the model.
	ErrInference = errors.New("error in attack detection")
)

// State is the session-scoped slot a detection writes to.
type State interface {
	ID() string
	SetPrediction(ctx context.Context, label features.Label) error
}

// History records successful detections. Optional.
type History interface {
	InsertDetection(ctx context.Context, d *db.Detection) error
}

// Publisher pushes updates to a session's live views. Optional.
type Publisher interface {
	Publish(sessionID string, ev sse.Event)
}

// Field is one numeric input of the detection form.
type Field struct {
	Key   string  // form key
	Name  string  // feature name
	Value float64 // initial value: the column mean
	Hint  string
}

// Display renders the initial value rounded the way the form shows it.
func (f Field) Display() string { return strconv.FormatFloat(f.Value, 'f', 2, 64) }

// InputValue is the exact initial value, so an unchanged submit sends the
// mean itself rather than its rounded display.
func (f Field) InputValue() string { return strconv.FormatFloat(f.Value, 'f', -1, 64) }

// Controller owns the detect action. The predictor and table are shared
// read-only across sessions.
type Controller struct {
	predictor model.Predictor
	table     *dataset.Table
	history   History
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory stores every successful detection.
func WithHistory(h History) Option { return func(c *Controller) { c.history = h } }

// WithPublisher broadcasts every successful detection to the session.
func WithPublisher(p Publisher) Option { return func(c *Controller) { c.publisher = p } }

func NewController(p model.Predictor, table *dataset.Table, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{predictor: p, table: table, logger: logger, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FieldKey is the form key of the i-th feature. Feature names carry spaces
// and slashes, so the form uses positional keys.
func FieldKey(i int) string { return "f" + strconv.Itoa(i) }

// Fields returns one input per feature, pre-filled with the column mean.
func (c *Controller) Fields() []Field {
	defaults := c.table.Defaults()
	out := make([]Field, features.Count)
	for i, name := range features.Names {
		v, _ := defaults.Get(name)
		out[i] = Field{
			Key:   FieldKey(i),
			Name:  name,
			Value: v,
			Hint:  fmt.Sprintf("Average value: %.2f", v),
		}
	}
	return out
}

// ParseForm reads the submitted inputs. Blank or missing inputs fall back to
// the column mean; anything else must parse as a finite number.
func (c *Controller) ParseForm(values url.Values) (features.Record, error) {
	rec := c.table.Defaults()
	for i, name := range features.Names {
		raw := strings.TrimSpace(values.Get(FieldKey(i)))
		if raw == "" {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return rec, fmt.Errorf("%w for %q: %q", ErrCoercion, strings.TrimSpace(name), raw)
		}
		rec.Set(name, v)
	}
	return rec, nil
}

// ParseMap builds a record from name->value pairs. Missing names fall back to
// the column mean; unknown names are rejected.
func (c *Controller) ParseMap(m map[string]float64) (features.Record, error) {
	rec := c.table.Defaults()
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rec, fmt.Errorf("%w for %q", ErrCoercion, name)
		}
		if !rec.Set(name, v) {
			return rec, fmt.Errorf("unknown feature %q", name)
		}
	}
	return rec, nil
}

// Detect runs the model on rec and, on success, overwrites the session's
// prediction. On failure the session is left untouched.
func (c *Controller) Detect(ctx context.Context, st State, rec features.Record) (features.Label, error) {
	start := c.now()
	label, err := c.predictor.Predict(ctx, rec)
	if err != nil {
		c.logger.Warn("detection failed", "session_id", st.ID(), "err", err)
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if !label.Valid() {
		return 0, fmt.Errorf("%w: %w: %d", ErrInference, model.ErrUnknownLabel, int(label))
	}

	if err := st.SetPrediction(ctx, label); err != nil {
		return 0, fmt.Errorf("store prediction: %w", err)
	}

	cat, _ := features.Lookup(label)
	c.logger.Info("detection complete",
		"session_id", st.ID(),
		"label", int(label),
		"category", cat.Name,
		"elapsed_ms", c.now().Sub(start).Milliseconds(),
	)

	if c.history != nil {
		d := &db.Detection{
			SessionID: st.ID(),
			Label:     int(label),
			Category:  cat.Name,
			Features:  rec.Map(),
		}
		if err := c.history.InsertDetection(ctx, d); err != nil {
			c.logger.Error("record detection failed", "session_id", st.ID(), "err", err)
		}
	}
	if c.publisher != nil {
		c.publisher.Publish(st.ID(), sse.NewPredictionEvent(label, c.now()))
	}
	return label, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}
