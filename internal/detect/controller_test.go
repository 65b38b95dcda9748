package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/model"
	"github.com/nids-dash/nids-go/internal/sse"
)

type fakeState struct {
	id    string
	label *features.Label
	err   error
}

func (f *fakeState) ID() string { return f.id }

func (f *fakeState) SetPrediction(_ context.Context, l features.Label) error {
	if f.err != nil {
		return f.err
	}
	f.label = &l
	return nil
}

type recordingHistory struct {
	mu   sync.Mutex
	rows []*db.Detection
}

func (h *recordingHistory) InsertDetection(_ context.Context, d *db.Detection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, d)
	return nil
}

type recordingPublisher struct {
	sessions []string
	events   []sse.Event
}

func (p *recordingPublisher) Publish(id string, ev sse.Event) {
	p.sessions = append(p.sessions, id)
	p.events = append(p.events, ev)
}

// testTable has "Port Number" averaging 443 and every other feature at 2.5.
func testTable(t *testing.T) *dataset.Table {
	t.Helper()
	header := strings.Join(features.Names[:], ",")
	row := func(port, rest string) string {
		vals := make([]string, features.Count)
		for i := range vals {
			vals[i] = rest
		}
		vals[0] = port
		return strings.Join(vals, ",")
	}
	csv := header + "\n" + row("400", "2") + "\n" + row("486", "3") + "\n"
	tbl, err := dataset.Load(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type capturePredictor struct {
	label features.Label
	err   error
	got   []features.Record
}

func (c *capturePredictor) Predict(_ context.Context, rec features.Record) (features.Label, error) {
	c.got = append(c.got, rec)
	return c.label, c.err
}

func TestFieldsDefaultToColumnMeans(t *testing.T) {
	c := NewController(&capturePredictor{}, testTable(t), logger())
	fields := c.Fields()
	require.Len(t, fields, features.Count)

	for i, f := range fields {
		assert.Equal(t, features.Names[i], f.Name)
		assert.Equal(t, FieldKey(i), f.Key)
	}
	assert.Equal(t, 443.0, fields[0].Value)
	assert.Equal(t, "443.00", fields[0].Display())
	assert.Equal(t, "443", fields[0].InputValue())
	assert.Equal(t, "Average value: 443.00", fields[0].Hint)
	assert.Equal(t, "Average value: 2.50", fields[5].Hint)
	assert.Equal(t, "2.5", fields[5].InputValue())
}

func TestUnchangedFormSubmitsMeans(t *testing.T) {
	p := &capturePredictor{label: features.LabelLegitimate}
	c := NewController(p, testTable(t), logger())

	form := url.Values{}
	for _, f := range c.Fields() {
		form.Set(f.Key, f.InputValue())
	}
	rec, err := c.ParseForm(form)
	require.NoError(t, err)

	st := &fakeState{id: "s1"}
	_, err = c.Detect(context.Background(), st, rec)
	require.NoError(t, err)

	require.Len(t, p.got, 1)
	port, _ := p.got[0].Get("Port Number")
	assert.Equal(t, 443.0, port)
	assert.Equal(t, p.got[0].Values(), c.table.Defaults().Values())
}

func TestParseForm(t *testing.T) {
	c := NewController(&capturePredictor{}, testTable(t), logger())

	rec, err := c.ParseForm(url.Values{"f0": {" 8080 "}, "f16": {"-1.5e2"}})
	require.NoError(t, err)
	v, _ := rec.Get("Port Number")
	assert.Equal(t, 8080.0, v)
	v, _ = rec.Get(" Delta Packets Tx Dropped")
	assert.Equal(t, -150.0, v)
	v, _ = rec.Get("Max Size")
	assert.Equal(t, 2.5, v, "missing inputs fall back to the mean")

	for _, bad := range []string{"abc", "NaN", "Inf", "1,5"} {
		_, err = c.ParseForm(url.Values{"f3": {bad}})
		assert.ErrorIs(t, err, ErrCoercion, bad)
	}
	_, err = c.ParseForm(url.Values{"f16": {"x"}})
	assert.ErrorContains(t, err, `"Delta Packets Tx Dropped"`)
}

func TestParseMap(t *testing.T) {
	c := NewController(&capturePredictor{}, testTable(t), logger())

	rec, err := c.ParseMap(map[string]float64{"Port Number": 22})
	require.NoError(t, err)
	v, _ := rec.Get("Port Number")
	assert.Equal(t, 22.0, v)
	v, _ = rec.Get("Sent Bytes")
	assert.Equal(t, 2.5, v)

	_, err = c.ParseMap(map[string]float64{"Port": 22})
	assert.ErrorContains(t, err, "unknown feature")
}

func TestDetectStoresAndOverwrites(t *testing.T) {
	p := &capturePredictor{label: features.LabelDDoS}
	hist := &recordingHistory{}
	pub := &recordingPublisher{}
	c := NewController(p, testTable(t), logger(), WithHistory(hist), WithPublisher(pub))
	st := &fakeState{id: "s1"}

	l, err := c.Detect(context.Background(), st, c.table.Defaults())
	require.NoError(t, err)
	assert.Equal(t, features.LabelDDoS, l)
	require.NotNil(t, st.label)
	assert.Equal(t, features.LabelDDoS, *st.label)

	p.label = features.LabelLegitimate
	_, err = c.Detect(context.Background(), st, c.table.Defaults())
	require.NoError(t, err)
	assert.Equal(t, features.LabelLegitimate, *st.label)

	require.Len(t, hist.rows, 2)
	assert.Equal(t, "s1", hist.rows[0].SessionID)
	assert.Equal(t, 1, hist.rows[0].Label)
	assert.Equal(t, "DDoS ATTACK DETECTED", hist.rows[0].Category)
	assert.Equal(t, 443.0, hist.rows[0].Features["Port Number"])

	assert.Equal(t, []string{"s1", "s1"}, pub.sessions)
	assert.Equal(t, "prediction", pub.events[1].Type)
}

func TestDetectFailureLeavesStateUnchanged(t *testing.T) {
	prior := features.LabelReconnaissance
	st := &fakeState{id: "s1", label: &prior}

	boom := errors.New("shape mismatch")
	c := NewController(&capturePredictor{err: boom}, testTable(t), logger())
	_, err := c.Detect(context.Background(), st, c.table.Defaults())
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, features.LabelReconnaissance, *st.label)

	bad := model.Checked(model.PredictorFunc(func(context.Context, features.Record) (features.Label, error) {
		return 9, nil
	}))
	c = NewController(bad, testTable(t), logger())
	_, err = c.Detect(context.Background(), st, c.table.Defaults())
	assert.ErrorIs(t, err, model.ErrUnknownLabel)
	assert.Equal(t, features.LabelReconnaissance, *st.label)

	fresh := &fakeState{id: "s2"}
	_, err = c.Detect(context.Background(), fresh, c.table.Defaults())
	assert.Error(t, err)
	assert.Nil(t, fresh.label)
}

func TestDetectStoreFailure(t *testing.T) {
	c := NewController(&capturePredictor{label: 2}, testTable(t), logger())
	_, err := c.Detect(context.Background(), &fakeState{id: "s", err: errors.New("gone")}, c.table.Defaults())
	assert.ErrorContains(t, err, "store prediction: gone")
}
