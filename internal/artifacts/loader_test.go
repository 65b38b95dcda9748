package artifacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nids-dash/nids-go/internal/features"
	"github.com/nids-dash/nids-go/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func datasetCSV(port string) string {
	header := strings.Join(features.Names[:], ",")
	vals := make([]string, features.Count)
	for i := range vals {
		vals[i] = "1"
	}
	vals[0] = port
	return header + "\n" + strings.Join(vals, ",") + "\n"
}

func TestLoaderMemoizesModel(t *testing.T) {
	var opens atomic.Int32
	l := New(Paths{Model: model.Options{Kind: "fake", Path: "m.json"}}, testLogger())
	l.openModel = func(context.Context, model.Options) (model.Predictor, error) {
		opens.Add(1)
		return &model.Loom{}, nil
	}

	var wg sync.WaitGroup
	results := make([]model.Predictor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := l.LoadModel(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	again, err := l.LoadModel(context.Background())
	require.NoError(t, err)
	for _, p := range results {
		assert.Same(t, again, p)
	}
	assert.EqualValues(t, 1, opens.Load())
}

func TestLoaderMemoizesDataset(t *testing.T) {
	var opens atomic.Int32
	l := New(Paths{Dataset: "data.csv"}, testLogger())
	l.openFile = func(name string) (io.ReadCloser, error) {
		assert.Equal(t, "data.csv", name)
		opens.Add(1)
		return io.NopCloser(strings.NewReader(datasetCSV("443"))), nil
	}

	first, err := l.LoadDataset(context.Background())
	require.NoError(t, err)
	second, err := l.LoadDataset(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, opens.Load())
	m, err := first.Mean("Port Number")
	require.NoError(t, err)
	assert.Equal(t, 443.0, m)
}

func TestLoaderCachesFailure(t *testing.T) {
	var opens atomic.Int32
	l := New(Paths{Model: model.Options{Path: "missing.json"}}, testLogger())
	l.openModel = func(context.Context, model.Options) (model.Predictor, error) {
		opens.Add(1)
		return nil, os.ErrNotExist
	}

	_, err := l.LoadModel(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), "missing.json")

	_, err = l.LoadModel(context.Background())
	assert.ErrorIs(t, err, ErrLoad)
	assert.EqualValues(t, 1, opens.Load())
}

func TestLoaderMissingDatasetFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Paths{Dataset: filepath.Join(dir, "nope.csv")}, testLogger())

	tbl, err := l.LoadDataset(context.Background())
	assert.Nil(t, tbl)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoaderMissingModelFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Paths{Model: model.Options{Kind: model.KindLoom, Path: filepath.Join(dir, "nope.json")}}, testLogger())

	p, err := l.LoadModel(context.Background())
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoadAllJoinsErrors(t *testing.T) {
	l := New(Paths{}, testLogger())
	l.openModel = func(context.Context, model.Options) (model.Predictor, error) {
		return nil, errors.New("bad model")
	}
	l.openFile = func(string) (io.ReadCloser, error) {
		return nil, errors.New("bad data")
	}

	_, _, err := l.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Contains(t, err.Error(), "bad data")
}

func TestLogoPath(t *testing.T) {
	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.webp")

	l := New(Paths{Logo: logo}, testLogger())
	_, ok := l.LogoPath()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(logo, []byte("RIFF"), 0o644))
	p, ok := l.LogoPath()
	assert.True(t, ok)
	assert.Equal(t, logo, p)
}

func TestLoaderRejectsNilPredictor(t *testing.T) {
	l := New(Paths{Model: model.Options{Kind: "fake", Path: "m.json"}}, testLogger())
	l.openModel = func(context.Context, model.Options) (model.Predictor, error) {
		return nil, nil
	}

	p, err := l.LoadModel(context.Background())
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorContains(t, err, "no predictor")

	_, err = l.LoadModel(context.Background())
	assert.ErrorIs(t, err, ErrLoad)
}
