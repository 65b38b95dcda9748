// Package artifacts loads the model and reference dataset once per process
// and hands the same instances to every caller afterwards.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nids-dash/nids-go/internal/dataset"
	"github.com/nids-dash/nids-go/internal/model"
)

// ErrLoad wraps every model or dataset load failure.
var ErrLoad = errors.New("artifact load failed")

// Paths locates the artifacts on disk, relative to the working directory.
type Paths struct {
	Model   model.Options
	Dataset string
	Logo    string
}

// Loader memoizes the model and the dataset. The first call to each loader
// method reads from disk; concurrent first callers share that read and every
// later call returns the cached value or the cached error.
type Loader struct {
	paths  Paths
	logger *slog.Logger

	// swapped in tests
	openModel func(ctx context.Context, opts model.Options) (model.Predictor, error)
	openFile  func(name string) (io.ReadCloser, error)

	group singleflight.Group

	mu         sync.Mutex
	modelDone  bool
	predictor  model.Predictor
	modelErr   error
	dataDone   bool
	table      *dataset.Table
	datasetErr error
}

// New creates a Loader. Nothing is read until LoadModel or LoadDataset is called.
func New(paths Paths, logger *slog.Logger) *Loader {
	return &Loader{
		paths:     paths,
		logger:    logger,
		openModel: model.Open,
		openFile:  func(name string) (io.ReadCloser, error) { return os.Open(name) },
	}
}

// LoadModel returns the process-wide predictor.
func (l *Loader) LoadModel(ctx context.Context) (model.Predictor, error) {
	l.mu.Lock()
	if l.modelDone {
		defer l.mu.Unlock()
		return l.predictor, l.modelErr
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("model", func() (any, error) {
		l.mu.Lock()
		if l.modelDone {
			defer l.mu.Unlock()
			return l.predictor, l.modelErr
		}
		l.mu.Unlock()

		p, err := l.openModel(context.WithoutCancel(ctx), l.paths.Model)
		if err == nil && p == nil {
			err = errors.New("no predictor returned")
		}
		if err != nil {
			err = fmt.Errorf("%w: model %s: %v", ErrLoad, l.modelLocation(), err)
			l.logger.Error("error loading model", "err", err)
			p = nil
		} else {
			l.logger.Info("model loaded", "kind", l.paths.Model.Kind, "location", l.modelLocation())
		}

		l.mu.Lock()
		l.modelDone, l.predictor, l.modelErr = true, p, err
		l.mu.Unlock()
		return p, err
	})
	if err != nil {
		return nil, err
	}
	p, ok := v.(model.Predictor)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: model %s: no predictor", ErrLoad, l.modelLocation())
	}
	return p, nil
}

// LoadDataset returns the process-wide reference table.
func (l *Loader) LoadDataset(ctx context.Context) (*dataset.Table, error) {
	l.mu.Lock()
	if l.dataDone {
		defer l.mu.Unlock()
		return l.table, l.datasetErr
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do("dataset", func() (any, error) {
		l.mu.Lock()
		if l.dataDone {
			defer l.mu.Unlock()
			return l.table, l.datasetErr
		}
		l.mu.Unlock()

		tbl, err := l.readDataset()
		if err == nil && tbl == nil {
			err = errors.New("no table returned")
		}
		if err != nil {
			err = fmt.Errorf("%w: dataset %s: %v", ErrLoad, l.paths.Dataset, err)
			l.logger.Error("error loading data", "err", err)
			tbl = nil
		} else {
			l.logger.Info("dataset loaded", "path", l.paths.Dataset, "rows", tbl.Len())
		}

		l.mu.Lock()
		l.dataDone, l.table, l.datasetErr = true, tbl, err
		l.mu.Unlock()
		return tbl, err
	})
	if err != nil {
		return nil, err
	}
	tbl, ok := v.(*dataset.Table)
	if !ok || tbl == nil {
		return nil, fmt.Errorf("%w: dataset %s: no table", ErrLoad, l.paths.Dataset)
	}
	return tbl, nil
}

// LoadAll loads both artifacts and joins their errors.
func (l *Loader) LoadAll(ctx context.Context) (model.Predictor, *dataset.Table, error) {
	p, mErr := l.LoadModel(ctx)
	t, dErr := l.LoadDataset(ctx)
	if err := errors.Join(mErr, dErr); err != nil {
		return nil, nil, err
	}
	return p, t, nil
}

// LogoPath returns the logo file if one exists.
func (l *Loader) LogoPath() (string, bool) {
	if l.paths.Logo == "" {
		return "", false
	}
	fi, err := os.Stat(l.paths.Logo)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return l.paths.Logo, true
}

func (l *Loader) readDataset() (*dataset.Table, error) {
	f, err := l.openFile(l.paths.Dataset)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dataset.Load(f)
}

func (l *Loader) modelLocation() string {
	if l.paths.Model.Kind == model.KindRemote {
		return l.paths.Model.URL
	}
	return l.paths.Model.Path
}
