// Package model adapts serialized classifiers to a single Predict call.
// The concrete artifact format is chosen by kind; callers only see Predictor.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nids-dash/nids-go/internal/features"
)

var (
	// ErrUnknownLabel is returned when a model emits a class outside the catalog.
	ErrUnknownLabel = errors.New("model returned unknown label")
	// ErrUnknownKind is returned by Open for an unsupported artifact kind.
	ErrUnknownKind = errors.New("unknown model kind")
)

// Predictor classifies a single row of traffic features.
type Predictor interface {
	Predict(ctx context.Context, rec features.Record) (features.Label, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, rec features.Record) (features.Label, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, rec features.Record) (features.Label, error) {
	return f(ctx, rec)
}

// Kinds of artifact understood by Open.
const (
	KindLoom   = "loom"
	KindRemote = "remote"
)

// Options configures Open.
type Options struct {
	Kind    string
	Path    string        // artifact path for file-backed kinds
	URL     string        // endpoint for KindRemote
	ID      string        // network id inside a loom bundle
	Timeout time.Duration // per-request timeout for KindRemote
}

// Open builds a predictor for the configured artifact kind.
func Open(ctx context.Context, opts Options) (Predictor, error) {
	var (
		p   Predictor
		err error
	)
	switch opts.Kind {
	case KindLoom, "":
		p, err = OpenLoom(opts.Path, opts.ID)
	case KindRemote:
		p, err = NewRemote(ctx, opts.URL, opts.Timeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	return Checked(p), nil
}

// Checked wraps p so any label outside the catalog fails the call.
func Checked(p Predictor) Predictor {
	return PredictorFunc(func(ctx context.Context, rec features.Record) (features.Label, error) {
		l, err := p.Predict(ctx, rec)
		if err != nil {
			return 0, err
		}
		if !l.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrUnknownLabel, int(l))
		}
		return l, nil
	})
}
