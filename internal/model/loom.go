package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfluke/loom/nn"

	"github.com/nids-dash/nids-go/internal/features"
)

// DefaultLoomID is the network id used when the bundle id is not configured.
const DefaultLoomID = "network_intrusion_detection"

// Loom runs a loom network saved with SaveModel. The network's output layer
// has one unit per label; the predicted label is the argmax.
type Loom struct {
	mu  sync.Mutex // forward passes reuse layer buffers
	net *nn.Network
}

// OpenLoom loads a loom model bundle from path.
func OpenLoom(path, id string) (*Loom, error) {
	if id == "" {
		id = DefaultLoomID
	}
	net, err := nn.LoadModel(path, id)
	if err != nil {
		return nil, fmt.Errorf("load loom model %s: %w", path, err)
	}
	net.BatchSize = 1
	return &Loom{net: net}, nil
}

// Predict runs one forward pass.
func (l *Loom) Predict(ctx context.Context, rec features.Record) (features.Label, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	vals := rec.Values()
	input := make([]float32, len(vals))
	for i, v := range vals {
		input[i] = float32(v)
	}

	l.mu.Lock()
	output, _ := l.net.ForwardCPU(input)
	l.mu.Unlock()

	idx, err := argmax(output)
	if err != nil {
		return 0, err
	}
	return features.Label(idx), nil
}

func argmax(out []float32) (int, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("model produced no output")
	}
	best := 0
	for i, v := range out {
		if v != v {
			return 0, fmt.Errorf("model output %d is NaN", i)
		}
		if v > out[best] {
			best = i
		}
	}
	return best, nil
}
