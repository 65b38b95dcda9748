package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nids-dash/nids-go/internal/features"
)

const (
	defaultRemoteTimeout = 10 * time.Second
	maxRemoteResponse    = 1 << 20 // 1 MiB
)

// Remote calls an HTTP inference sidecar, for example one that serves a
// pickled scikit-learn estimator. The request body is a single-row table in
// pandas "split" orientation:
//
//	{"columns": [...31 names...], "data": [[...31 values...]]}
//
// and the response is {"prediction": [label]}.
type Remote struct {
	url    string
	client *http.Client
}

type remoteRequest struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

type remoteResponse struct {
	Prediction []int  `json:"prediction"`
	Error      string `json:"error,omitempty"`
}

// NewRemote validates endpoint and returns a Remote predictor.
func NewRemote(_ context.Context, endpoint string, timeout time.Duration) (*Remote, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("remote model: url not configured")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote model: invalid url %q", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{url: endpoint, client: &http.Client{Timeout: timeout}}, nil
}

// Predict posts rec and returns the first element of the prediction array.
func (r *Remote) Predict(ctx context.Context, rec features.Record) (features.Label, error) {
	body, err := json.Marshal(remoteRequest{
		Columns: features.Names[:],
		Data:    [][]float64{rec.Values()},
	})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	var out remoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("inference API error: %d", resp.StatusCode)
		}
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return 0, fmt.Errorf("inference API error: %d: %s", resp.StatusCode, out.Error)
		}
		return 0, fmt.Errorf("inference API error: %d", resp.StatusCode)
	}
	if len(out.Prediction) == 0 {
		return 0, fmt.Errorf("inference API returned an empty prediction")
	}
	return features.Label(out.Prediction[0]), nil
}
