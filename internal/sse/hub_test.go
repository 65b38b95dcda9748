package sse

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nids-dash/nids-go/internal/features"
)

func TestHubRoutesBySession(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	a, cancelA := hub.Subscribe("a")
	defer cancelA()
	b, cancelB := hub.Subscribe("b")
	defer cancelB()

	at := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	hub.Publish("a", NewPredictionEvent(features.LabelDDoS, at))

	select {
	case ev := <-a:
		assert.Equal(t, "prediction", ev.Type)
		var p PredictionPayload
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		assert.Equal(t, 1, p.Label)
		assert.Equal(t, "DDoS ATTACK DETECTED", p.Category)
		assert.False(t, p.Benign)
		assert.True(t, p.At.Equal(at))
	case <-time.After(time.Second):
		t.Fatal("subscriber a got nothing")
	}

	select {
	case ev := <-b:
		t.Fatalf("subscriber b got %s", ev.Type)
	default:
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch, cancel := hub.Subscribe("s")
	assert.Equal(t, 1, hub.SubscriberCount("s"))

	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("s"))
	_, open := <-ch
	assert.False(t, open)

	// publishing with no listeners is a no-op
	hub.Publish("s", NewPredictionEvent(features.LabelLegitimate, time.Now()))
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch, cancel := hub.Subscribe("s")
	defer cancel()

	for i := 0; i < 40; i++ {
		hub.Publish("s", NewPredictionEvent(features.LabelLegitimate, time.Now()))
	}
	assert.Len(t, ch, cap(ch))
}
