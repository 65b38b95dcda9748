package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nids-dash/nids-go/internal/features"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	st, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, st.ID, 32)
	assert.Nil(t, st.Prediction)

	require.NoError(t, store.SetPrediction(ctx, st.ID, features.LabelDDoS))
	got, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Prediction)
	assert.Equal(t, features.LabelDDoS, *got.Prediction)

	require.NoError(t, store.SetPrediction(ctx, st.ID, features.LabelLegitimate))
	got, err = store.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, features.LabelLegitimate, *got.Prediction)

	// snapshots do not alias the stored state
	*got.Prediction = features.LabelBufferOverflow
	again, _ := store.Get(ctx, st.ID)
	assert.Equal(t, features.LabelLegitimate, *again.Prediction)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetPrediction(ctx, "missing", 1), ErrNotFound)
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	old, _ := store.Create(ctx)
	now = now.Add(2 * time.Hour)
	fresh, _ := store.Create(ctx)

	n, err := store.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMiddlewareIsolatesSessions(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, testLogger(), false, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		sess := FromContext(r.Context())
		require.NotNil(t, sess)
		require.NoError(t, sess.SetPrediction(r.Context(), features.LabelReconnaissance))
	})
	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		l, ok, err := FromContext(r.Context()).Prediction(r.Context())
		require.NoError(t, err)
		if !ok {
			w.Write([]byte("none"))
			return
		}
		w.Write([]byte(l.String()))
	})
	h := mgr.Middleware(mux)

	do := func(path string, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		for _, c := range rec.Result().Cookies() {
			if c.Name == Cookie {
				return rec, c
			}
		}
		return rec, cookie
	}

	_, alice := do("/get", nil)
	require.NotNil(t, alice)
	_, bob := do("/get", nil)
	require.NotNil(t, bob)
	assert.NotEqual(t, alice.Value, bob.Value)
	assert.True(t, alice.HttpOnly)

	do("/set", alice)

	rec, _ := do("/get", alice)
	assert.Equal(t, "RECONNAISSANCE DETECTED", rec.Body.String())
	rec, _ = do("/get", bob)
	assert.Equal(t, "none", rec.Body.String())
	assert.Equal(t, 2, store.Len())
}

func TestMiddlewareReplacesUnknownCookie(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, testLogger(), true, 0)
	h := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(FromContext(r.Context()).ID()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: Cookie, Value: "stale"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
	assert.NotEqual(t, "stale", cookies[0].Value)
	assert.Equal(t, cookies[0].Value, rec.Body.String())
}

func TestLooksLikeUUID(t *testing.T) {
	assert.True(t, looksLikeUUID("3f2504e0-4f89-11d3-9a0c-0305e82c3301"))
	assert.False(t, looksLikeUUID("3f2504e04f8911d39a0c0305e82c3301"))
	assert.False(t, looksLikeUUID("zz2504e0-4f89-11d3-9a0c-0305e82c3301"))
}
