// Package session scopes prediction state to one browser session. Each
// request carries its own *Session on the context; nothing about a prediction
// is held in process-global state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nids-dash/nids-go/internal/features"
)

const (
	Cookie        = "nids_sid"
	CookieMaxAge  = 7 * 24 * time.Hour
	cleanupPeriod = time.Hour
)

type ctxKey string

const sessionCtxKey ctxKey = "session"

// Session is the per-request handle on one session's state.
type Session struct {
	id    string
	store Store
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State reads the current snapshot.
func (s *Session) State(ctx context.Context) (*State, error) {
	return s.store.Get(ctx, s.id)
}

// Prediction returns the stored label, if any.
func (s *Session) Prediction(ctx context.Context) (features.Label, bool, error) {
	st, err := s.State(ctx)
	if err != nil {
		return 0, false, err
	}
	if st.Prediction == nil {
		return 0, false, nil
	}
	return *st.Prediction, true, nil
}

// SetPrediction overwrites the stored label.
func (s *Session) SetPrediction(ctx context.Context, label features.Label) error {
	return s.store.SetPrediction(ctx, s.id, label)
}

// Manager issues session cookies and resolves them against a Store.
type Manager struct {
	store       Store
	logger      *slog.Logger
	secure      bool // Secure cookie flag
	idleTimeout time.Duration
}

func NewManager(store Store, logger *slog.Logger, secure bool, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 24 * time.Hour
	}
	return &Manager{store: store, logger: logger, secure: secure, idleTimeout: idleTimeout}
}

// Load returns the session named by the request cookie, creating a fresh one
// (and setting the cookie) when there is none or it has expired.
func (m *Manager) Load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(Cookie); err == nil && cookie.Value != "" {
		st, err := m.store.Get(ctx, cookie.Value)
		if err == nil {
			return &Session{id: st.ID, store: m.store}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	st, err := m.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     Cookie,
		Value:    st.ID,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
	})
	m.logger.Debug("session created", "session_id", st.ID)
	return &Session{id: st.ID, store: m.store}, nil
}

// Middleware attaches the caller's session to the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Load(r.Context(), w, r)
		if err != nil {
			m.logger.Error("session load failed", "err", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"session unavailable"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
	})
}

// NewContext returns ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sess)
}

// FromContext extracts the session placed by Middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey).(*Session)
	return s
}

// CleanupLoop purges idle sessions every hour.
func (m *Manager) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := m.store.Cleanup(ctx, m.idleTimeout)
			if err != nil {
				m.logger.Error("session cleanup failed", "err", err)
				continue
			}
			if deleted > 0 {
				m.logger.Info("cleaned idle sessions", "count", deleted)
			}
		}
	}
}
