package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/nids-dash/nids-go/internal/db"
	"github.com/nids-dash/nids-go/internal/features"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// State is a snapshot of one session's prediction state. Prediction is nil
// until the first successful detection.
type State struct {
	ID         string
	Prediction *features.Label
	CreatedAt  time.Time
	LastSeen   time.Time
}

// Store persists per-session state.
type Store interface {
	Create(ctx context.Context) (*State, error)
	// Get returns the session and marks it as seen.
	Get(ctx context.Context, id string) (*State, error)
	SetPrediction(ctx context.Context, id string, label features.Label) error
	// Cleanup deletes sessions idle for longer than idle.
	Cleanup(ctx context.Context, idle time.Duration) (int64, error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*State
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*State), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context) (*State, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	s := &State{ID: id, CreatedAt: now, LastSeen: now}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.LastSeen = m.now()
	return s.clone(), nil
}

func (m *MemoryStore) SetPrediction(_ context.Context, id string, label features.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	l := label
	s.Prediction = &l
	s.LastSeen = m.now()
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context, idle time.Duration) (int64, error) {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (s *State) clone() *State {
	c := *s
	if s.Prediction != nil {
		l := *s.Prediction
		c.Prediction = &l
	}
	return &c
}

func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// PGStore keeps sessions in PostgreSQL so they survive restarts.
type PGStore struct {
	db *db.DB
}

// NewPGStore wraps an open database.
func NewPGStore(database *db.DB) *PGStore {
	return &PGStore{db: database}
}

func (p *PGStore) Create(ctx context.Context) (*State, error) {
	row, err := p.db.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

func (p *PGStore) Get(ctx context.Context, id string) (*State, error) {
	if !looksLikeUUID(id) {
		return nil, ErrNotFound
	}
	row, err := p.db.TouchSession(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromRow(row), nil
}

func (p *PGStore) SetPrediction(ctx context.Context, id string, label features.Label) error {
	err := p.db.SetSessionPrediction(ctx, id, int(label))
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *PGStore) Cleanup(ctx context.Context, idle time.Duration) (int64, error) {
	return p.db.CleanIdleSessions(ctx, time.Now().Add(-idle))
}

func fromRow(row *db.Session) *State {
	s := &State{ID: row.ID, CreatedAt: row.CreatedAt, LastSeen: row.LastSeen}
	if row.Prediction != nil {
		l := features.Label(*row.Prediction)
		s.Prediction = &l
	}
	return s
}

// looksLikeUUID rejects cookie values that would make the uuid cast fail.
func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
				return false
			}
		}
	}
	return true
}
