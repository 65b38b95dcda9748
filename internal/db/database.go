package db

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a queried entity does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool and provides the session and detection
// history queries.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates a new DB instance, connects to PostgreSQL, and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Migrate reads and executes the embedded SQL migration files.
func (db *DB) Migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	db.logger.Info("database migrated")
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession inserts a new anonymous session and returns it.
func (db *DB) CreateSession(ctx context.Context) (*Session, error) {
	var s Session
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO sessions DEFAULT VALUES RETURNING id::text, prediction, created_at, last_seen`,
	).Scan(&s.ID, &s.Prediction, &s.CreatedAt, &s.LastSeen)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession bumps last_seen and returns the session.
func (db *DB) TouchSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	err := db.Pool.QueryRow(ctx,
		`UPDATE sessions SET last_seen = NOW() WHERE id = $1
		 RETURNING id::text, prediction, created_at, last_seen`, sessionID,
	).Scan(&s.ID, &s.Prediction, &s.CreatedAt, &s.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// SetSessionPrediction overwrites the stored prediction of a session.
func (db *DB) SetSessionPrediction(ctx context.Context, sessionID string, label int) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE sessions SET prediction = $1, last_seen = NOW() WHERE id = $2`, label, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanIdleSessions removes sessions not seen since before cutoff.
func (db *DB) CleanIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM sessions WHERE last_seen < $1`, cutoff)
	return tag.RowsAffected(), err
}

// ---------------------------------------------------------------------------
// Detections
// ---------------------------------------------------------------------------

// InsertDetection records one successful inference.
func (db *DB) InsertDetection(ctx context.Context, d *Detection) error {
	payload, err := json.Marshal(d.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	return db.Pool.QueryRow(ctx,
		`INSERT INTO detections (session_id, label, category, features)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		d.SessionID, d.Label, d.Category, payload,
	).Scan(&d.ID, &d.CreatedAt)
}

// GetRecentDetections returns the newest detections of a session.
func (db *DB) GetRecentDetections(ctx context.Context, sessionID string, limit int) ([]Detection, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, session_id::text, label, category, features, created_at
		 FROM detections WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Detection
	for rows.Next() {
		var d Detection
		var payload []byte
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Label, &d.Category, &payload, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &d.Features); err != nil {
			return nil, fmt.Errorf("decode features of detection %d: %w", d.ID, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountDetectionsByLabel returns how often each label was predicted.
func (db *DB) CountDetectionsByLabel(ctx context.Context) (map[int]int64, error) {
	rows, err := db.Pool.Query(ctx, `SELECT label, COUNT(*) FROM detections GROUP BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int]int64)
	for rows.Next() {
		var label int
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}
