package db

import "time"

type Session struct {
	ID         string    `json:"id"`
	Prediction *int      `json:"prediction,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

type Detection struct {
	ID        int64              `json:"id"`
	SessionID string             `json:"session_id"`
	Label     int                `json:"label"`
	Category  string             `json:"category"`
	Features  map[string]float64 `json:"features"`
	CreatedAt time.Time          `json:"created_at"`
}
