package models

import (
	"time"
)

// Conversion statuses persisted in Postgres.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusDelivered = "delivered"
	StatusRefunded  = "refunded"
	StatusFailed    = "failed"
)

// Media kinds accepted by the converter.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Account is the durable ledger row for one user.
type Account struct {
	UserID           int64      `json:"user_id"`
	Username         string     `json:"username"`
	FullName         string     `json:"full_name"`
	Coins            int        `json:"coins"`
	AudioCount       int        `json:"audio_count"`
	VideoCount       int        `json:"video_count"`
	RegisteredAt     *time.Time `json:"registered_at,omitempty"`
	LastRewardDate   string     `json:"last_reward_date,omitempty"`
	DailyCount       int        `json:"daily_count"`
	DailyCountDate   string     `json:"daily_count_date,omitempty"`
	LastConversionAt *string    `json:"last_conversion_at,omitempty"`
}

// Conversion represents one paid conversion request. The id is assigned by
// Postgres (bigserial) so it is unique and monotonic across the ledger.
type Conversion struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Quality   int       `json:"quality"`
	Cost      int       `json:"cost"`
	Status    string    `json:"status"`
	Refunded  bool      `json:"refunded"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusDelivered, StatusRefunded, StatusFailed:
		return true
	}
	return false
}
