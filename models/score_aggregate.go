package models

import (
	"time"

	"gorm.io/gorm"
)

// ScoreAggregate is the per-user durable workout summary (denormalized for reads).
type ScoreAggregate struct {
	ExternalUserID string `gorm:"primaryKey" json:"external_user_id"`

	TotalReps           int64 `json:"total_reps" gorm:"default:0"`
	AverageFormAccuracy int64 `json:"average_form_accuracy" gorm:"default:0"` // percent, 0-100
	BestStreak          int64 `json:"best_streak" gorm:"default:0"`
	SessionsCompleted   int64 `json:"sessions_completed" gorm:"default:0"`

	// Credited from challenge bonus signals, kept apart from raw workout counters.
	BonusPoints int64 `json:"bonus_points" gorm:"default:0"`

	LastSessionAt *time.Time `json:"last_session_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
