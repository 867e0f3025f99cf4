package models

import "time"

// WorkoutSession records a single camera-tracked workout.
type WorkoutSession struct {
	ID             string `gorm:"primaryKey" json:"id"`
	ExternalUserID string `gorm:"index;not null" json:"external_user_id"`

	Reps         int64 `json:"reps"`
	DurationSec  int64 `json:"duration_sec"`
	FormAccuracy int64 `json:"form_accuracy"` // percent, 0-100
	Streak       int64 `json:"streak"`

	// Where the session came from: "api" or "sync".
	Source     string    `gorm:"type:varchar(16);default:'api'" json:"source"`
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`

	Timestamps
}
