package models

import (
	"fmt"
	"time"
)

// ChallengeKind selects which session metric a daily challenge is judged on.
type ChallengeKind int

const (
	ChallengeReps ChallengeKind = iota
	ChallengeDuration
	ChallengeStreak
	ChallengeAccuracy
	ChallengeCombo
)

// ChallengeKindCount is the modulus used when deriving a kind from randomness.
const ChallengeKindCount = 5

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeReps:
		return "reps"
	case ChallengeDuration:
		return "duration"
	case ChallengeStreak:
		return "streak"
	case ChallengeAccuracy:
		return "accuracy"
	case ChallengeCombo:
		return "combo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Challenge is one generation of the daily challenge. Rows are never rewritten
// except for the Active flag; a new generation is inserted on replacement.
type Challenge struct {
	Generation      uint64        `gorm:"primaryKey;autoIncrement:false" json:"generation"`
	Kind            ChallengeKind `gorm:"not null" json:"kind"`
	Target          int64         `gorm:"not null" json:"target"`
	BonusMultiplier int64         `gorm:"not null" json:"bonus_multiplier"` // basis points
	Active          bool          `gorm:"not null" json:"active"`
	ExpiresAt       time.Time     `gorm:"not null" json:"expires_at"`
	RequestID       string        `gorm:"index" json:"request_id,omitempty"` // empty for the seeded default
	CreatedAt       time.Time     `json:"created_at"`
}

// IsActive reports whether the challenge can still be completed at now.
func (c Challenge) IsActive(now time.Time) bool {
	return c.Active && !now.After(c.ExpiresAt)
}

// ChallengeCompletion marks a user as done with a given generation. Completions
// from older generations are simply ignored.
type ChallengeCompletion struct {
	Generation     uint64    `gorm:"primaryKey;autoIncrement:false" json:"generation"`
	ExternalUserID string    `gorm:"primaryKey" json:"external_user_id"`
	SessionRef     string    `json:"session_ref"`
	BonusAmount    int64     `json:"bonus_amount"`
	CompletedAt    time.Time `json:"completed_at"`
}

type RandomnessStatus string

const (
	RandomnessPending   RandomnessStatus = "pending"
	RandomnessFulfilled RandomnessStatus = "fulfilled"
	RandomnessAbandoned RandomnessStatus = "abandoned"
)

// RandomnessRequest tracks an oracle request from dispatch to fulfillment.
type RandomnessRequest struct {
	ID          string           `gorm:"primaryKey" json:"id"`
	Status      RandomnessStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Reason      string           `gorm:"type:varchar(32)" json:"reason"` // expired, stale, operator
	RequestedAt time.Time        `gorm:"not null" json:"requested_at"`
	FulfilledAt *time.Time       `json:"fulfilled_at,omitempty"`
}
