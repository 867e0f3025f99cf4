// models/event.go
package models

import "time"

type EventKind string

const (
	EventChallengeRequested EventKind = "challenge_requested"
	EventChallengeGenerated EventKind = "challenge_generated"
	// EventChallengeCompleted is the bonus-earned signal; Amount holds the bonus.
	EventChallengeCompleted EventKind = "challenge_completed"
	EventBonusUpdated       EventKind = "bonus_updated"
	EventScoreSent          EventKind = "score_sent"
	EventScoreReceived      EventKind = "score_received"
)

// EngineEvent is an append-only record of something the engine did.
type EngineEvent struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind           EventKind `gorm:"type:varchar(32);index;not null" json:"kind"`
	ExternalUserID string    `gorm:"index" json:"external_user_id,omitempty"`
	Ref            string    `gorm:"index" json:"ref,omitempty"` // request id, message id, region id...
	Amount         int64     `json:"amount"`
	Detail         string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
