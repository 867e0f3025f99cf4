// models/crosschain.go
package models

import "time"

// ChainConfig is the whitelist entry for a remote chain.
type ChainConfig struct {
	Selector      uint64    `gorm:"primaryKey;autoIncrement:false" json:"selector"`
	DisplayName   string    `gorm:"type:varchar(64);not null" json:"display_name"`
	Enabled       bool      `gorm:"not null" json:"enabled"`
	ComputeBudget uint64    `gorm:"not null" json:"compute_budget"` // gas limit handed to the transport
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FeeBudget is a singleton row (ID 1) holding the local balance used to pay
// cross-chain delivery fees.
type FeeBudget struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Balance   uint64    `gorm:"not null" json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CrossChainScoreSnapshot mirrors a user's aggregate as reported by a remote chain.
// Overwritten wholesale on each accepted inbound message.
type CrossChainScoreSnapshot struct {
	ExternalUserID      string    `gorm:"primaryKey" json:"external_user_id"`
	ChainSelector       uint64    `gorm:"primaryKey;autoIncrement:false" json:"chain_selector"`
	TotalReps           int64     `json:"total_reps"`
	AverageFormAccuracy int64     `json:"average_form_accuracy"`
	BestStreak          int64     `json:"best_streak"`
	SessionsCompleted   int64     `json:"sessions_completed"`
	LastUpdated         time.Time `json:"last_updated"`
	MessageID           string    `json:"message_id"`
}

// ProcessedMessage is the dedup set for inbound deliveries.
type ProcessedMessage struct {
	MessageID   string    `gorm:"primaryKey" json:"message_id"`
	SourceChain uint64    `gorm:"index;not null" json:"source_chain"`
	ProcessedAt time.Time `json:"processed_at"`
}

type MessageDirection string

const (
	DirectionSent     MessageDirection = "sent"
	DirectionReceived MessageDirection = "received"
)

// CrossChainMessageRecord is the audit trail of sends and accepted receipts.
type CrossChainMessageRecord struct {
	ID             string           `gorm:"primaryKey" json:"id"`
	MessageID      string           `gorm:"index;not null" json:"message_id"`
	Direction      MessageDirection `gorm:"type:varchar(16);not null" json:"direction"`
	ChainSelector  uint64           `gorm:"index;not null" json:"chain_selector"`
	ExternalUserID string           `gorm:"index;not null" json:"external_user_id"`
	SessionRef     string           `gorm:"index" json:"session_ref,omitempty"`
	Fee            uint64           `json:"fee"`
	CreatedAt      time.Time        `json:"created_at"`
}
