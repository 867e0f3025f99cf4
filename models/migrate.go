package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScoreAggregate{},
		&WorkoutSession{},
		&Challenge{},
		&ChallengeCompletion{},
		&RandomnessRequest{},
		&SeasonalBonus{},
		&RegionalBonus{},
		&BonusSchedulerState{},
		&ChainConfig{},
		&FeeBudget{},
		&CrossChainScoreSnapshot{},
		&ProcessedMessage{},
		&CrossChainMessageRecord{},
		&EngineEvent{},
	)
}
