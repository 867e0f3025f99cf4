package models

import "time"

// SeasonalBonus is the month-indexed bonus table (one row per month, 1-12).
type SeasonalBonus struct {
	Month     int       `gorm:"primaryKey;autoIncrement:false" json:"month"`
	BonusBps  int64     `gorm:"not null" json:"bonus_bps"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegionalBonus drifts around BaseBonus on scheduled updates or is replaced by
// a weather-derived value.
type RegionalBonus struct {
	RegionID      string     `gorm:"primaryKey" json:"region_id"`
	DisplayName   string     `gorm:"not null" json:"display_name"`
	BaseBonus     int64      `gorm:"not null" json:"base_bonus"`
	CurrentBonus  int64      `gorm:"not null" json:"current_bonus"`
	Enabled       bool       `gorm:"not null" json:"enabled"`
	LastWeatherAt *time.Time `json:"last_weather_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BonusSchedulerState is a singleton row (ID 1) with the scheduler's clocks.
type BonusSchedulerState struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	Enabled            bool      `gorm:"not null" json:"enabled"`
	LastWeatherUpdate  time.Time `json:"last_weather_update"`
	LastSeasonalUpdate time.Time `json:"last_seasonal_update"`
	Nonce              uint64    `json:"nonce"`
}
