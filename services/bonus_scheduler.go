// services/bonus_scheduler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MaxSeasonalBonusBps = 1500
	MaxRegionalBonusBps = 2000
	MaxRegionalDriftBps = 100
	MaxDayAdjustmentBps = 10

	WeatherUpdateInterval  = 6 * time.Hour
	SeasonalUpdateInterval = 24 * time.Hour

	schedulerStateID = 1
)

// RegionSeed describes a region installed at construction.
type RegionSeed struct {
	Name      string `yaml:"name" json:"name"`
	BaseBonus int64  `yaml:"base_bonus" json:"base_bonus"`
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// DefaultRegions is the region set seeded when none is configured.
var DefaultRegions = []RegionSeed{
	{Name: "North America", BaseBonus: 500},
	{Name: "Europe", BaseBonus: 600},
	{Name: "Asia Pacific", BaseBonus: 400},
	{Name: "South America", BaseBonus: 300},
	{Name: "Africa", BaseBonus: 350},
}

// WeatherReading is one normalized observation from a weather feed.
type WeatherReading struct {
	Region       string  `json:"region"`
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	UVIndex      float64 `json:"uv_index"`
	Condition    string  `json:"condition"`
}

// BaseSeasonalBonus follows a fixed calendar curve: winter highest, then summer,
// then the shoulder months around winter, everything else at the floor.
func BaseSeasonalBonus(month time.Month) int64 {
	switch month {
	case time.December, time.January, time.February:
		return 1000
	case time.June, time.July, time.August:
		return 800
	case time.March, time.November:
		return 500
	default:
		return 200
	}
}

// SeasonalBonusFor adds the day-of-month adjustment to the calendar curve.
func SeasonalBonusFor(t time.Time) int64 {
	adj := int64(t.Day() / 3)
	if adj > MaxDayAdjustmentBps {
		adj = MaxDayAdjustmentBps
	}
	return clampBps(BaseSeasonalBonus(t.Month())+adj, MaxSeasonalBonusBps)
}

// WeatherBonus sums the banded weather rules, capped at MaxRegionalBonusBps.
// Harsh weather earns more: the bonus rewards working out anyway.
func WeatherBonus(r WeatherReading) int64 {
	var total int64

	switch t := r.TemperatureC; {
	case t < 0:
		total += 500
	case t < 10:
		total += 300
	case t >= 35:
		total += 500
	case t >= 30:
		total += 300
	}

	switch h := r.HumidityPct; {
	case h >= 80:
		total += 300
	case h >= 60:
		total += 150
	}

	switch uv := r.UVIndex; {
	case uv >= 8:
		total += 400
	case uv >= 6:
		total += 200
	}

	cond := cases.Fold().String(r.Condition)
	switch {
	case strings.Contains(cond, "storm"), strings.Contains(cond, "thunder"):
		total += 600
	case strings.Contains(cond, "snow"), strings.Contains(cond, "sleet"):
		total += 500
	case strings.Contains(cond, "rain"), strings.Contains(cond, "drizzle"):
		total += 300
	case strings.Contains(cond, "fog"), strings.Contains(cond, "haze"):
		total += 100
	}

	return clampBps(total, MaxRegionalBonusBps)
}

// randomWalk moves base by at most MaxRegionalDriftBps in a seed-chosen direction.
func randomWalk(base int64, seed uint64) int64 {
	delta := int64(seed % (MaxRegionalDriftBps + 1))
	if (seed>>32)&1 == 1 {
		return clampBps(base+delta, MaxRegionalBonusBps)
	}
	return clampBps(base-delta, MaxRegionalBonusBps)
}

func clampBps(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// RegionID turns a display name into the region key ("North America" -> "north-america").
func RegionID(name string) string {
	return slug.Make(name)
}

// displayName title-cases a region name ("asia pacific" -> "Asia Pacific").
func displayName(name string) string {
	return cases.Title(language.English).String(strings.TrimSpace(name))
}

type BonusSchedulerConfig struct {
	Events  EventSink
	Auth    Authorizer
	Clock   clockwork.Clock
	Log     *utils.Logger
	Regions []RegionSeed // nil means DefaultRegions
	// Seasonal overrides applied at seed time only, month -> bps.
	Seasonal map[int]int64
}

// BonusScheduler owns the seasonal and regional bonus tables. It never runs on
// its own: an external driver polls IsUpdateDue and calls ApplyUpdate.
type BonusScheduler struct {
	DB *gorm.DB

	events EventSink
	auth   Authorizer
	clock  clockwork.Clock
	log    *utils.Logger
}

func NewBonusScheduler(ctx context.Context, db *gorm.DB, cfg BonusSchedulerConfig) (*BonusScheduler, error) {
	s := &BonusScheduler{DB: db, events: cfg.Events, auth: cfg.Auth, clock: cfg.Clock, log: utils.OrNop(cfg.Log)}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	regions := cfg.Regions
	if regions == nil {
		regions = DefaultRegions
	}
	if err := s.seed(ctx, regions, cfg.Seasonal); err != nil {
		return nil, fmt.Errorf("seed bonus tables: %w", err)
	}
	return s, nil
}

func (s *BonusScheduler) seed(ctx context.Context, regions []RegionSeed, seasonal map[int]int64) error {
	for m, bps := range seasonal {
		if m < 1 || m > 12 {
			return fmt.Errorf("%w: %d", ErrInvalidMonth, m)
		}
		if bps < 0 || bps > MaxSeasonalBonusBps {
			return fmt.Errorf("%w: month %d = %d bps", ErrInvalidBonus, m, bps)
		}
	}
	for _, r := range regions {
		if RegionID(r.Name) == "" {
			return fmt.Errorf("region name %q is empty", r.Name)
		}
		if r.BaseBonus < 0 || r.BaseBonus > MaxRegionalBonusBps {
			return fmt.Errorf("%w: region %s = %d bps", ErrInvalidBonus, r.Name, r.BaseBonus)
		}
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := models.BonusSchedulerState{ID: schedulerStateID, Enabled: true}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			return err
		}
		for m := 1; m <= 12; m++ {
			bps := BaseSeasonalBonus(time.Month(m))
			if v, ok := seasonal[m]; ok {
				bps = v
			}
			row := models.SeasonalBonus{Month: m, BonusBps: bps}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for _, r := range regions {
			enabled := true
			if r.Enabled != nil {
				enabled = *r.Enabled
			}
			row := models.RegionalBonus{
				RegionID:     RegionID(r.Name),
				DisplayName:  displayName(r.Name),
				BaseBonus:    r.BaseBonus,
				CurrentBonus: r.BaseBonus,
				Enabled:      enabled,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BonusScheduler) state(db *gorm.DB) (*models.BonusSchedulerState, error) {
	var st models.BonusSchedulerState
	if err := db.Where("id = ?", schedulerStateID).First(&st).Error; err != nil {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}
	return &st, nil
}

// State exposes the scheduler clocks and enabled flag.
func (s *BonusScheduler) State(ctx context.Context) (*models.BonusSchedulerState, error) {
	return s.state(s.DB.WithContext(ctx))
}

// IsUpdateDue compares elapsed time against the weather and seasonal intervals.
// A disabled scheduler is never due.
func (s *BonusScheduler) IsUpdateDue(ctx context.Context) (weatherDue, seasonalDue bool, err error) {
	st, err := s.State(ctx)
	if err != nil {
		return false, false, err
	}
	if !st.Enabled {
		return false, false, nil
	}
	now := s.clock.Now()
	return now.Sub(st.LastWeatherUpdate) >= WeatherUpdateInterval,
		now.Sub(st.LastSeasonalUpdate) >= SeasonalUpdateInterval,
		nil
}

// ApplyUpdate performs the flagged recomputations in one transaction.
func (s *BonusScheduler) ApplyUpdate(ctx context.Context, weatherDue, seasonalDue bool) error {
	if !weatherDue && !seasonalDue {
		return nil
	}
	now := s.clock.Now().UTC()

	var changed []models.EngineEvent
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed = changed[:0]
		st, err := s.state(tx)
		if err != nil {
			return err
		}

		if weatherDue {
			var regions []models.RegionalBonus
			if err := tx.Where("enabled = ?", true).Order("region_id ASC").Find(&regions).Error; err != nil {
				return err
			}
			for _, r := range regions {
				st.Nonce++
				next := randomWalk(r.BaseBonus, walkSeed(now.Unix(), st.Nonce, r.RegionID))
				if err := tx.Model(&models.RegionalBonus{}).
					Where("region_id = ?", r.RegionID).
					Update("current_bonus", next).Error; err != nil {
					return err
				}
				changed = append(changed, models.EngineEvent{
					Kind: models.EventBonusUpdated, Ref: "region:" + r.RegionID, Amount: next, Detail: "scheduled",
				})
			}
			st.LastWeatherUpdate = now
		}

		if seasonalDue {
			bps := SeasonalBonusFor(now)
			month := int(now.Month())
			if err := tx.Model(&models.SeasonalBonus{}).
				Where("month = ?", month).
				Update("bonus_bps", bps).Error; err != nil {
				return err
			}
			changed = append(changed, models.EngineEvent{
				Kind: models.EventBonusUpdated, Ref: fmt.Sprintf("month:%d", month), Amount: bps, Detail: "scheduled",
			})
			st.LastSeasonalUpdate = now
		}

		return tx.Save(st).Error
	})
	if err != nil {
		return err
	}

	s.log.Info("[Bonus] update applied", "weather", weatherDue, "seasonal", seasonalDue, "changes", len(changed))
	for _, ev := range changed {
		s.events.Emit(ctx, ev)
	}
	return nil
}

// ApplyWeatherFeed overwrites a region's current bonus from a weather reading
// and marks the weather side as freshly updated.
func (s *BonusScheduler) ApplyWeatherFeed(ctx context.Context, reading WeatherReading) (int64, error) {
	id := RegionID(reading.Region)
	bonus := WeatherBonus(reading)
	now := s.clock.Now().UTC()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RegionalBonus{}).
			Where("region_id = ?", id).
			Updates(map[string]interface{}{"current_bonus": bonus, "last_weather_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRegionNotFound, reading.Region)
		}
		return tx.Model(&models.BonusSchedulerState{}).
			Where("id = ?", schedulerStateID).
			Update("last_weather_update", now).Error
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("[Bonus] weather feed applied", "region", id, "bonus", bonus, "condition", reading.Condition)
	s.events.Emit(ctx, models.EngineEvent{Kind: models.EventBonusUpdated, Ref: "region:" + id, Amount: bonus, Detail: "weather"})
	return bonus, nil
}

// OnWorkoutSubmitted is a no-op: bonus tables move on the polling cadence only.
func (s *BonusScheduler) OnWorkoutSubmitted(context.Context, string, string) error {
	return nil
}

// --- reads ---

func (s *BonusScheduler) SeasonalBonus(ctx context.Context, month int) (int64, error) {
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	var row models.SeasonalBonus
	if err := s.DB.WithContext(ctx).Where("month = ?", month).First(&row).Error; err != nil {
		return 0, err
	}
	return row.BonusBps, nil
}

func (s *BonusScheduler) SeasonalTable(ctx context.Context) ([]models.SeasonalBonus, error) {
	var rows []models.SeasonalBonus
	err := s.DB.WithContext(ctx).Order("month ASC").Find(&rows).Error
	return rows, err
}

func (s *BonusScheduler) Regions(ctx context.Context) ([]models.RegionalBonus, error) {
	var rows []models.RegionalBonus
	err := s.DB.WithContext(ctx).Order("region_id ASC").Find(&rows).Error
	return rows, err
}

func (s *BonusScheduler) region(ctx context.Context, regionID string) (*models.RegionalBonus, error) {
	var row models.RegionalBonus
	err := s.DB.WithContext(ctx).Where("region_id = ?", RegionID(regionID)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, regionID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RegionalBonus returns the region's current bonus; disabled regions give 0.
func (s *BonusScheduler) RegionalBonus(ctx context.Context, regionID string) (int64, error) {
	r, err := s.region(ctx, regionID)
	if err != nil {
		return 0, err
	}
	if !r.Enabled {
		return 0, nil
	}
	return r.CurrentBonus, nil
}

// TotalBonusBps is the bonus a workout in region earns right now.
func (s *BonusScheduler) TotalBonusBps(ctx context.Context, regionID string) (int64, error) {
	seasonal, err := s.SeasonalBonus(ctx, int(s.clock.Now().Month()))
	if err != nil {
		return 0, err
	}
	regional, err := s.RegionalBonus(ctx, regionID)
	if err != nil {
		return 0, err
	}
	return seasonal + regional, nil
}

// --- admin ---

func (s *BonusScheduler) AddRegion(ctx context.Context, caller, name string, baseBonus int64) (*models.RegionalBonus, error) {
	if err := s.auth.Authorize(caller); err != nil {
		return nil, err
	}
	id := RegionID(name)
	if id == "" {
		return nil, fmt.Errorf("%w: empty region name", ErrRegionNotFound)
	}
	if baseBonus < 0 || baseBonus > MaxRegionalBonusBps {
		return nil, fmt.Errorf("%w: %d bps exceeds regional cap %d", ErrInvalidBonus, baseBonus, MaxRegionalBonusBps)
	}
	row := models.RegionalBonus{
		RegionID:     id,
		DisplayName:  displayName(name),
		BaseBonus:    baseBonus,
		CurrentBonus: baseBonus,
		Enabled:      true,
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRegionExists, id)
	}
	s.log.Info("[Bonus] region added", "region", id, "base", baseBonus)
	return &row, nil
}

// UpdateRegionBase changes the anchor of the random walk and resets the current value to it.
func (s *BonusScheduler) UpdateRegionBase(ctx context.Context, caller, regionID string, baseBonus int64) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	if baseBonus < 0 || baseBonus > MaxRegionalBonusBps {
		return fmt.Errorf("%w: %d bps exceeds regional cap %d", ErrInvalidBonus, baseBonus, MaxRegionalBonusBps)
	}
	return s.updateRegion(ctx, regionID, map[string]interface{}{"base_bonus": baseBonus, "current_bonus": baseBonus})
}

func (s *BonusScheduler) SetRegionEnabled(ctx context.Context, caller, regionID string, enabled bool) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	return s.updateRegion(ctx, regionID, map[string]interface{}{"enabled": enabled})
}

func (s *BonusScheduler) updateRegion(ctx context.Context, regionID string, fields map[string]interface{}) error {
	res := s.DB.WithContext(ctx).Model(&models.RegionalBonus{}).
		Where("region_id = ?", RegionID(regionID)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, regionID)
	}
	s.log.Info("[Bonus] region updated", "region", RegionID(regionID), "fields", fields)
	return nil
}

// SetSeasonalBonus overrides one month, within the same cap as the automatic path.
func (s *BonusScheduler) SetSeasonalBonus(ctx context.Context, caller string, month int, bps int64) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	if bps < 0 || bps > MaxSeasonalBonusBps {
		return fmt.Errorf("%w: %d bps exceeds seasonal cap %d", ErrInvalidBonus, bps, MaxSeasonalBonusBps)
	}
	if err := s.DB.WithContext(ctx).Model(&models.SeasonalBonus{}).
		Where("month = ?", month).
		Update("bonus_bps", bps).Error; err != nil {
		return err
	}
	s.events.Emit(ctx, models.EngineEvent{Kind: models.EventBonusUpdated, Ref: fmt.Sprintf("month:%d", month), Amount: bps, Detail: "override"})
	return nil
}

// SetEnabled toggles the whole scheduler.
func (s *BonusScheduler) SetEnabled(ctx context.Context, caller string, enabled bool) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Model(&models.BonusSchedulerState{}).
		Where("id = ?", schedulerStateID).
		Update("enabled", enabled).Error
}

func (s *BonusScheduler) ForceWeatherUpdate(ctx context.Context, caller string) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	return s.ApplyUpdate(ctx, true, false)
}

func (s *BonusScheduler) ForceSeasonalUpdate(ctx context.Context, caller string) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	return s.ApplyUpdate(ctx, false, true)
}
