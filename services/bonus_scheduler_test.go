package services

import (
	"context"
	"testing"
	"time"

	"fitness-score-engine/models"

	"github.com/jonboulle/clockwork"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, at time.Time) (*BonusScheduler, *clockwork.FakeClock, *EventLog) {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(at)
	events := NewEventLog(db, nil)
	s, err := NewBonusScheduler(context.Background(), db, BonusSchedulerConfig{
		Events: events,
		Auth:   NewAuthorizer(testOperator),
		Clock:  clock,
	})
	require.NoError(t, err)
	return s, clock, events
}

func assertBonusBounds(t *testing.T, s *BonusScheduler) {
	t.Helper()
	ctx := context.Background()
	rows, err := s.SeasonalTable(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 12)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.BonusBps, int64(0))
		assert.LessOrEqual(t, r.BonusBps, int64(MaxSeasonalBonusBps))
	}
	regions, err := s.Regions(ctx)
	require.NoError(t, err)
	for _, r := range regions {
		assert.GreaterOrEqual(t, r.CurrentBonus, int64(0), r.RegionID)
		assert.LessOrEqual(t, r.CurrentBonus, int64(MaxRegionalBonusBps), r.RegionID)
	}
}

func TestBonusScheduler_Seeds(t *testing.T) {
	s, _, _ := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	regions, err := s.Regions(ctx)
	require.NoError(t, err)
	require.Len(t, regions, len(DefaultRegions))
	assert.Equal(t, "africa", regions[0].RegionID)

	na, err := s.RegionalBonus(ctx, "north-america")
	require.NoError(t, err)
	assert.Equal(t, int64(500), na)

	jan, err := s.SeasonalBonus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), jan)
	jul, err := s.SeasonalBonus(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(800), jul)
	apr, err := s.SeasonalBonus(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(200), apr)
}

func TestBonusScheduler_DecemberSeasonalUpdate(t *testing.T) {
	for _, day := range []int{1, 10, 31} {
		at := time.Date(2025, time.December, day, 9, 0, 0, 0, time.UTC)
		s, _, _ := newTestScheduler(t, at)
		ctx := context.Background()

		require.NoError(t, s.ForceSeasonalUpdate(ctx, testOperator))

		got, err := s.SeasonalBonus(ctx, 12)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, int64(1000), "day %d", day)
		assert.LessOrEqual(t, got, int64(1010), "day %d", day)
	}
}

func TestBonusScheduler_IsUpdateDue(t *testing.T) {
	s, clock, _ := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	w, sea, err := s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.True(t, w)
	assert.True(t, sea)

	require.NoError(t, s.ApplyUpdate(ctx, w, sea))
	w, sea, err = s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.False(t, w)
	assert.False(t, sea)

	clock.Advance(WeatherUpdateInterval)
	w, sea, err = s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.True(t, w)
	assert.False(t, sea)

	require.NoError(t, s.ApplyUpdate(ctx, true, false))
	clock.Advance(SeasonalUpdateInterval - WeatherUpdateInterval)
	w, sea, err = s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.True(t, w)
	assert.True(t, sea)

	require.NoError(t, s.SetEnabled(ctx, testOperator, false))
	clock.Advance(48 * time.Hour)
	w, sea, err = s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.False(t, w)
	assert.False(t, sea)
}

func TestBonusScheduler_ApplyUpdateNoop(t *testing.T) {
	s, _, events := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	require.NoError(t, s.ApplyUpdate(ctx, false, false))
	st, err := s.State(ctx)
	require.NoError(t, err)
	assert.True(t, st.LastWeatherUpdate.IsZero())
	assert.Zero(t, countEvents(t, events, models.EventBonusUpdated, ""))
}

func TestBonusScheduler_RandomWalkStaysNearBase(t *testing.T) {
	s, clock, _ := newTestScheduler(t, testEpoch)
	ctx := context.Background()
	require.NoError(t, s.SetRegionEnabled(ctx, testOperator, "africa", false))

	for i := 0; i < 40; i++ {
		require.NoError(t, s.ApplyUpdate(ctx, true, i%4 == 0))
		clock.Advance(WeatherUpdateInterval)

		regions, err := s.Regions(ctx)
		require.NoError(t, err)
		for _, r := range regions {
			if r.RegionID == "africa" {
				assert.Equal(t, r.BaseBonus, r.CurrentBonus, "disabled regions do not move")
				continue
			}
			assert.LessOrEqual(t, abs64(r.CurrentBonus-r.BaseBonus), int64(MaxRegionalDriftBps))
		}
		assertBonusBounds(t, s)
	}

	st, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(40*(len(DefaultRegions)-1)), st.Nonce)
}

func TestBonusScheduler_WeatherFeed(t *testing.T) {
	s, _, events := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	got, err := s.ApplyWeatherFeed(ctx, WeatherReading{
		Region:       "North America",
		TemperatureC: -5,
		HumidityPct:  85,
		UVIndex:      9,
		Condition:    "THUNDERSTORM",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500+300+400+600), got)

	current, err := s.RegionalBonus(ctx, "north-america")
	require.NoError(t, err)
	assert.Equal(t, got, current)

	w, _, err := s.IsUpdateDue(ctx)
	require.NoError(t, err)
	assert.False(t, w, "a weather feed counts as a fresh weather update")
	assert.Equal(t, int64(1), countEvents(t, events, models.EventBonusUpdated, ""))

	_, err = s.ApplyWeatherFeed(ctx, WeatherReading{Region: "Atlantis"})
	assert.ErrorIs(t, err, ErrRegionNotFound)
}

func TestWeatherBonus_Bands(t *testing.T) {
	cases := []struct {
		name string
		r    WeatherReading
		want int64
	}{
		{"mild", WeatherReading{TemperatureC: 20, HumidityPct: 40, UVIndex: 3, Condition: "Clear"}, 0},
		{"cold", WeatherReading{TemperatureC: 5}, 300},
		{"freezing", WeatherReading{TemperatureC: -1}, 500},
		{"hot", WeatherReading{TemperatureC: 31}, 300},
		{"scorching", WeatherReading{TemperatureC: 40}, 500},
		{"muggy", WeatherReading{TemperatureC: 20, HumidityPct: 65}, 150},
		{"uv high", WeatherReading{TemperatureC: 20, UVIndex: 6}, 200},
		{"drizzle", WeatherReading{TemperatureC: 20, Condition: "Light Drizzle"}, 300},
		{"snow", WeatherReading{TemperatureC: 20, Condition: "snow showers"}, 500},
		{"fog", WeatherReading{TemperatureC: 20, Condition: "Haze"}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WeatherBonus(tc.r))
		})
	}
}

func TestBonusBounds_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("random walk stays within [0, cap] and drift", prop.ForAll(
		func(base int64, seed uint64) bool {
			next := randomWalk(base, seed)
			return next >= 0 && next <= MaxRegionalBonusBps && abs64(next-base) <= MaxRegionalDriftBps
		},
		gen.Int64Range(0, MaxRegionalBonusBps), gen.UInt64(),
	))

	properties.Property("weather bonus within [0, cap]", prop.ForAll(
		func(temp, hum, uv float64, cond string) bool {
			b := WeatherBonus(WeatherReading{TemperatureC: temp, HumidityPct: hum, UVIndex: uv, Condition: cond})
			return b >= 0 && b <= MaxRegionalBonusBps
		},
		gen.Float64Range(-60, 60), gen.Float64Range(0, 100), gen.Float64Range(0, 15),
		gen.OneConstOf("storm", "snow", "rain", "fog", "clear", "Thunder Snow"),
	))

	properties.Property("seasonal bonus within [0, cap]", prop.ForAll(
		func(month, day int) bool {
			b := SeasonalBonusFor(time.Date(2025, time.Month(month), day, 0, 0, 0, 0, time.UTC))
			return b >= 0 && b <= MaxSeasonalBonusBps && b-BaseSeasonalBonus(time.Month(month)) <= MaxDayAdjustmentBps
		},
		gen.IntRange(1, 12), gen.IntRange(1, 28),
	))

	properties.TestingRun(t)
}

func TestBonusScheduler_AdminValidation(t *testing.T) {
	s, _, _ := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	_, err := s.AddRegion(ctx, "mallory", "Oceania", 400)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.AddRegion(ctx, testOperator, "Oceania", MaxRegionalBonusBps+1)
	assert.ErrorIs(t, err, ErrInvalidBonus)
	_, err = s.AddRegion(ctx, testOperator, "Oceania", -1)
	assert.ErrorIs(t, err, ErrInvalidBonus)

	r, err := s.AddRegion(ctx, testOperator, "oceania", 450)
	require.NoError(t, err)
	assert.Equal(t, "oceania", r.RegionID)
	assert.Equal(t, "Oceania", r.DisplayName)

	_, err = s.AddRegion(ctx, testOperator, "Oceania", 450)
	assert.ErrorIs(t, err, ErrRegionExists)

	assert.ErrorIs(t, s.UpdateRegionBase(ctx, testOperator, "oceania", 2001), ErrInvalidBonus)
	require.NoError(t, s.UpdateRegionBase(ctx, testOperator, "oceania", 700))
	got, err := s.RegionalBonus(ctx, "oceania")
	require.NoError(t, err)
	assert.Equal(t, int64(700), got)

	assert.ErrorIs(t, s.SetRegionEnabled(ctx, testOperator, "atlantis", true), ErrRegionNotFound)
	require.NoError(t, s.SetRegionEnabled(ctx, testOperator, "oceania", false))
	got, err = s.RegionalBonus(ctx, "oceania")
	require.NoError(t, err)
	assert.Zero(t, got, "disabled regions contribute nothing")

	assert.ErrorIs(t, s.SetSeasonalBonus(ctx, testOperator, 13, 100), ErrInvalidMonth)
	assert.ErrorIs(t, s.SetSeasonalBonus(ctx, testOperator, 0, 100), ErrInvalidMonth)
	assert.ErrorIs(t, s.SetSeasonalBonus(ctx, testOperator, 6, MaxSeasonalBonusBps+1), ErrInvalidBonus)
	require.NoError(t, s.SetSeasonalBonus(ctx, testOperator, 6, 900))
	june, err := s.SeasonalBonus(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(900), june)

	_, err = s.RegionalBonus(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrRegionNotFound)

	assert.ErrorIs(t, s.ForceWeatherUpdate(ctx, "mallory"), ErrUnauthorized)
	assertBonusBounds(t, s)
}

func TestBonusScheduler_TotalBonus(t *testing.T) {
	s, _, _ := newTestScheduler(t, testEpoch)
	ctx := context.Background()

	total, err := s.TotalBonusBps(ctx, "europe")
	require.NoError(t, err)
	assert.Equal(t, int64(1000+600), total)
}

func TestNewBonusScheduler_RejectsOutOfBoundSeed(t *testing.T) {
	db := newTestDB(t)
	_, err := NewBonusScheduler(context.Background(), db, BonusSchedulerConfig{
		Regions: []RegionSeed{{Name: "Moon", BaseBonus: 5000}},
	})
	assert.ErrorIs(t, err, ErrInvalidBonus)

	_, err = NewBonusScheduler(context.Background(), db, BonusSchedulerConfig{
		Seasonal: map[int]int64{13: 100},
	})
	assert.ErrorIs(t, err, ErrInvalidMonth)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
