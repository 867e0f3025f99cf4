package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testOperator = "operator-1"

var testEpoch = time.Date(2025, time.December, 10, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := utils.OpenDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type challengeFixture struct {
	db     *gorm.DB
	clock  *clockwork.FakeClock
	ledger *LedgerService
	events *EventLog
	oracle *QueuedRandomnessOracle
	engine *ChallengeEngine
}

func newChallengeFixture(t *testing.T) *challengeFixture {
	t.Helper()
	ctx := context.Background()
	f := &challengeFixture{db: newTestDB(t), clock: clockwork.NewFakeClockAt(testEpoch)}
	f.ledger = NewLedgerService(f.db, f.clock, nil)
	f.events = NewEventLog(f.db, nil)
	f.events.Subscribe(models.EventChallengeCompleted, f.ledger.HandleEvent)
	f.oracle = NewQueuedRandomnessOracle(f.clock)

	engine, err := NewChallengeEngine(ctx, f.db, ChallengeEngineConfig{
		Oracle: f.oracle,
		Ledger: f.ledger,
		Events: f.events,
		Auth:   NewAuthorizer(testOperator),
		Clock:  f.clock,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

// submit records a session and runs the engine's workout hook for it.
func (f *challengeFixture) submit(t *testing.T, user string, sess models.WorkoutSession) *models.WorkoutSession {
	t.Helper()
	ctx := context.Background()
	sess.ExternalUserID = user
	_, err := f.ledger.RecordWorkout(ctx, &sess)
	require.NoError(t, err)
	require.NoError(t, f.engine.OnWorkoutSubmitted(ctx, user, sess.ID))
	return &sess
}

func countEvents(t *testing.T, events *EventLog, kind models.EventKind, user string) int64 {
	t.Helper()
	n, err := events.Count(context.Background(), kind, user)
	require.NoError(t, err)
	return n
}
