package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkoutLedger is the read-only view the scoring services depend on.
type WorkoutLedger interface {
	GetLatestSession(ctx context.Context, user string) (*models.WorkoutSession, error)
	GetAggregate(ctx context.Context, user string) (*models.ScoreAggregate, error)
}

// LedgerService owns workout sessions and score aggregates.
type LedgerService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
	Log   *utils.Logger
}

func NewLedgerService(db *gorm.DB, clock clockwork.Clock, log *utils.Logger) *LedgerService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LedgerService{DB: db, Clock: clock, Log: utils.OrNop(log)}
}

// EnsureAggregate ensures a ScoreAggregate row exists (idempotent)
func (s *LedgerService) EnsureAggregate(ctx context.Context, user string) (*models.ScoreAggregate, error) {
	agg := models.ScoreAggregate{ExternalUserID: user}
	if err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&agg).Error; err != nil {
		return nil, err
	}
	return s.GetAggregate(ctx, user)
}

func (s *LedgerService) GetAggregate(ctx context.Context, user string) (*models.ScoreAggregate, error) {
	var agg models.ScoreAggregate
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", user).First(&agg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Users with no sessions yet have an all-zero aggregate.
		return &models.ScoreAggregate{ExternalUserID: user}, nil
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (s *LedgerService) GetLatestSession(ctx context.Context, user string) (*models.WorkoutSession, error) {
	var sess models.WorkoutSession
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", user).
		Order("recorded_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RecordWorkout stores the session and folds it into the user's aggregate.
// Returns recorded=false when a session with the same ID was already stored;
// sess is then overwritten with the stored row.
func (s *LedgerService) RecordWorkout(ctx context.Context, sess *models.WorkoutSession) (bool, error) {
	if strings.TrimSpace(sess.ExternalUserID) == "" {
		return false, fmt.Errorf("%w: external_user_id is required", ErrInvalidSession)
	}
	if sess.Reps < 0 || sess.DurationSec < 0 || sess.Streak < 0 || sess.FormAccuracy < 0 || sess.FormAccuracy > 100 {
		return false, fmt.Errorf("%w: metrics out of range", ErrInvalidSession)
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.RecordedAt.IsZero() {
		sess.RecordedAt = s.Clock.Now().UTC()
	}
	if sess.Source == "" {
		sess.Source = "api"
	}

	recorded := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sess)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// already processed: report the stored row, not the resubmission
			return tx.Where("id = ?", sess.ID).First(sess).Error
		}
		recorded = true

		agg := models.ScoreAggregate{ExternalUserID: sess.ExternalUserID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&agg).Error; err != nil {
			return err
		}
		if err := tx.Where("external_user_id = ?", sess.ExternalUserID).First(&agg).Error; err != nil {
			return fmt.Errorf("aggregate not found for %s", sess.ExternalUserID)
		}

		foldSession(&agg, sess)
		return tx.Save(&agg).Error
	})
	if err != nil {
		return false, err
	}
	if recorded {
		s.Log.Info("[Ledger] workout recorded",
			"user", sess.ExternalUserID, "session", sess.ID, "reps", sess.Reps, "form", sess.FormAccuracy)
	}
	return recorded, nil
}

// foldSession updates the running aggregate with one more session.
func foldSession(agg *models.ScoreAggregate, sess *models.WorkoutSession) {
	n := agg.SessionsCompleted
	agg.AverageFormAccuracy = (agg.AverageFormAccuracy*n + sess.FormAccuracy) / (n + 1)
	agg.SessionsCompleted = n + 1
	agg.TotalReps += sess.Reps
	if sess.Streak > agg.BestStreak {
		agg.BestStreak = sess.Streak
	}
	at := sess.RecordedAt
	if agg.LastSessionAt == nil || at.After(*agg.LastSessionAt) {
		agg.LastSessionAt = &at
	}
}

// CreditBonus adds bonus points to a user's aggregate.
func (s *LedgerService) CreditBonus(ctx context.Context, user string, amount int64, reason string) error {
	if amount <= 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		agg := models.ScoreAggregate{ExternalUserID: user}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&agg).Error; err != nil {
			return err
		}
		return tx.Model(&models.ScoreAggregate{}).
			Where("external_user_id = ?", user).
			Update("bonus_points", gorm.Expr("bonus_points + ?", amount)).Error
	})
	if err != nil {
		return err
	}
	s.Log.Info("[Ledger] bonus credited", "user", user, "amount", amount, "reason", reason)
	return nil
}

// HandleEvent credits challenge bonuses. Subscribed to EventChallengeCompleted.
func (s *LedgerService) HandleEvent(ctx context.Context, ev models.EngineEvent) {
	if ev.Kind != models.EventChallengeCompleted {
		return
	}
	if err := s.CreditBonus(ctx, ev.ExternalUserID, ev.Amount, "challenge_"+ev.Ref); err != nil {
		s.Log.Error("[Ledger] failed to credit challenge bonus", "user", ev.ExternalUserID, "error", err)
	}
}

// RecentSessions returns the newest sessions for a user.
func (s *LedgerService) RecentSessions(ctx context.Context, user string, limit int) ([]models.WorkoutSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.WorkoutSession
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", user).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
