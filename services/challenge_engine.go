// services/challenge_engine.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ChallengeLifetime            = 24 * time.Hour
	ChallengeRandomWords         = 3
	BpsDenominator               = 10000
	ComboMinAccuracy             = 90
	DefaultChallengeBaseBonus    = 100
	DefaultPendingRequestTimeout = 6 * time.Hour
)

// ChallengeRange bounds a kind's target and multiplier. Max values are exclusive.
type ChallengeRange struct {
	MinTarget     int64
	MaxTarget     int64
	MinMultiplier int64
	MaxMultiplier int64
}

// ChallengeRanges, most generous last: Combo > Streak > Accuracy > Duration ~ Reps.
var ChallengeRanges = map[models.ChallengeKind]ChallengeRange{
	models.ChallengeReps:     {MinTarget: 30, MaxTarget: 100, MinMultiplier: 11000, MaxMultiplier: 15000},
	models.ChallengeDuration: {MinTarget: 90, MaxTarget: 120, MinMultiplier: 11000, MaxMultiplier: 14000},
	models.ChallengeStreak:   {MinTarget: 5, MaxTarget: 20, MinMultiplier: 12000, MaxMultiplier: 17000},
	models.ChallengeAccuracy: {MinTarget: 85, MaxTarget: 100, MinMultiplier: 11500, MaxMultiplier: 15000},
	models.ChallengeCombo:    {MinTarget: 50, MaxTarget: 100, MinMultiplier: 13000, MaxMultiplier: 20000},
}

// DefaultChallenge is installed when the engine starts on an empty database.
func DefaultChallenge(now time.Time) models.Challenge {
	return models.Challenge{
		Generation:      1,
		Kind:            models.ChallengeReps,
		Target:          50,
		BonusMultiplier: 11000,
		Active:          true,
		ExpiresAt:       now.Add(ChallengeLifetime),
		CreatedAt:       now,
	}
}

// DeriveChallenge maps three random words onto a kind, target and multiplier.
func DeriveChallenge(words []uint64) (models.ChallengeKind, int64, int64, error) {
	if len(words) < ChallengeRandomWords {
		return 0, 0, 0, fmt.Errorf("%w: got %d, need %d", ErrInsufficientRandomWords, len(words), ChallengeRandomWords)
	}
	kind := models.ChallengeKind(words[0] % models.ChallengeKindCount)
	r := ChallengeRanges[kind]
	target := r.MinTarget + int64(words[1]%uint64(r.MaxTarget-r.MinTarget))
	multiplier := r.MinMultiplier + int64(words[2]%uint64(r.MaxMultiplier-r.MinMultiplier))
	return kind, target, multiplier, nil
}

// Satisfies reports whether sess meets the challenge's kind and target.
func Satisfies(ch models.Challenge, sess *models.WorkoutSession) bool {
	if sess == nil {
		return false
	}
	switch ch.Kind {
	case models.ChallengeReps:
		return sess.Reps >= ch.Target
	case models.ChallengeDuration:
		return sess.DurationSec >= ch.Target
	case models.ChallengeStreak:
		return sess.Streak >= ch.Target
	case models.ChallengeAccuracy:
		return sess.FormAccuracy >= ch.Target
	case models.ChallengeCombo:
		return sess.Reps >= ch.Target && sess.FormAccuracy >= ComboMinAccuracy
	}
	return false
}

type ChallengeEngineConfig struct {
	Oracle          RandomnessOracle
	Ledger          WorkoutLedger
	Events          EventSink
	Auth            Authorizer
	Clock           clockwork.Clock
	Log             *utils.Logger
	BaseBonusAmount int64
	PendingTimeout  time.Duration
}

// ChallengeEngine owns the daily challenge and its randomness requests.
type ChallengeEngine struct {
	DB *gorm.DB

	oracle         RandomnessOracle
	ledger         WorkoutLedger
	events         EventSink
	auth           Authorizer
	clock          clockwork.Clock
	log            *utils.Logger
	baseBonus      int64
	pendingTimeout time.Duration

	// serializes request issue and fulfillment (single in-flight guard)
	mu sync.Mutex
}

func NewChallengeEngine(ctx context.Context, db *gorm.DB, cfg ChallengeEngineConfig) (*ChallengeEngine, error) {
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("%w: no oracle configured", ErrOracleUnavailable)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("challenge engine needs a workout ledger")
	}
	e := &ChallengeEngine{
		DB:             db,
		oracle:         cfg.Oracle,
		ledger:         cfg.Ledger,
		events:         cfg.Events,
		auth:           cfg.Auth,
		clock:          cfg.Clock,
		log:            utils.OrNop(cfg.Log),
		baseBonus:      cfg.BaseBonusAmount,
		pendingTimeout: cfg.PendingTimeout,
	}
	if e.events == nil {
		e.events = nopSink{}
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.baseBonus <= 0 {
		e.baseBonus = DefaultChallengeBaseBonus
	}
	if e.pendingTimeout <= 0 {
		e.pendingTimeout = DefaultPendingRequestTimeout
	}

	def := DefaultChallenge(e.clock.Now().UTC())
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return nil, fmt.Errorf("seed default challenge: %w", err)
	}
	return e, nil
}

// CurrentChallenge returns the latest generation.
func (e *ChallengeEngine) CurrentChallenge(ctx context.Context) (*models.Challenge, error) {
	return currentChallenge(e.DB.WithContext(ctx))
}

func currentChallenge(db *gorm.DB) (*models.Challenge, error) {
	var ch models.Challenge
	if err := db.Order("generation DESC").First(&ch).Error; err != nil {
		return nil, fmt.Errorf("load current challenge: %w", err)
	}
	return &ch, nil
}

// PendingRequest returns the in-flight randomness request, or nil.
func (e *ChallengeEngine) PendingRequest(ctx context.Context) (*models.RandomnessRequest, error) {
	var reqs []models.RandomnessRequest
	err := e.DB.WithContext(ctx).
		Where("status = ?", models.RandomnessPending).
		Order("requested_at ASC").
		Limit(1).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

// HasCompleted reports whether user completed the current generation.
func (e *ChallengeEngine) HasCompleted(ctx context.Context, user string) (bool, error) {
	cur, err := e.CurrentChallenge(ctx)
	if err != nil {
		return false, err
	}
	var n int64
	err = e.DB.WithContext(ctx).Model(&models.ChallengeCompletion{}).
		Where("generation = ? AND external_user_id = ?", cur.Generation, user).
		Count(&n).Error
	return n > 0, err
}

// Completions lists who completed a generation.
func (e *ChallengeEngine) Completions(ctx context.Context, generation uint64) ([]models.ChallengeCompletion, error) {
	var out []models.ChallengeCompletion
	err := e.DB.WithContext(ctx).
		Where("generation = ?", generation).
		Order("completed_at ASC").
		Find(&out).Error
	return out, err
}

// OnWorkoutSubmitted refreshes an expired or stale challenge and checks the
// user's latest session against the challenge that is authoritative right now.
func (e *ChallengeEngine) OnWorkoutSubmitted(ctx context.Context, user, sessionRef string) error {
	now := e.clock.Now()
	cur, err := e.CurrentChallenge(ctx)
	if err != nil {
		return err
	}

	_, _, reqErr := e.refreshIfDue(ctx, cur, now)
	return errors.Join(reqErr, e.evaluateCompletion(ctx, user, sessionRef, cur, now))
}

// RefreshIfDue requests a replacement when the current challenge has expired
// or outlived ChallengeLifetime. Returns issued=false when nothing was sent.
func (e *ChallengeEngine) RefreshIfDue(ctx context.Context) (string, bool, error) {
	cur, err := e.CurrentChallenge(ctx)
	if err != nil {
		return "", false, err
	}
	return e.refreshIfDue(ctx, cur, e.clock.Now())
}

func (e *ChallengeEngine) refreshIfDue(ctx context.Context, cur *models.Challenge, now time.Time) (string, bool, error) {
	switch {
	case now.After(cur.ExpiresAt):
		return e.RequestNewChallenge(ctx, "expired")
	case now.Sub(cur.CreatedAt) >= ChallengeLifetime:
		return e.RequestNewChallenge(ctx, "stale")
	}
	return "", false, nil
}

func (e *ChallengeEngine) evaluateCompletion(ctx context.Context, user, sessionRef string, cur *models.Challenge, now time.Time) error {
	if !cur.IsActive(now) {
		return nil
	}
	sess, err := e.ledger.GetLatestSession(ctx, user)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest session: %w", err)
	}
	if !Satisfies(*cur, sess) {
		return nil
	}
	if sessionRef == "" {
		sessionRef = sess.ID
	}

	bonus := e.baseBonus * cur.BonusMultiplier / BpsDenominator
	completion := models.ChallengeCompletion{
		Generation:     cur.Generation,
		ExternalUserID: user,
		SessionRef:     sessionRef,
		BonusAmount:    bonus,
		CompletedAt:    now.UTC(),
	}
	res := e.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&completion)
	if res.Error != nil {
		return fmt.Errorf("record completion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // already completed this generation
	}

	e.log.Info("[Challenge] completed", "user", user, "generation", cur.Generation, "kind", cur.Kind.String(), "bonus", bonus)
	e.events.Emit(ctx, models.EngineEvent{
		Kind:           models.EventChallengeCompleted,
		ExternalUserID: user,
		Ref:            fmt.Sprintf("%d", cur.Generation),
		Amount:         bonus,
		Detail:         sessionRef,
	})
	return nil
}

// RequestNewChallenge issues a randomness request unless one is already in
// flight, in which case it returns the pending id with issued=false.
func (e *ChallengeEngine) RequestNewChallenge(ctx context.Context, reason string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.PendingRequest(ctx)
	if err != nil {
		return "", false, err
	}
	if pending != nil {
		return pending.ID, false, nil
	}
	return e.issueLocked(ctx, reason)
}

func (e *ChallengeEngine) issueLocked(ctx context.Context, reason string) (string, bool, error) {
	requestID, err := e.oracle.RequestRandomWords(ctx, ChallengeRandomWords, e)
	if err != nil {
		e.log.Error("[Challenge] randomness request failed", "reason", reason, "error", err)
		if !errors.Is(err, ErrOracleUnavailable) {
			err = fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		return "", false, err
	}

	req := models.RandomnessRequest{
		ID:          requestID,
		Status:      models.RandomnessPending,
		Reason:      reason,
		RequestedAt: e.clock.Now().UTC(),
	}
	if err := e.DB.WithContext(ctx).Create(&req).Error; err != nil {
		return "", false, fmt.Errorf("record randomness request: %w", err)
	}

	e.log.Info("[Challenge] randomness requested", "request_id", requestID, "reason", reason)
	e.events.Emit(ctx, models.EngineEvent{Kind: models.EventChallengeRequested, Ref: requestID, Detail: reason})
	return requestID, true, nil
}

// FulfillRandomWords replaces the challenge with one derived from words.
func (e *ChallengeEngine) FulfillRandomWords(ctx context.Context, requestID string, words []uint64) error {
	kind, target, multiplier, err := DeriveChallenge(words)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now().UTC()
	var next models.Challenge
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.RandomnessRequest
		if err := tx.Where("id = ?", requestID).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownRandomnessRequest, requestID)
			}
			return err
		}
		if req.Status != models.RandomnessPending {
			return fmt.Errorf("%w: %s is %s", ErrRequestNotPending, requestID, req.Status)
		}

		cur, err := currentChallenge(tx)
		if err != nil {
			return err
		}
		next = models.Challenge{
			Generation:      cur.Generation + 1,
			Kind:            kind,
			Target:          target,
			BonusMultiplier: multiplier,
			Active:          true,
			ExpiresAt:       now.Add(ChallengeLifetime),
			RequestID:       requestID,
			CreatedAt:       now,
		}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		return tx.Model(&models.RandomnessRequest{}).
			Where("id = ?", requestID).
			Updates(map[string]interface{}{"status": models.RandomnessFulfilled, "fulfilled_at": now}).Error
	})
	if err != nil {
		return err
	}

	e.log.Info("[Challenge] new challenge",
		"generation", next.Generation, "kind", next.Kind.String(), "target", next.Target, "multiplier", next.BonusMultiplier)
	e.events.Emit(ctx, models.EngineEvent{
		Kind:   models.EventChallengeGenerated,
		Ref:    requestID,
		Amount: next.BonusMultiplier,
		Detail: fmt.Sprintf("generation=%d kind=%s target=%d", next.Generation, next.Kind, next.Target),
	})
	return nil
}

// Pause deactivates the current challenge.
func (e *ChallengeEngine) Pause(ctx context.Context, caller string) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	return e.setActive(ctx, false)
}

// Resume reactivates the current challenge if it has not expired.
func (e *ChallengeEngine) Resume(ctx context.Context, caller string) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	return e.setActive(ctx, true)
}

func (e *ChallengeEngine) setActive(ctx context.Context, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.CurrentChallenge(ctx)
	if err != nil {
		return err
	}
	if active && e.clock.Now().After(cur.ExpiresAt) {
		return ErrChallengeExpired
	}
	if err := e.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("generation = ?", cur.Generation).
		Update("active", active).Error; err != nil {
		return err
	}
	e.log.Info("[Challenge] active flag changed", "generation", cur.Generation, "active", active)
	return nil
}

// ForceRegenerate is the operator's recovery path. A pending request younger
// than the pending timeout is left alone; an older one is abandoned and
// replaced by a fresh request.
func (e *ChallengeEngine) ForceRegenerate(ctx context.Context, caller string) (string, bool, error) {
	if err := e.auth.Authorize(caller); err != nil {
		return "", false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.PendingRequest(ctx)
	if err != nil {
		return "", false, err
	}
	if pending != nil {
		if e.clock.Since(pending.RequestedAt) < e.pendingTimeout {
			return pending.ID, false, nil
		}
		if err := e.DB.WithContext(ctx).Model(&models.RandomnessRequest{}).
			Where("id = ? AND status = ?", pending.ID, models.RandomnessPending).
			Update("status", models.RandomnessAbandoned).Error; err != nil {
			return "", false, err
		}
		e.log.Warn("[Challenge] abandoned stalled randomness request", "request_id", pending.ID)
	}
	return e.issueLocked(ctx, "operator")
}
