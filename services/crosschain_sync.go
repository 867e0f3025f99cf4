// services/crosschain_sync.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const feeBudgetID = 1

// ScoreSnapshot is the part of an aggregate that travels between chains.
type ScoreSnapshot struct {
	TotalReps           int64 `json:"total_reps"`
	AverageFormAccuracy int64 `json:"average_form_accuracy"`
	BestStreak          int64 `json:"best_streak"`
	SessionsCompleted   int64 `json:"sessions_completed"`
}

func SnapshotFromAggregate(agg *models.ScoreAggregate) ScoreSnapshot {
	if agg == nil {
		return ScoreSnapshot{}
	}
	return ScoreSnapshot{
		TotalReps:           agg.TotalReps,
		AverageFormAccuracy: agg.AverageFormAccuracy,
		BestStreak:          agg.BestStreak,
		SessionsCompleted:   agg.SessionsCompleted,
	}
}

// ChainConfigInput adds or replaces a chain whitelist entry.
type ChainConfigInput struct {
	Selector      uint64 `yaml:"selector" json:"selector"`
	DisplayName   string `yaml:"name" json:"display_name"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ComputeBudget uint64 `yaml:"compute_budget" json:"compute_budget"`
}

func (in ChainConfigInput) validate() error {
	// selectors are stored in a signed bigint column
	if in.Selector == 0 || in.Selector > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrInvalidSelector, in.Selector)
	}
	if in.ComputeBudget == 0 {
		return fmt.Errorf("%w: chain %d", ErrZeroComputeBudget, in.Selector)
	}
	return nil
}

// SendResult describes one dispatched message.
type SendResult struct {
	Destination uint64 `json:"destination"`
	MessageID   string `json:"message_id"`
	Fee         uint64 `json:"fee"`
}

type CrossChainSyncConfig struct {
	Transport        CrossChainTransport
	Ledger           WorkoutLedger
	Events           EventSink
	Auth             Authorizer
	Clock            clockwork.Clock
	Log              *utils.Logger
	LocalChain       uint64
	Chains           []ChainConfigInput
	InitialFeeBudget uint64
}

// CrossChainSync mirrors aggregates to remote chains and merges theirs into
// per-chain snapshots. The processed-message table is what makes inbound
// delivery idempotent; the transport is assumed to redeliver.
type CrossChainSync struct {
	DB *gorm.DB

	transport  CrossChainTransport
	ledger     WorkoutLedger
	events     EventSink
	auth       Authorizer
	clock      clockwork.Clock
	log        *utils.Logger
	localChain uint64

	// serializes session check, budget check, dispatch and deduction
	sendMu sync.Mutex
}

func NewCrossChainSync(ctx context.Context, db *gorm.DB, cfg CrossChainSyncConfig) (*CrossChainSync, error) {
	if cfg.Transport == nil {
		return nil, errors.New("cross-chain transport required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("workout ledger required")
	}
	s := &CrossChainSync{
		DB:         db,
		transport:  cfg.Transport,
		ledger:     cfg.Ledger,
		events:     cfg.Events,
		auth:       cfg.Auth,
		clock:      cfg.Clock,
		log:        utils.OrNop(cfg.Log),
		localChain: cfg.LocalChain,
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	for _, c := range cfg.Chains {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		budget := models.FeeBudget{ID: feeBudgetID, Balance: cfg.InitialFeeBudget}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&budget).Error; err != nil {
			return err
		}
		for _, c := range cfg.Chains {
			row := chainRow(c)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed cross-chain config: %w", err)
	}
	return s, nil
}

func chainRow(in ChainConfigInput) models.ChainConfig {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = fmt.Sprintf("chain-%d", in.Selector)
	}
	return models.ChainConfig{
		Selector:      in.Selector,
		DisplayName:   name,
		Enabled:       in.Enabled,
		ComputeBudget: in.ComputeBudget,
	}
}

func (s *CrossChainSync) LocalChain() uint64 { return s.localChain }

// chain loads a whitelist entry. Selectors that cannot be stored are never
// whitelisted and are reported as not found without touching the database.
func (s *CrossChainSync) chain(db *gorm.DB, selector uint64) (*models.ChainConfig, error) {
	if selector == 0 || selector > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d", ErrChainNotFound, selector)
	}
	var chains []models.ChainConfig
	if err := db.Where("selector = ?", selector).Limit(1).Find(&chains).Error; err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrChainNotFound, selector)
	}
	return &chains[0], nil
}

// SendScoreUpdate dispatches snapshot to every destination. All destinations
// are validated and the summed fee is checked against the budget before any
// message leaves, so a rejected call changes nothing.
func (s *CrossChainSync) SendScoreUpdate(ctx context.Context, user string, snapshot ScoreSnapshot, destinations []uint64) ([]SendResult, error) {
	return s.send(ctx, user, "", snapshot, destinations)
}

func (s *CrossChainSync) send(ctx context.Context, user, sessionRef string, snapshot ScoreSnapshot, destinations []uint64) ([]SendResult, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(ctx, user, sessionRef, snapshot, destinations)
}

// sendLocked expects sendMu to be held.
func (s *CrossChainSync) sendLocked(ctx context.Context, user, sessionRef string, snapshot ScoreSnapshot, destinations []uint64) ([]SendResult, error) {
	if strings.TrimSpace(user) == "" {
		return nil, errors.New("external user id required")
	}
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}

	db := s.DB.WithContext(ctx)
	chains := make([]*models.ChainConfig, 0, len(destinations))
	seen := make(map[uint64]bool, len(destinations))
	for _, sel := range destinations {
		if seen[sel] {
			continue
		}
		seen[sel] = true
		c, err := s.chain(db, sel)
		if err != nil {
			return nil, err
		}
		if !c.Enabled {
			return nil, fmt.Errorf("%w: %d", ErrChainDisabled, sel)
		}
		chains = append(chains, c)
	}

	now := s.clock.Now().UTC()
	payload, err := EncodeScoreUpdate(ScoreUpdatePayload{
		ExternalUserID:      user,
		TotalReps:           snapshot.TotalReps,
		AverageFormAccuracy: snapshot.AverageFormAccuracy,
		BestStreak:          snapshot.BestStreak,
		SessionsCompleted:   snapshot.SessionsCompleted,
		Timestamp:           now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode score update: %w", err)
	}

	fees := make([]uint64, len(chains))
	var required uint64
	for i, c := range chains {
		fee, err := s.transport.EstimateFee(ctx, c.Selector, payload, c.ComputeBudget)
		if err != nil {
			return nil, fmt.Errorf("estimate fee for chain %d: %w", c.Selector, err)
		}
		fees[i] = fee
		required += fee
	}

	available, err := s.FeeBalance(ctx)
	if err != nil {
		return nil, err
	}
	if available < required {
		return nil, &InsufficientFeeBudgetError{Required: required, Available: available}
	}

	results := make([]SendResult, 0, len(chains))
	var sendErr error
	for i, c := range chains {
		id, err := s.transport.Send(ctx, c.Selector, payload, c.ComputeBudget)
		if err != nil {
			sendErr = fmt.Errorf("send to chain %d: %w", c.Selector, err)
			break
		}
		results = append(results, SendResult{Destination: c.Selector, MessageID: id, Fee: fees[i]})
	}

	if len(results) > 0 {
		if err := s.recordSends(ctx, user, sessionRef, results, now); err != nil {
			return results, errors.Join(sendErr, err)
		}
		for _, r := range results {
			s.events.Emit(ctx, models.EngineEvent{
				Kind:           models.EventScoreSent,
				ExternalUserID: user,
				Ref:            r.MessageID,
				Amount:         int64(r.Fee),
				Detail:         fmt.Sprintf("destination=%d", r.Destination),
			})
		}
		s.log.Info("[CrossChain] score update sent", "user", user, "destinations", len(results), "session", sessionRef)
	}
	return results, sendErr
}

func (s *CrossChainSync) recordSends(ctx context.Context, user, sessionRef string, results []SendResult, now time.Time) error {
	var spent uint64
	for _, r := range results {
		spent += r.Fee
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FeeBudget{}).
			Where("id = ? AND balance >= ?", feeBudgetID, spent).
			Update("balance", gorm.Expr("balance - ?", spent))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: fee budget changed during dispatch", ErrInsufficientFeeBudget)
		}
		for _, r := range results {
			rec := models.CrossChainMessageRecord{
				ID:             uuid.NewString(),
				MessageID:      r.MessageID,
				Direction:      models.DirectionSent,
				ChainSelector:  r.Destination,
				ExternalUserID: user,
				SessionRef:     sessionRef,
				Fee:            r.Fee,
				CreatedAt:      now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// OnWorkoutSubmitted pushes the user's current aggregate to every enabled
// chain, once per session ref. The session check and the dispatch share
// sendMu so concurrent notifications for one session send once.
func (s *CrossChainSync) OnWorkoutSubmitted(ctx context.Context, user, sessionRef string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if sessionRef != "" {
		var n int64
		if err := s.DB.WithContext(ctx).Model(&models.CrossChainMessageRecord{}).
			Where("direction = ? AND session_ref = ? AND external_user_id = ?", models.DirectionSent, sessionRef, user).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			s.log.Debug("[CrossChain] session already synced", "user", user, "session", sessionRef)
			return nil
		}
	}

	var selectors []uint64
	if err := s.DB.WithContext(ctx).Model(&models.ChainConfig{}).
		Where("enabled = ?", true).
		Order("selector ASC").
		Pluck("selector", &selectors).Error; err != nil {
		return err
	}
	if len(selectors) == 0 {
		s.log.Debug("[CrossChain] no enabled destinations", "user", user)
		return nil
	}

	agg, err := s.ledger.GetAggregate(ctx, user)
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}
	_, err = s.sendLocked(ctx, user, sessionRef, SnapshotFromAggregate(agg), selectors)
	return err
}

// HandleInbound merges one delivery. A message id seen before is a silent no-op.
func (s *CrossChainSync) HandleInbound(ctx context.Context, msg InboundMessage) error {
	if strings.TrimSpace(msg.MessageID) == "" {
		return fmt.Errorf("%w: missing message id", ErrMalformedPayload)
	}
	c, err := s.chain(s.DB.WithContext(ctx), msg.SourceChain)
	if errors.Is(err, ErrChainNotFound) || (err == nil && !c.Enabled) {
		return fmt.Errorf("%w: %d", ErrChainNotWhitelisted, msg.SourceChain)
	}
	if err != nil {
		return err
	}

	payload, err := DecodeScoreUpdate(msg.Payload)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	duplicate := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pm := models.ProcessedMessage{MessageID: msg.MessageID, SourceChain: msg.SourceChain, ProcessedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pm)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		snap := models.CrossChainScoreSnapshot{
			ExternalUserID:      payload.ExternalUserID,
			ChainSelector:       msg.SourceChain,
			TotalReps:           payload.TotalReps,
			AverageFormAccuracy: payload.AverageFormAccuracy,
			BestStreak:          payload.BestStreak,
			SessionsCompleted:   payload.SessionsCompleted,
			LastUpdated:         now,
			MessageID:           msg.MessageID,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error; err != nil {
			return err
		}

		rec := models.CrossChainMessageRecord{
			ID:             uuid.NewString(),
			MessageID:      msg.MessageID,
			Direction:      models.DirectionReceived,
			ChainSelector:  msg.SourceChain,
			ExternalUserID: payload.ExternalUserID,
			CreatedAt:      now,
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return err
	}
	if duplicate {
		s.log.Debug("[CrossChain] duplicate delivery ignored", "message_id", msg.MessageID, "source", msg.SourceChain)
		return nil
	}

	s.log.Info("[CrossChain] score update received", "user", payload.ExternalUserID, "source", msg.SourceChain, "message_id", msg.MessageID)
	s.events.Emit(ctx, models.EngineEvent{
		Kind:           models.EventScoreReceived,
		ExternalUserID: payload.ExternalUserID,
		Ref:            msg.MessageID,
		Detail:         fmt.Sprintf("source=%d", msg.SourceChain),
	})
	return nil
}

// ChainContribution is one chain's share of the composite score.
func ChainContribution(reps, avgAccuracy, bestStreak, sessions int64) int64 {
	if sessions == 0 {
		return 0
	}
	return reps*2 + (avgAccuracy*reps)/100 + bestStreak*5 + sessions*10
}

// CompositeScore sums every snapshot's contribution.
func CompositeScore(snapshots []models.CrossChainScoreSnapshot) int64 {
	var total int64
	for _, sn := range snapshots {
		total += ChainContribution(sn.TotalReps, sn.AverageFormAccuracy, sn.BestStreak, sn.SessionsCompleted)
	}
	return total
}

func (s *CrossChainSync) GetCompositeScore(ctx context.Context, user string) (int64, error) {
	snaps, err := s.Snapshots(ctx, user)
	if err != nil {
		return 0, err
	}
	return CompositeScore(snaps), nil
}

func (s *CrossChainSync) Snapshots(ctx context.Context, user string) ([]models.CrossChainScoreSnapshot, error) {
	var out []models.CrossChainScoreSnapshot
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", user).
		Order("chain_selector ASC").
		Find(&out).Error
	return out, err
}

// SnapshotUsers lists every user with at least one remote snapshot.
func (s *CrossChainSync) SnapshotUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.DB.WithContext(ctx).Model(&models.CrossChainScoreSnapshot{}).
		Distinct("external_user_id").
		Order("external_user_id ASC").
		Pluck("external_user_id", &users).Error
	return users, err
}

func (s *CrossChainSync) Chains(ctx context.Context) ([]models.ChainConfig, error) {
	var out []models.ChainConfig
	err := s.DB.WithContext(ctx).Order("selector ASC").Find(&out).Error
	return out, err
}

func (s *CrossChainSync) Messages(ctx context.Context, user string, limit int) ([]models.CrossChainMessageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.CrossChainMessageRecord
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", user).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *CrossChainSync) FeeBalance(ctx context.Context) (uint64, error) {
	var b models.FeeBudget
	if err := s.DB.WithContext(ctx).Where("id = ?", feeBudgetID).First(&b).Error; err != nil {
		return 0, fmt.Errorf("load fee budget: %w", err)
	}
	return b.Balance, nil
}

// --- admin ---

func (s *CrossChainSync) UpsertChain(ctx context.Context, caller string, in ChainConfigInput) (*models.ChainConfig, error) {
	if err := s.auth.Authorize(caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	row := chainRow(in)
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "selector"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "enabled", "compute_budget", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	s.log.Info("[CrossChain] chain configured", "selector", in.Selector, "enabled", in.Enabled, "compute_budget", in.ComputeBudget)
	return s.chain(s.DB.WithContext(ctx), in.Selector)
}

func (s *CrossChainSync) SetChainEnabled(ctx context.Context, caller string, selector uint64, enabled bool) error {
	if err := s.auth.Authorize(caller); err != nil {
		return err
	}
	res := s.DB.WithContext(ctx).Model(&models.ChainConfig{}).
		Where("selector = ?", selector).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrChainNotFound, selector)
	}
	s.log.Info("[CrossChain] chain toggled", "selector", selector, "enabled", enabled)
	return nil
}

// FundFeeBudget adds amount to the fee budget and returns the new balance.
func (s *CrossChainSync) FundFeeBudget(ctx context.Context, caller string, amount uint64) (uint64, error) {
	if err := s.auth.Authorize(caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return s.FeeBalance(ctx)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.DB.WithContext(ctx).Model(&models.FeeBudget{}).
		Where("id = ?", feeBudgetID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		return 0, err
	}
	return s.FeeBalance(ctx)
}
