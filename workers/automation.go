// workers/automation.go
package workers

import (
	"context"
	"fmt"
	"time"

	"fitness-score-engine/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// BonusUpdater is the poll-then-apply surface of the bonus scheduler.
type BonusUpdater interface {
	IsUpdateDue(ctx context.Context) (weatherDue, seasonalDue bool, err error)
	ApplyUpdate(ctx context.Context, weatherDue, seasonalDue bool) error
}

// ChallengeRefresher replaces an expired challenge without waiting for a workout.
type ChallengeRefresher interface {
	RefreshIfDue(ctx context.Context) (requestID string, issued bool, err error)
}

// BonusHeartbeat runs one check-and-apply round.
func BonusHeartbeat(ctx context.Context, b BonusUpdater, log *utils.Logger) error {
	weatherDue, seasonalDue, err := b.IsUpdateDue(ctx)
	if err != nil {
		return fmt.Errorf("check bonus update: %w", err)
	}
	if !weatherDue && !seasonalDue {
		return nil
	}
	if err := b.ApplyUpdate(ctx, weatherDue, seasonalDue); err != nil {
		return fmt.Errorf("apply bonus update: %w", err)
	}
	utils.OrNop(log).Info("[Scheduler] bonus update applied", "weather", weatherDue, "seasonal", seasonalDue)
	return nil
}

// ChallengeHeartbeat asks the engine to refresh the challenge if it is due.
func ChallengeHeartbeat(ctx context.Context, r ChallengeRefresher, log *utils.Logger) error {
	id, issued, err := r.RefreshIfDue(ctx)
	if err != nil {
		return fmt.Errorf("refresh challenge: %w", err)
	}
	if issued {
		utils.OrNop(log).Info("[Scheduler] challenge refresh requested", "request_id", id)
	}
	return nil
}

// StartAutomation schedules the heartbeats on a gocron scheduler driven by
// clock. The caller owns Shutdown.
func StartAutomation(ctx context.Context, bonus BonusUpdater, challenge ChallengeRefresher, interval time.Duration, clock clockwork.Clock, log *utils.Logger) (gocron.Scheduler, error) {
	log = utils.OrNop(log)
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if bonus != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if err := BonusHeartbeat(ctx, bonus, log); err != nil {
					log.Error("[Scheduler] bonus heartbeat failed", "error", err)
				}
			}),
			gocron.WithName("bonus-heartbeat"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		); err != nil {
			return nil, fmt.Errorf("schedule bonus heartbeat: %w", err)
		}
	}

	if challenge != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if err := ChallengeHeartbeat(ctx, challenge, log); err != nil {
					log.Error("[Scheduler] challenge heartbeat failed", "error", err)
				}
			}),
			gocron.WithName("challenge-heartbeat"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("schedule challenge heartbeat: %w", err)
		}
	}

	sched.Start()
	log.Info("[Scheduler] automation started", "interval", interval.String())
	return sched, nil
}
