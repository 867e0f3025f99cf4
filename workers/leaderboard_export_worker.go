// workers/leaderboard_export_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"fitness-score-engine/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// CompositeSource lists users with remote snapshots and scores them.
type CompositeSource interface {
	SnapshotUsers(ctx context.Context) ([]string, error)
	GetCompositeScore(ctx context.Context, user string) (int64, error)
}

// ObjectStore is where exports land; utils.R2Store implements it.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	ExternalUserID string `json:"external_user_id"`
	CompositeScore int64  `json:"composite_score"`
}

type Leaderboard struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Entries     []LeaderboardEntry `json:"entries"`
}

// BuildLeaderboard ranks every user by composite score, ties broken by user id.
func BuildLeaderboard(ctx context.Context, src CompositeSource, now time.Time) (*Leaderboard, error) {
	users, err := src.SnapshotUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		score, err := src.GetCompositeScore(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", u, err)
		}
		entries = append(entries, LeaderboardEntry{ExternalUserID: u, CompositeScore: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompositeScore != entries[j].CompositeScore {
			return entries[i].CompositeScore > entries[j].CompositeScore
		}
		return entries[i].ExternalUserID < entries[j].ExternalUserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return &Leaderboard{GeneratedAt: now.UTC(), Entries: entries}, nil
}

// ExportLeaderboard writes the board under a dated key and as latest.json.
func ExportLeaderboard(ctx context.Context, src CompositeSource, store ObjectStore, now time.Time, log *utils.Logger) (string, error) {
	board, err := BuildLeaderboard(ctx, src, now)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(board)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("leaderboards/%s.json", now.UTC().Format("2006-01-02"))
	url, err := store.PutJSON(ctx, key, body)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if _, err := store.PutJSON(ctx, "leaderboards/latest.json", body); err != nil {
		return "", fmt.Errorf("upload latest: %w", err)
	}
	utils.OrNop(log).Info("✅ Leaderboard exported", "url", url, "entries", len(board.Entries))
	return url, nil
}

// StartLeaderboardExport runs ExportLeaderboard on a cron schedule.
func StartLeaderboardExport(ctx context.Context, src CompositeSource, store ObjectStore, crontab string, clock clockwork.Clock, log *utils.Logger) (gocron.Scheduler, error) {
	log = utils.OrNop(log)
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(func() {
			if _, err := ExportLeaderboard(ctx, src, store, clock.Now(), log); err != nil {
				log.Error("❌ Leaderboard export failed", "error", err)
			}
		}),
		gocron.WithName("leaderboard-export"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("schedule leaderboard export: %w", err)
	}
	sched.Start()
	log.Info("[Scheduler] leaderboard export scheduled", "cron", crontab)
	return sched, nil
}
