// workers/session_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"gorm.io/gorm"
)

// RemoteSession matches the JSON the workout tracking service returns.
type RemoteSession struct {
	ID             string    `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	Reps           int64     `json:"reps"`
	DurationSec    int64     `json:"duration_sec"`
	FormAccuracy   int64     `json:"form_accuracy"`
	Streak         int64     `json:"streak"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// GetSessionChangesResponse is the top-level structure of the sync service response.
type GetSessionChangesResponse struct {
	Sessions []RemoteSession `json:"sessions"`
}

// SessionRecorder stores sessions; LedgerService implements it.
type SessionRecorder interface {
	RecordWorkout(ctx context.Context, sess *models.WorkoutSession) (bool, error)
}

// WorkoutNotifier fans a recorded session out; ServiceHub implements it.
type WorkoutNotifier interface {
	NotifyWorkoutSubmitted(ctx context.Context, user, sessionRef string) error
}

type SessionSyncWorker struct {
	db           *gorm.DB
	ledger       SessionRecorder
	hub          WorkoutNotifier
	log          *utils.Logger
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/sessions"
	serviceToken string
	httpClient   *http.Client
}

func NewSessionSyncWorker(db *gorm.DB, ledger SessionRecorder, hub WorkoutNotifier, baseURL, endpointPath, serviceToken string, interval time.Duration, log *utils.Logger) *SessionSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSyncWorker{
		db:           db,
		ledger:       ledger,
		hub:          hub,
		log:          utils.OrNop(log),
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *SessionSyncWorker) Start(ctx context.Context) {
	w.log.Info("🔁 Starting Session Sync Worker (tracking service → workout_sessions)…")
	go w.run(ctx)
}

func (w *SessionSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncBatch(ctx, w.lastSyncTime(ctx)); err != nil {
		w.log.Warn("⚠️ Initial session sync failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncBatch(ctx, w.lastSyncTime(ctx)); err != nil {
				w.log.Error("❌ Session sync batch failed", "error", err)
			}
		case <-ctx.Done():
			w.log.Info("⏹️ Session Sync Worker stopped")
			return
		}
	}
}

// lastSyncTime is the newest synced session, or the epoch when none exist.
func (w *SessionSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var last models.WorkoutSession
	err := w.db.WithContext(ctx).
		Where("source = ?", "sync").
		Order("recorded_at DESC").
		First(&last).Error
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return last.RecordedAt
}

// SyncBatch fetches sessions recorded since `since`, stores new ones and
// notifies the hub for each. Returns how many were new.
func (w *SessionSyncWorker) SyncBatch(ctx context.Context, since time.Time) (int, error) {
	sessions, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		w.log.Debug("[SYNC] ✅ No session changes", "since", since.UTC().Format(time.RFC3339))
		return 0, nil
	}

	w.log.Info("[SYNC] 📥 Processing sessions from sync service…", "count", len(sessions))

	var recordedCount, errorCount int
	for _, rs := range sessions {
		sess := &models.WorkoutSession{
			ID:             rs.ID,
			ExternalUserID: rs.ExternalUserID,
			Reps:           rs.Reps,
			DurationSec:    rs.DurationSec,
			FormAccuracy:   rs.FormAccuracy,
			Streak:         rs.Streak,
			Source:         "sync",
			RecordedAt:     rs.RecordedAt.UTC(),
		}
		recorded, err := w.ledger.RecordWorkout(ctx, sess)
		if err != nil {
			w.log.Error("[SYNC] ❌ Failed to record session", "session", rs.ID, "user", rs.ExternalUserID, "error", err)
			errorCount++
			continue
		}
		if !recorded {
			continue
		}
		recordedCount++
		if err := w.hub.NotifyWorkoutSubmitted(ctx, sess.ExternalUserID, sess.ID); err != nil {
			w.log.Warn("[SYNC] ⚠️ Fan-out reported failures", "session", sess.ID, "error", err)
		}
	}

	w.log.Info("[SYNC] ✅ Session sync complete", "recorded", recordedCount, "errors", errorCount)
	return recordedCount, nil
}

func (w *SessionSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteSession, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base sync service URL '%s': %w", w.baseURL, err)
	}

	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetSessionChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Sessions, nil
}
