// services/events.go
package services

import (
	"context"
	"sync"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"

	"gorm.io/gorm"
)

// EventSink receives records emitted by the engine after state changes commit.
type EventSink interface {
	Emit(ctx context.Context, ev models.EngineEvent)
}

// EventHandler consumes one event kind.
type EventHandler func(ctx context.Context, ev models.EngineEvent)

// EventLog persists events and hands them to in-process subscribers.
type EventLog struct {
	DB  *gorm.DB
	Log *utils.Logger

	mu       sync.RWMutex
	handlers map[models.EventKind][]EventHandler
}

func NewEventLog(db *gorm.DB, log *utils.Logger) *EventLog {
	return &EventLog{
		DB:       db,
		Log:      utils.OrNop(log),
		handlers: make(map[models.EventKind][]EventHandler),
	}
}

func (l *EventLog) Subscribe(kind models.EventKind, h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[kind] = append(l.handlers[kind], h)
}

// Emit never fails the caller: the state change it describes is already committed.
func (l *EventLog) Emit(ctx context.Context, ev models.EngineEvent) {
	if err := l.DB.WithContext(ctx).Create(&ev).Error; err != nil {
		l.Log.Error("[Events] failed to persist event", "kind", ev.Kind, "ref", ev.Ref, "error", err)
	}

	l.mu.RLock()
	hs := append([]EventHandler(nil), l.handlers[ev.Kind]...)
	l.mu.RUnlock()
	for _, h := range hs {
		h(ctx, ev)
	}
}

// Since returns events after afterID, oldest first. An empty user matches every user.
func (l *EventLog) Since(ctx context.Context, user string, afterID uint64, limit int) ([]models.EngineEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := l.DB.WithContext(ctx).Where("id > ?", afterID)
	if user != "" {
		q = q.Where("external_user_id = ?", user)
	}
	var out []models.EngineEvent
	err := q.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// Count is a convenience for tests and the status endpoint.
func (l *EventLog) Count(ctx context.Context, kind models.EventKind, user string) (int64, error) {
	q := l.DB.WithContext(ctx).Model(&models.EngineEvent{}).Where("kind = ?", kind)
	if user != "" {
		q = q.Where("external_user_id = ?", user)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// Latest is the highest event id, 0 when the log is empty.
func (l *EventLog) Latest(ctx context.Context) (uint64, error) {
	var id uint64
	err := l.DB.WithContext(ctx).Model(&models.EngineEvent{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}

type nopSink struct{}

func (nopSink) Emit(context.Context, models.EngineEvent) {}
