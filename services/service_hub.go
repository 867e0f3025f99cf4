// services/service_hub.go
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"fitness-score-engine/models"
	"fitness-score-engine/utils"
)

// WorkoutSubscriber is what the hub dispatches to.
type WorkoutSubscriber interface {
	OnWorkoutSubmitted(ctx context.Context, user, sessionRef string) error
}

// ServiceStatus is one row of ServiceHub.Status.
type ServiceStatus struct {
	Kind       string `json:"kind"`
	Registered bool   `json:"registered"`
	Enabled    bool   `json:"enabled"`
}

type hubEntry struct {
	svc     WorkoutSubscriber
	enabled bool
}

// ServiceHub is the only component that knows every service. Services are
// registered disabled and stay off until ToggleService enables them.
type ServiceHub struct {
	auth Authorizer
	log  *utils.Logger

	mu       sync.RWMutex
	services map[models.ServiceKind]*hubEntry
}

func NewServiceHub(auth Authorizer, log *utils.Logger) *ServiceHub {
	return &ServiceHub{
		auth:     auth,
		log:      utils.OrNop(log),
		services: make(map[models.ServiceKind]*hubEntry),
	}
}

func knownKind(kind models.ServiceKind) bool {
	for _, k := range models.AllServiceKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RegisterService installs svc for kind. Re-registering replaces the previous
// implementation and disables the slot again.
func (h *ServiceHub) RegisterService(caller string, kind models.ServiceKind, svc WorkoutSubscriber) error {
	if err := h.auth.Authorize(caller); err != nil {
		return err
	}
	if !knownKind(kind) {
		return fmt.Errorf("unknown service kind %d", int(kind))
	}
	if svc == nil {
		return fmt.Errorf("nil implementation for %s", kind)
	}
	h.mu.Lock()
	h.services[kind] = &hubEntry{svc: svc}
	h.mu.Unlock()
	h.log.Info("[Hub] service registered", "kind", kind.String())
	return nil
}

func (h *ServiceHub) ToggleService(caller string, kind models.ServiceKind, enabled bool) error {
	if err := h.auth.Authorize(caller); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.services[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotRegistered, kind)
	}
	e.enabled = enabled
	h.log.Info("[Hub] service toggled", "kind", kind.String(), "enabled", enabled)
	return nil
}

// NotifyWorkoutSubmitted calls every enabled service. A failing or panicking
// service is reported in the returned error and does not stop the fan-out.
func (h *ServiceHub) NotifyWorkoutSubmitted(ctx context.Context, user, sessionRef string) error {
	type target struct {
		kind models.ServiceKind
		svc  WorkoutSubscriber
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.services))
	for _, k := range models.AllServiceKinds {
		if e, ok := h.services[k]; ok && e.enabled {
			targets = append(targets, target{kind: k, svc: e.svc})
		}
	}
	h.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if err := h.invoke(ctx, t.kind, t.svc, user, sessionRef); err != nil {
			h.log.Warn("[Hub] service failed", "kind", t.kind.String(), "user", user, "session", sessionRef, "error", err)
			errs = append(errs, &ServiceError{Kind: t.kind, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (h *ServiceHub) invoke(ctx context.Context, kind models.ServiceKind, svc WorkoutSubscriber, user, sessionRef string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("[Hub] service panicked", "kind", kind.String(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return svc.OnWorkoutSubmitted(ctx, user, sessionRef)
}

func (h *ServiceHub) IsEnabled(kind models.ServiceKind) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.services[kind]
	return ok && e.enabled
}

func (h *ServiceHub) Status() []ServiceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(models.AllServiceKinds))
	for _, k := range models.AllServiceKinds {
		e, ok := h.services[k]
		out = append(out, ServiceStatus{Kind: k.String(), Registered: ok, Enabled: ok && e.enabled})
	}
	return out
}
