// services/errors.go
package services

import (
	"errors"
	"fmt"

	"fitness-score-engine/models"
)

// Configuration errors.
var (
	ErrUnauthorized         = errors.New("caller is not the designated operator")
	ErrRegionNotFound       = errors.New("region not found")
	ErrRegionExists         = errors.New("region already exists")
	ErrInvalidBonus         = errors.New("invalid bonus")
	ErrInvalidMonth         = errors.New("invalid month")
	ErrChainNotFound        = errors.New("chain not found")
	ErrInvalidSelector      = errors.New("chain selector out of range")
	ErrChainDisabled        = errors.New("chain disabled")
	ErrChainNotWhitelisted  = errors.New("source chain not whitelisted")
	ErrZeroComputeBudget    = errors.New("compute budget must be greater than zero")
	ErrNoDestinations       = errors.New("no destination chains")
	ErrServiceNotRegistered = errors.New("service not registered")
)

// Resource, oracle and state errors.
var (
	ErrInsufficientFeeBudget    = errors.New("insufficient fee budget")
	ErrOracleUnavailable        = errors.New("randomness oracle unavailable")
	ErrUnknownRandomnessRequest = errors.New("unknown randomness request")
	ErrRequestNotPending        = errors.New("randomness request is not pending")
	ErrInsufficientRandomWords  = errors.New("not enough random words")
	ErrChallengeExpired         = errors.New("challenge expired")
	ErrMalformedPayload         = errors.New("malformed cross-chain payload")
	ErrSessionNotFound          = errors.New("workout session not found")
	ErrInvalidSession           = errors.New("invalid workout session")
)

// InsufficientFeeBudgetError reports how far a send is short of its fees.
type InsufficientFeeBudgetError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientFeeBudgetError) Error() string {
	return fmt.Sprintf("insufficient fee budget: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientFeeBudgetError) Is(target error) bool {
	return target == ErrInsufficientFeeBudget
}

// ServiceError wraps a failure of one service during hub fan-out.
type ServiceError struct {
	Kind models.ServiceKind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
