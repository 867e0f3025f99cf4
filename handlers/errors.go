// handlers/errors.go
package handlers

import (
	"errors"

	"fitness-score-engine/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors to HTTP statuses in one place.
func statusFor(err error) int {
	var feeErr *services.InsufficientFeeBudgetError
	switch {
	case errors.As(err, &feeErr):
		return fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrChainNotWhitelisted):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrRegionNotFound),
		errors.Is(err, services.ErrChainNotFound),
		errors.Is(err, services.ErrUnknownRandomnessRequest),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrServiceNotRegistered):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrRegionExists),
		errors.Is(err, services.ErrRequestNotPending),
		errors.Is(err, services.ErrChallengeExpired):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrChainDisabled):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidBonus),
		errors.Is(err, services.ErrInvalidMonth),
		errors.Is(err, services.ErrZeroComputeBudget),
		errors.Is(err, services.ErrInvalidSelector),
		errors.Is(err, services.ErrNoDestinations),
		errors.Is(err, services.ErrMalformedPayload),
		errors.Is(err, services.ErrInsufficientRandomWords),
		errors.Is(err, services.ErrInvalidSession):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrOracleUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": err.Error()}
	var feeErr *services.InsufficientFeeBudgetError
	if errors.As(err, &feeErr) {
		body["required"] = feeErr.Required
		body["available"] = feeErr.Available
	}
	return c.Status(statusFor(err)).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
