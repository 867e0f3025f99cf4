// handlers/challenge.go
package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type fulfillRequest struct {
	RequestID string   `json:"request_id"`
	Words     []string `json:"words"` // decimal strings; JSON numbers lose precision above 2^53
}

func SetupChallengeRoutes(app *fiber.App, eng *Engine) {
	app.Get("/challenge", func(c *fiber.Ctx) error {
		cur, err := eng.Challenge.CurrentChallenge(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		pending, err := eng.Challenge.PendingRequest(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"challenge":       cur,
			"kind":            cur.Kind.String(),
			"pending_request": pending,
		})
	})

	app.Get("/challenge/completions/:user", func(c *fiber.Ctx) error {
		done, err := eng.Challenge.HasCompleted(c.UserContext(), c.Params("user"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"external_user_id": c.Params("user"), "completed": done})
	})

	app.Get("/oracle/requests", func(c *fiber.Ctx) error {
		if eng.Oracle == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "external oracle mode is not enabled"})
		}
		return c.JSON(eng.Oracle.Pending())
	})

	// External oracle adapter delivering words for a queued request.
	app.Post("/oracle/fulfill", func(c *fiber.Ctx) error {
		if eng.Oracle == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "external oracle mode is not enabled"})
		}
		var req fulfillRequest
		if err := c.BodyParser(&req); err != nil || req.RequestID == "" {
			return badRequest(c, "request_id and words are required")
		}
		words := make([]uint64, 0, len(req.Words))
		for _, w := range req.Words {
			v, err := strconv.ParseUint(w, 10, 64)
			if err != nil {
				return badRequest(c, "words must be unsigned decimal integers")
			}
			words = append(words, v)
		}
		if err := eng.Oracle.Fulfill(c.UserContext(), req.RequestID, words); err != nil {
			return respondError(c, err)
		}
		cur, err := eng.Challenge.CurrentChallenge(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"challenge": cur, "kind": cur.Kind.String()})
	})
}
