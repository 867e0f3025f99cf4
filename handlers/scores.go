// handlers/scores.go
package handlers

import (
	"strings"

	"fitness-score-engine/models"

	"github.com/gofiber/fiber/v2"
)

type workoutRequest struct {
	ID             string `json:"id"`
	ExternalUserID string `json:"external_user_id"`
	Reps           int64  `json:"reps"`
	DurationSec    int64  `json:"duration_sec"`
	FormAccuracy   int64  `json:"form_accuracy"`
	Streak         int64  `json:"streak"`
}

func SetupScoreRoutes(app *fiber.App, eng *Engine) {
	// 🔓 Public reads
	app.Get("/scores/:user", func(c *fiber.Ctx) error {
		user := c.Params("user")
		agg, err := eng.Ledger.GetAggregate(c.UserContext(), user)
		if err != nil {
			return respondError(c, err)
		}
		snaps, err := eng.CrossChain.Snapshots(c.UserContext(), user)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"aggregate":       agg,
			"chain_snapshots": snaps,
		})
	})

	app.Get("/scores/:user/composite", func(c *fiber.Ctx) error {
		user := c.Params("user")
		score, err := eng.CrossChain.GetCompositeScore(c.UserContext(), user)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"external_user_id": user, "composite_score": score})
	})

	app.Get("/scores/:user/sessions", func(c *fiber.Ctx) error {
		sessions, err := eng.Ledger.RecentSessions(c.UserContext(), c.Params("user"), c.QueryInt("limit", 20))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sessions)
	})

	// Records a session and fans it out. Re-posting a session id is safe: the
	// ledger returns the stored row, whose owner is notified, and each service
	// dedups on its own.
	app.Post("/workouts", func(c *fiber.Ctx) error {
		var req workoutRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid workout body")
		}
		sess := &models.WorkoutSession{
			ID:             strings.TrimSpace(req.ID),
			ExternalUserID: strings.TrimSpace(req.ExternalUserID),
			Reps:           req.Reps,
			DurationSec:    req.DurationSec,
			FormAccuracy:   req.FormAccuracy,
			Streak:         req.Streak,
			Source:         "api",
		}
		recorded, err := eng.Ledger.RecordWorkout(c.UserContext(), sess)
		if err != nil {
			return respondError(c, err)
		}

		resp := fiber.Map{"session": sess, "recorded": recorded}
		if err := eng.Hub.NotifyWorkoutSubmitted(c.UserContext(), sess.ExternalUserID, sess.ID); err != nil {
			resp["service_errors"] = err.Error()
		}
		status := fiber.StatusCreated
		if !recorded {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(resp)
	})
}
