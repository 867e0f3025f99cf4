// handlers/admin.go
package handlers

import (
	"strconv"

	"fitness-score-engine/middleware"
	"fitness-score-engine/models"
	"fitness-score-engine/services"

	"github.com/gofiber/fiber/v2"
)

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type regionRequest struct {
	Name      string `json:"name"`
	BaseBonus int64  `json:"base_bonus"`
}

type bonusRequest struct {
	BonusBps int64 `json:"bonus_bps"`
}

type fundRequest struct {
	Amount uint64 `json:"amount"`
}

// SetupAdminRoutes mounts operator-only routes on a group that already carries
// OperatorContextMiddleware. Authorization is checked by each service call.
func SetupAdminRoutes(admin fiber.Router, eng *Engine) {
	admin.Get("/services", func(c *fiber.Ctx) error {
		return c.JSON(eng.Hub.Status())
	})

	admin.Patch("/services/:kind", func(c *fiber.Ctx) error {
		kind, err := models.ParseServiceKind(c.Params("kind"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		var req toggleRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid toggle body")
		}
		if err := eng.Hub.ToggleService(middleware.OperatorID(c), kind, req.Enabled); err != nil {
			return respondError(c, err)
		}
		return c.JSON(eng.Hub.Status())
	})

	// --- challenge ---
	admin.Post("/challenge/pause", func(c *fiber.Ctx) error {
		if err := eng.Challenge.Pause(c.UserContext(), middleware.OperatorID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"active": false})
	})

	admin.Post("/challenge/resume", func(c *fiber.Ctx) error {
		if err := eng.Challenge.Resume(c.UserContext(), middleware.OperatorID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"active": true})
	})

	admin.Post("/challenge/regenerate", func(c *fiber.Ctx) error {
		id, issued, err := eng.Challenge.ForceRegenerate(c.UserContext(), middleware.OperatorID(c))
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusAccepted
		if !issued {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(fiber.Map{"request_id": id, "issued": issued})
	})

	// --- bonus ---
	admin.Post("/bonus/regions", func(c *fiber.Ctx) error {
		var req regionRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid region body")
		}
		region, err := eng.Bonus.AddRegion(c.UserContext(), middleware.OperatorID(c), req.Name, req.BaseBonus)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(region)
	})

	admin.Put("/bonus/regions/:region", func(c *fiber.Ctx) error {
		var req regionRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid region body")
		}
		if err := eng.Bonus.UpdateRegionBase(c.UserContext(), middleware.OperatorID(c), c.Params("region"), req.BaseBonus); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Patch("/bonus/regions/:region", func(c *fiber.Ctx) error {
		var req toggleRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid toggle body")
		}
		if err := eng.Bonus.SetRegionEnabled(c.UserContext(), middleware.OperatorID(c), c.Params("region"), req.Enabled); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Put("/bonus/seasonal/:month", func(c *fiber.Ctx) error {
		month, err := strconv.Atoi(c.Params("month"))
		if err != nil {
			return respondError(c, services.ErrInvalidMonth)
		}
		var req bonusRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid bonus body")
		}
		if err := eng.Bonus.SetSeasonalBonus(c.UserContext(), middleware.OperatorID(c), month, req.BonusBps); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Patch("/bonus/scheduler", func(c *fiber.Ctx) error {
		var req toggleRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid toggle body")
		}
		if err := eng.Bonus.SetEnabled(c.UserContext(), middleware.OperatorID(c), req.Enabled); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/bonus/weather-update", func(c *fiber.Ctx) error {
		if err := eng.Bonus.ForceWeatherUpdate(c.UserContext(), middleware.OperatorID(c)); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/bonus/seasonal-update", func(c *fiber.Ctx) error {
		if err := eng.Bonus.ForceSeasonalUpdate(c.UserContext(), middleware.OperatorID(c)); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// --- cross-chain ---
	admin.Put("/crosschain/chains/:selector", func(c *fiber.Ctx) error {
		sel, err := strconv.ParseUint(c.Params("selector"), 10, 64)
		if err != nil {
			return badRequest(c, "selector must be an unsigned integer")
		}
		var req services.ChainConfigInput
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid chain body")
		}
		req.Selector = sel
		chain, err := eng.CrossChain.UpsertChain(c.UserContext(), middleware.OperatorID(c), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(chain)
	})

	admin.Patch("/crosschain/chains/:selector", func(c *fiber.Ctx) error {
		sel, err := strconv.ParseUint(c.Params("selector"), 10, 64)
		if err != nil {
			return badRequest(c, "selector must be an unsigned integer")
		}
		var req toggleRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid toggle body")
		}
		if err := eng.CrossChain.SetChainEnabled(c.UserContext(), middleware.OperatorID(c), sel, req.Enabled); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/crosschain/fee-budget", func(c *fiber.Ctx) error {
		var req fundRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid funding body")
		}
		balance, err := eng.CrossChain.FundFeeBudget(c.UserContext(), middleware.OperatorID(c), req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"balance": balance})
	})

	admin.Get("/crosschain/messages/:user", func(c *fiber.Ctx) error {
		msgs, err := eng.CrossChain.Messages(c.UserContext(), c.Params("user"), c.QueryInt("limit", 100))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(msgs)
	})
}
