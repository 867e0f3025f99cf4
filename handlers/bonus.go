// handlers/bonus.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
)

func SetupBonusRoutes(app *fiber.App, eng *Engine) {
	app.Get("/bonus/seasonal", func(c *fiber.Ctx) error {
		rows, err := eng.Bonus.SeasonalTable(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(rows)
	})

	app.Get("/bonus/regions", func(c *fiber.Ctx) error {
		rows, err := eng.Bonus.Regions(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(rows)
	})

	app.Get("/bonus/regions/:region/total", func(c *fiber.Ctx) error {
		total, err := eng.Bonus.TotalBonusBps(c.UserContext(), c.Params("region"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"region": c.Params("region"), "total_bonus_bps": total})
	})
}
