// handlers/routes.go
package handlers

import (
	"strconv"

	"fitness-score-engine/middleware"
	"fitness-score-engine/services"
	"fitness-score-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// Engine bundles what the routes need. Oracle is nil unless randomness is
// delivered by an external adapter through POST /oracle/fulfill.
type Engine struct {
	Ledger     *services.LedgerService
	Challenge  *services.ChallengeEngine
	Bonus      *services.BonusScheduler
	CrossChain *services.CrossChainSync
	Hub        *services.ServiceHub
	Events     *services.EventLog
	Oracle     *services.QueuedRandomnessOracle
	Log        *utils.Logger
}

// SetupRoutes mounts every route. Gateway auth is applied globally by the caller.
func SetupRoutes(app *fiber.App, eng *Engine, streamToken string) {
	log := utils.OrNop(eng.Log)

	SetupScoreRoutes(app, eng)
	SetupChallengeRoutes(app, eng)
	SetupBonusRoutes(app, eng)
	SetupCrossChainRoutes(app, eng)
	SetupEventRoutes(app, eng, middleware.SSEAuthMiddleware(streamToken, log))

	// 🔒 Admin-only routes
	admin := app.Group("/s/admin", middleware.OperatorContextMiddleware(log))
	SetupAdminRoutes(admin, eng)
}

func strconvUint(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
