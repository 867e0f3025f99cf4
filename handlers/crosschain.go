// handlers/crosschain.go
package handlers

import (
	"encoding/base64"

	"fitness-score-engine/services"

	"github.com/gofiber/fiber/v2"
)

type inboundRequest struct {
	SourceChain uint64 `json:"source_chain"`
	MessageID   string `json:"message_id"`
	Payload     string `json:"payload"` // base64 CBOR
}

func SetupCrossChainRoutes(app *fiber.App, eng *Engine) {
	app.Get("/crosschain/chains", func(c *fiber.Ctx) error {
		chains, err := eng.CrossChain.Chains(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(chains)
	})

	// HTTP-based transport adapters deliver here. Duplicates answer 200 like
	// first deliveries.
	app.Post("/crosschain/inbound", func(c *fiber.Ctx) error {
		var req inboundRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid inbound body")
		}
		payload, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return badRequest(c, "payload must be base64")
		}
		if err := eng.CrossChain.HandleInbound(c.UserContext(), services.InboundMessage{
			SourceChain: req.SourceChain,
			MessageID:   req.MessageID,
			Payload:     payload,
		}); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"accepted": true, "message_id": req.MessageID})
	})
}
