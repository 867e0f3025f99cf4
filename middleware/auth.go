// middleware/auth.go
package middleware

import (
	"strings"

	"fitness-score-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// OperatorLocalsKey is where OperatorContextMiddleware leaves the caller identity.
const OperatorLocalsKey = "operator_id"

// OperatorContextMiddleware extracts the operator identity set by Gateway.
// Authorization itself happens in the services; this only carries the identity.
func OperatorContextMiddleware(log *utils.Logger) fiber.Handler {
	log = utils.OrNop(log)
	return func(c *fiber.Ctx) error {
		operatorID := strings.TrimSpace(c.Get("X-Operator-ID"))
		if operatorID == "" {
			log.Warn("❌ [OPERATOR_CTX] X-Operator-ID required but missing", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Operator-ID — admin requests must come through gateway with operator context",
			})
		}

		c.Locals(OperatorLocalsKey, operatorID)
		log.Debug("👤 [OPERATOR_CTX] operator attached", "operator", operatorID, "path", c.Path())
		return c.Next()
	}
}

// OperatorID returns the identity attached by OperatorContextMiddleware.
func OperatorID(c *fiber.Ctx) string {
	id, _ := c.Locals(OperatorLocalsKey).(string)
	return id
}
