// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"fitness-score-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway. Paths
// under any of skipPrefixes carry their own auth (the SSE stream).
func GatewayAuthMiddleware(expectedToken string, log *utils.Logger, skipPrefixes ...string) fiber.Handler {
	log = utils.OrNop(log)
	if expectedToken == "" {
		log.Fatal("❌ ENGINE_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		for _, p := range skipPrefixes {
			if strings.HasPrefix(c.Path(), p) {
				return c.Next()
			}
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Warn("🚫 [GATEWAY_AUTH] Missing Authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		// Accept "Bearer <token>" or the raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if !tokenMatches(token, expectedToken) {
			log.Warn("❌ [GATEWAY_AUTH] Invalid token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
