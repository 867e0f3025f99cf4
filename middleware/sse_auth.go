// middleware/sse_auth.go
package middleware

import (
	"strings"

	"fitness-score-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// StreamUserLocalsKey holds the user an event stream is scoped to ("" = all users).
const StreamUserLocalsKey = "stream_user"

// SSEAuthMiddleware validates `token` from the query string, since EventSource
// clients cannot set headers.
//
// Usage:
//
//	app.Get("/events/stream", middleware.SSEAuthMiddleware(token, log), eventsHandler.Stream)
func SSEAuthMiddleware(expectedToken string, log *utils.Logger) fiber.Handler {
	log = utils.OrNop(log)
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			token = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			log.Warn("[SSEAuth] ❌ Missing token", "path", c.Path(), "remote", c.IP())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token in query",
			})
		}
		if !tokenMatches(token, expectedToken) {
			log.Warn("[SSEAuth] ❌ Invalid token", "path", c.Path(), "remote", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(StreamUserLocalsKey, strings.TrimSpace(c.Query("user")))
		return c.Next()
	}
}
