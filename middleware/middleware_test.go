package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret", nil, "/events/stream"))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/events/stream", SSEAuthMiddleware("s3cret", nil), func(c *fiber.Ctx) error {
		user, _ := c.Locals(StreamUserLocalsKey).(string)
		return c.SendString("user=" + user)
	})
	app.Get("/admin", OperatorContextMiddleware(nil), func(c *fiber.Ctx) error {
		return c.SendString(OperatorID(c))
	})
	return app
}

func do(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newApp()

	status, _ := do(t, app, "/ping", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, "/ping", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := do(t, app, "/ping", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pong", body)

	status, _ = do(t, app, "/ping", map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestSSEAuthMiddleware(t *testing.T) {
	app := newApp()

	status, _ := do(t, app, "/events/stream", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, "/events/stream?token=nope", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := do(t, app, "/events/stream?token=s3cret&user=alice", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user=alice", body)

	status, body = do(t, app, "/events/stream", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user=", body)
}

func TestOperatorContextMiddleware(t *testing.T) {
	app := newApp()
	auth := map[string]string{"Authorization": "Bearer s3cret"}

	status, _ := do(t, app, "/admin", auth)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := do(t, app, "/admin", map[string]string{"Authorization": "Bearer s3cret", "X-Operator-ID": "operator-1"})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "operator-1", body)
}
