// handlers/events.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fitness-score-engine/middleware"
	"fitness-score-engine/utils"

	"github.com/gofiber/fiber/v2"
)

const streamPollInterval = 2 * time.Second

func SetupEventRoutes(app *fiber.App, eng *Engine, streamAuth fiber.Handler) {
	app.Get("/events", func(c *fiber.Ctx) error {
		after, _ := strconvUint(c.Query("after", "0"))
		evs, err := eng.Events.Since(c.UserContext(), c.Query("user"), after, c.QueryInt("limit", 100))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(evs)
	})

	app.Get("/events/stream", streamAuth, func(c *fiber.Ctx) error {
		return streamEvents(c, eng)
	})
}

// streamEvents streams engine events as SSE, polling the event log with an
// id cursor. A client reconnecting with Last-Event-ID resumes where it left off.
func streamEvents(c *fiber.Ctx, eng *Engine) error {
	log := utils.OrNop(eng.Log)
	user, _ := c.Locals(middleware.StreamUserLocalsKey).(string)

	cursor, ok := strconvUint(c.Get("Last-Event-ID"))
	if !ok {
		cursor, ok = strconvUint(c.Query("after"))
	}
	if !ok {
		// Start from the newest event: only live updates.
		latest, err := eng.Events.Latest(c.UserContext())
		if err != nil {
			log.Error("SSE init error", "user", user, "error", err)
		}
		cursor = latest
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				evs, err := eng.Events.Since(context.Background(), user, cursor, 100)
				if err != nil {
					log.Error("SSE query error", "user", user, "error", err)
					continue
				}
				if len(evs) == 0 {
					w.WriteString(":\n\n")
				}
				for _, ev := range evs {
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, payload)
					cursor = ev.ID
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}
