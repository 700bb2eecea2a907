package httpserver

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/events"
	"github.com/querygate/querygate/internal/guardrail"
)

const adminAuthHeaderPrefix = "bearer "

// registerAdminRoutes mounts the mutating and audit surfaces behind the
// static admin token. With no token configured the routes are not
// mounted at all.
func registerAdminRoutes(router fiber.Router, container *app.Container) {
	token := strings.TrimSpace(container.Config.Admin.Token)
	if token == "" {
		return
	}

	admin := router.Group("/v1", adminAuthMiddleware(token))

	admin.Put("/personas/:name", func(c *fiber.Ctx) error {
		var raw map[string]any
		if err := c.BodyParser(&raw); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid JSON body")
		}
		name := c.Params("name")
		if err := container.Engine.ConfigurePersona(name, raw); err != nil {
			if errors.Is(err, guardrail.ErrInvalidPersonaConfig) {
				return writeError(c, fiber.StatusBadRequest, err.Error())
			}
			return writeError(c, fiber.StatusInternalServerError, err.Error())
		}
		cfg, _ := container.Engine.PersonaConfig(name)
		return c.JSON(fiber.Map{
			"persona": strings.ToLower(strings.TrimSpace(name)),
			"enabled": cfg.Enabled,
		})
	})

	admin.Post("/metrics/reset", func(c *fiber.Ctx) error {
		container.Engine.ResetMetrics()
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/events", func(c *fiber.Ctx) error {
		params := events.ListParams{
			Persona:  c.Query("persona"),
			Category: c.Query("category"),
		}
		if raw := c.Query("allowed"); raw != "" {
			allowed, err := strconv.ParseBool(raw)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "allowed must be a boolean")
			}
			params.Allowed = &allowed
		}
		if raw := c.Query("since"); raw != "" {
			start, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "since must be RFC3339")
			}
			params.Start = start
		}
		params.Limit = int32(c.QueryInt("limit"))
		params.Offset = int32(c.QueryInt("offset"))

		evs, err := container.Events.List(c.UserContext(), params)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "query events failed")
		}
		if evs == nil {
			evs = []events.Event{}
		}
		return c.JSON(fiber.Map{"events": evs})
	})
}

func adminAuthMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		presented := ""
		if raw != "" && strings.HasPrefix(strings.ToLower(raw), adminAuthHeaderPrefix) {
			presented = strings.TrimSpace(raw[len(adminAuthHeaderPrefix):])
		}
		if presented == "" {
			return writeError(c, fiber.StatusUnauthorized, "admin authorization required")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return writeError(c, fiber.StatusUnauthorized, "invalid admin token")
		}
		return c.Next()
	}
}
