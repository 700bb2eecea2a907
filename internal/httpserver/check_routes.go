package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/events"
	"github.com/querygate/querygate/internal/guardrail"
	"github.com/querygate/querygate/internal/requestctx"
)

const (
	headerSessionID = "X-Session-ID"
	headerPersona   = "X-Persona"

	eventRecordTimeout = 2 * time.Second
)

type checkRequest struct {
	Query     string              `json:"query"`
	Snippets  []guardrail.Snippet `json:"snippets,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Persona   string              `json:"persona,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

type guardrailInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

func registerCheckRoutes(router fiber.Router, container *app.Container) {
	router.Post("/v1/check", handleCheck(container))

	router.Get("/v1/guardrails", func(c *fiber.Ctx) error {
		rails := container.Engine.List()
		out := make([]guardrailInfo, 0, len(rails))
		for _, g := range rails {
			out = append(out, guardrailInfo{
				Name:     g.Name(),
				Category: string(g.Category()),
			})
		}
		return c.JSON(fiber.Map{"guardrails": out})
	})

	router.Get("/v1/metrics", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"breaker": container.Engine.BreakerState().String(),
			"metrics": container.Engine.Metrics(),
		})
	})

	router.Get("/v1/personas/:name", func(c *fiber.Ctx) error {
		name := c.Params("name")
		cfg, ok := container.Engine.PersonaConfig(name)
		if !ok {
			return writeError(c, fiber.StatusNotFound, "persona not found")
		}
		return c.JSON(fiber.Map{
			"persona":    strings.ToLower(strings.TrimSpace(name)),
			"enabled":    cfg.Enabled,
			"guardrails": cfg.Guardrails,
		})
	})
}

// handleCheck runs the guardrail pipeline for one inbound query. This
// is the hot path: body parse, engine check, verdict out. Event
// recording happens off the request goroutine.
func handleCheck(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req checkRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid JSON body")
		}
		if strings.TrimSpace(req.Query) == "" {
			return writeError(c, fiber.StatusBadRequest, "query is required")
		}

		if req.SessionID == "" {
			req.SessionID = strings.TrimSpace(c.Get(headerSessionID))
		}
		if req.Persona == "" {
			req.Persona = strings.TrimSpace(c.Get(headerPersona))
		}

		rc := &requestctx.Context{
			RequestID: parseRequestID(c),
			SessionID: req.SessionID,
			Persona:   req.Persona,
		}
		ctx := requestctx.WithContext(c.UserContext(), rc)
		c.Locals(requestctx.FiberLocalsKey(), rc)

		start := time.Now()
		res := container.Engine.Check(ctx, guardrail.CheckContext{
			Query:     req.Query,
			Snippets:  req.Snippets,
			SessionID: req.SessionID,
			Persona:   req.Persona,
			Metadata:  req.Metadata,
		})
		elapsed := time.Since(start)

		persona := req.Persona
		if persona == "" {
			persona = guardrail.DefaultPersona
		}
		if container.Observability != nil {
			container.Observability.RecordCheck(persona, string(res.Category), res.Allowed, elapsed)
		}

		if !res.Allowed || res.Degraded() {
			recordEvent(container.Events, persona, req.SessionID, res)
		}

		return c.JSON(res)
	}
}

// recordEvent persists a blocked or degraded verdict without holding up
// the response.
func recordEvent(svc *events.Service, persona, sessionID string, res guardrail.Result) {
	if svc == nil {
		return
	}
	guardrailName := ""
	if v, ok := res.Metadata["guardrail_error"].(string); ok {
		guardrailName = v
	}
	ev := events.Event{
		Persona:   persona,
		SessionID: sessionID,
		Guardrail: guardrailName,
		Category:  string(res.Category),
		Severity:  string(res.Severity),
		Allowed:   res.Allowed,
		Reason:    res.Reason,
		Details:   res.Metadata,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventRecordTimeout)
		defer cancel()
		_ = svc.Record(ctx, ev)
	}()
}

func parseRequestID(c *fiber.Ctx) uuid.UUID {
	if raw, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			return id
		}
	}
	return uuid.New()
}

// writeError standardizes JSON error responses.
func writeError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
