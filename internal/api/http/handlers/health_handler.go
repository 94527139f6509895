package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
)

const probeTimeout = 2 * time.Second

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	database    Pinger
	redis       Pinger
}

// NewHealthHandler returns a new handler instance. A nil redis is reported as
// disabled.
func NewHealthHandler(serviceName, version string, database, redis Pinger) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, database: database, redis: redis}
}

// Health answers GET /health, the probe desk clients use to pick their mode.
// A failed database makes the backend degraded; redis is optional.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ok", Database: probe(ctx, h.database), Redis: probe(ctx, h.redis)}
	if resp.Database != "ok" {
		resp.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()

	depStatus := fiber.Map{"postgres": probe(ctx, h.database), "redis": probe(ctx, h.redis)}
	ready := depStatus["postgres"] == "ok" && depStatus["redis"] != "unavailable"
	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}

func probe(ctx context.Context, dep Pinger) string {
	if dep == nil {
		return "disabled"
	}
	if err := dep.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}
