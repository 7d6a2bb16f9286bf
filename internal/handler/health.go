package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthInfo describes the configured backends reported by /api/health.
type HealthInfo struct {
	Redis        redis.Cmdable
	R2           bool
	Auth         string
	Queue        string
	JobStore     string
	ProjectStore string
	Sessions     interface{ Len() int }
}

type HealthHandler struct {
	info HealthInfo
}

func NewHealthHandler(info HealthInfo) *HealthHandler {
	return &HealthHandler{info: info}
}

// Health handles GET /api/health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /api/health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := fiber.Map{
		"r2":           h.info.R2,
		"auth":         h.info.Auth,
		"queue":        h.info.Queue,
		"jobStore":     h.info.JobStore,
		"projectStore": h.info.ProjectStore,
	}
	if h.info.Redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()
		services["redis"] = h.info.Redis.Ping(ctx).Err() == nil
	}

	body := fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	}
	if h.info.Sessions != nil {
		body["playerSessions"] = h.info.Sessions.Len()
	}
	return c.JSON(body)
}
