package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
)

type HealthHandler struct {
	db      database.Pinger
	version string
}

func NewHealthHandler(db database.Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready reports whether the store answers. Webhooks cannot be accepted
// without it, so the load balancer should stop routing here when it fails.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.db == nil {
		return c.JSON(HealthResponse{Status: "ready"})
	}

	if err := database.HealthCheck(c.UserContext(), h.db); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status: "unavailable",
			Error:  "database unreachable",
		})
	}
	return c.JSON(HealthResponse{Status: "ready"})
}
