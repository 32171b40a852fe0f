package handlers

import (
	"time"

	"finadvisor/internal/database"
	"finadvisor/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	sessions *services.SessionService
	db       *database.DB
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sessions *services.SessionService, db *database.DB) *HealthHandler {
	return &HealthHandler{sessions: sessions, db: db}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"database":  h.db.Driver(),
		"sessions":  h.sessions.Count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
