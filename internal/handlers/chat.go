package handlers

import (
	"errors"
	"finadvisor/internal/models"
	"finadvisor/internal/services"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ChatHandler handles conversation requests
type ChatHandler struct {
	advisor *services.AdvisorService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(advisor *services.AdvisorService) *ChatHandler {
	return &ChatHandler{advisor: advisor}
}

// Handle processes one conversation turn
// POST /api/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.UserID = userID

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	resp, err := h.advisor.Chat(c.Context(), &req)
	if err != nil {
		if errors.Is(err, models.ErrAuditWriteFailed) {
			log.Printf("🚨 [CHAT] Turn aborted, audit log unavailable: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Service temporarily unavailable",
			})
		}
		log.Printf("❌ [CHAT] Turn failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	return c.JSON(resp)
}
