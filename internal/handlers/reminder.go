package handlers

import (
	"errors"
	"finadvisor/internal/models"
	"finadvisor/internal/services"
	"log"

	"github.com/gofiber/fiber/v2"
)

// ReminderHandler exposes the reminder store over REST. The same operations
// are reachable conversationally; this surface exists for UIs and automation.
type ReminderHandler struct {
	reminders *services.ReminderService
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(reminders *services.ReminderService) *ReminderHandler {
	return &ReminderHandler{reminders: reminders}
}

// List returns all reminders for the authenticated user
// GET /api/reminders
func (h *ReminderHandler) List(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	reminders, err := h.reminders.ListByUser(c.Context(), userID)
	if err != nil {
		log.Printf("❌ [REMINDERS] List failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list reminders",
		})
	}

	responses := make([]*models.ReminderResponse, 0, len(reminders))
	for _, r := range reminders {
		responses = append(responses, r.ToResponse())
	}

	return c.JSON(fiber.Map{
		"reminders": responses,
		"count":     len(responses),
	})
}

// Create registers a new reminder
// POST /api/reminders
func (h *ReminderHandler) Create(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req models.CreateReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	reminder, err := h.reminders.Create(c.Context(), userID, &req)
	if err != nil {
		if models.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Printf("❌ [REMINDERS] Create failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create reminder",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(reminder.ToResponse())
}

// Get returns a single reminder with its delivery attempts
// GET /api/reminders/:id
func (h *ReminderHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	id := c.Params("id")
	reminder, err := h.reminders.Get(c.Context(), id)
	if err != nil || reminder.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Reminder not found",
		})
	}

	attempts, err := h.reminders.ListAttempts(c.Context(), id)
	if err != nil {
		log.Printf("⚠️  [REMINDERS] Failed to load attempts for %s: %v", id, err)
	}

	return c.JSON(fiber.Map{
		"reminder": reminder.ToResponse(),
		"attempts": attempts,
	})
}

// Cancel cancels a live reminder. With ?purge=true the reminder and its
// attempt history are removed entirely instead.
// DELETE /api/reminders/:id
func (h *ReminderHandler) Cancel(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	id := c.Params("id")

	if c.QueryBool("purge") {
		if err := h.reminders.Delete(c.Context(), id, userID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Reminder not found",
				})
			}
			log.Printf("❌ [REMINDERS] Delete failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete reminder",
			})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}

	reminder, err := h.reminders.Cancel(c.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Reminder not found",
			})
		case errors.Is(err, models.ErrAlreadyTriggered):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Reminder already triggered and can no longer be canceled",
			})
		default:
			log.Printf("❌ [REMINDERS] Cancel failed for %s: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to cancel reminder",
			})
		}
	}

	return c.JSON(reminder.ToResponse())
}
