package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// UserContext resolves the caller's user ID and stores it in the request
// locals. Authentication itself lives at the gateway; this trusts the
// X-User-ID header it forwards.
func UserContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing X-User-ID header",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
