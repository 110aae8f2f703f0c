package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// requireAuth resolves the caller's identity before anything else runs. An
// operation with no resolvable identity is rejected, never passed through.
func requireAuth(jv TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if hdr := c.Get("Authorization"); hdr != "" {
			const pref = "Bearer "
			if !strings.HasPrefix(hdr, pref) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid auth"})
			}
			token = hdr[len(pref):]
		} else if q := c.Query("token"); q != "" {
			// websocket clients cannot set headers from the browser
			token = q
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
		}
		userID, err := jv.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func rateLimit(limiter Limiter, perMin int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, _ := c.Locals("user_id").(string)
		if key == "" {
			key = c.IP()
		}
		ok, err := limiter.Allow(c.Context(), key, perMin, time.Minute)
		if err != nil {
			// fail open when the limiter backend is unreachable
			return c.Next()
		}
		if !ok {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
