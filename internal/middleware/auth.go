package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"activation-relay/internal/util"
)

// LocalsAdmin is the fiber locals key holding the authenticated admin name.
const LocalsAdmin = "admin"

// Auth requires a valid admin bearer token.
func Auth(issuer *util.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authentication token",
				"code":  "UNAUTHORIZED",
			})
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization format",
				"code":  "UNAUTHORIZED",
			})
		}

		claims, err := issuer.ValidateToken(tokenParts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authentication token",
				"code":  "UNAUTHORIZED",
			})
		}

		c.Locals(LocalsAdmin, claims.Username)
		return c.Next()
	}
}

// AdminName returns the admin set by Auth, or "" outside authenticated routes.
func AdminName(c *fiber.Ctx) string {
	name, _ := c.Locals(LocalsAdmin).(string)
	return name
}
