package handler

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"activation-relay/internal/middleware"
	"activation-relay/internal/model"
)

// HandleLogin exchanges the configured admin credentials for a token.
func (h *Handler) HandleLogin(c *fiber.Ctx) error {
	input := new(model.LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  "INVALID_BODY",
		})
	}

	ok := h.checkCredentials(input.Username, input.Password)
	if h.Audit != nil {
		if err := h.Audit.LogLogin(c.UserContext(), input.Username, c.IP(), c.Get(fiber.HeaderUserAgent), ok); err != nil {
			h.log.WithError(err).Warn("failed to record login attempt")
		}
	}
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid username or password",
			"code":  "UNAUTHORIZED",
		})
	}

	token, expiresAt, err := h.Issuer.GenerateToken(input.Username)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (h *Handler) HandleValidateToken(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"valid":    true,
		"username": middleware.AdminName(c),
	})
}

func (h *Handler) checkCredentials(username, password string) bool {
	if h.Admin.PasswordHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.Admin.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(h.Admin.PasswordHash), []byte(password)) == nil
	return userOK && passOK
}
