package handler

import (
	"github.com/gofiber/fiber/v2"

	"activation-relay/internal/model"
)

// HandleGetConfirmation returns the confirmation ID for one installation.
func (h *Handler) HandleGetConfirmation(c *fiber.Ctx) error {
	input := new(model.ConfirmationInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  "INVALID_BODY",
		})
	}

	cid, err := h.Activation.GetConfirmation(c.UserContext(), input.Hostname, input.InstallationID, input.ExtendedProductID)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"confirmation_id": cid,
	})
}

func (h *Handler) HandleGetRemainingCount(c *fiber.Ctx) error {
	remaining, err := h.Activation.GetRemainingCount(c.UserContext(), c.Query("extended_product_id"))
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"remaining": remaining,
	})
}
