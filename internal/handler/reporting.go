package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"activation-relay/internal/middleware"
	"activation-relay/internal/service"
)

func (h *Handler) HandleListMachines(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))

	result, err := h.Reports.ListMachines(c.UserContext(), c.Query("search"), page)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(result)
}

// HandleDeleteMachine removes a machine and all of its activation records.
func (h *Handler) HandleDeleteMachine(c *fiber.Ctx) error {
	hostname := c.Params("hostname")

	deleted, err := h.Reports.DeleteMachine(c.UserContext(), middleware.AdminName(c), c.IP(), hostname)
	if err != nil {
		return h.respondError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "machine not found",
			"code":  "NOT_FOUND",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleStatistics summarizes stored activations over the last days (default
// 30, at most 365).
func (h *Handler) HandleStatistics(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 1 || days > 365 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be between 1 and 365",
			"code":  "VALIDATION_FAILED",
			"field": "days",
		})
	}

	stats, err := h.Reports.Statistics(c.UserContext(), days)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"statistics":                  stats,
		"average_records_per_machine": stats.AverageRecordsPerMachine(),
	})
}

func (h *Handler) HandleExport(c *fiber.Ctx) error {
	exported, err := h.Reports.ExportAll(c.UserContext())
	if errors.Is(err, service.ErrExportDisabled) {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "EXPORT_DISABLED",
		})
	}
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"machines_exported": exported,
	})
}

func (h *Handler) HandleGetLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.Audit.GetOperationLogs(c.UserContext(), page, pageSize)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) HandleGetLoginLogs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)

	logs, total, err := h.Audit.GetLoginLogs(c.UserContext(), page, pageSize)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"total": total,
		"page":  page,
	})
}

func pagination(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "10"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
