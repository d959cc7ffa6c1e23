package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"activation-relay/internal/bas"
	"activation-relay/internal/config"
	"activation-relay/internal/middleware"
	"activation-relay/internal/service"
	"activation-relay/internal/util"
	"activation-relay/internal/validation"
)

// Deps collects what the handlers need. DB and Upstream are optional and only
// feed the health report.
type Deps struct {
	Activation *service.ActivationService
	Reports    *service.ReportService
	Audit      *service.AuditLog
	Issuer     *util.TokenIssuer
	Admin      config.AdminConfig
	DB         *gorm.DB
	Upstream   interface{ BreakerState() string }
	Log        logrus.FieldLogger
}

type Handler struct {
	Deps
	log logrus.FieldLogger
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps, log: deps.Log.WithField("component", "http")}
}

// SetupRoutes registers every route on app. limiter may be nil.
func SetupRoutes(app *fiber.App, h *Handler, limiter *middleware.RateLimiter) {
	app.Get("/health", h.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	activation := api.Group("/activation")
	if limiter != nil {
		activation.Use(limiter.Handler())
	}
	activation.Post("/confirmation", h.HandleGetConfirmation)
	activation.Get("/remaining", h.HandleGetRemainingCount)

	auth := api.Group("/auth")
	auth.Post("/login", h.HandleLogin)
	auth.Get("/validate-token", middleware.Auth(h.Issuer), h.HandleValidateToken)

	reporting := api.Group("/reporting")
	reporting.Use(middleware.Auth(h.Issuer))
	reporting.Get("/machines", h.HandleListMachines)
	reporting.Delete("/machines/:hostname", h.HandleDeleteMachine)
	reporting.Get("/statistics", h.HandleStatistics)
	reporting.Post("/export", h.HandleExport)
	reporting.Get("/logs", h.HandleGetLogs)
	reporting.Get("/login-logs", h.HandleGetLoginLogs)
}

// respondError maps service errors onto HTTP statuses and stable error codes.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	var (
		ve *validation.ValidationError
		be *bas.BusinessError
		pe *bas.ProtocolError
		te *bas.TransportError
	)

	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": ve.Error(),
			"code":  "VALIDATION_FAILED",
			"field": ve.Field,
		})
	case errors.As(err, &be):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      be.Message,
			"code":       "ACTIVATION_REJECTED",
			"error_code": be.Code,
		})
	case errors.As(err, &pe):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "the activation service returned an unexpected response",
			"code":  "UNEXPECTED_RESPONSE",
		})
	case errors.As(err, &te):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "the activation service is unavailable, please try again later",
			"code":  "UPSTREAM_UNAVAILABLE",
		})
	default:
		h.log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  "INTERNAL_ERROR",
		})
	}
}

func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok"}
	code := fiber.StatusOK

	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = fiber.StatusServiceUnavailable
		}
	}
	if h.Upstream != nil {
		status["upstream_breaker"] = h.Upstream.BreakerState()
	}
	return c.Status(code).JSON(status)
}
