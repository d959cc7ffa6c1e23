package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"activation-relay/internal/bas"
	"activation-relay/internal/config"
	"activation-relay/internal/database"
	"activation-relay/internal/handler"
	"activation-relay/internal/logger"
	"activation-relay/internal/middleware"
	"activation-relay/internal/service"
	"activation-relay/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logger.New(cfg.Log)
	log.WithField("environment", cfg.Environment).Info("starting activation relay")

	db, err := database.InitDB(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}

	client, err := bas.NewClient(cfg.Activation, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create activation service client")
	}

	ctx := context.Background()
	exporter, err := service.NewSheetExporter(ctx, cfg.Sheets, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize sheet export")
	}
	var recordExporter service.RecordExporter
	if exporter != nil {
		if err := exporter.CheckSheet(ctx); err != nil {
			log.WithError(err).Warn("sheet export target is not reachable")
		}
		recordExporter = exporter
	}

	store := database.NewActivationStore(db)
	audit := service.NewAuditLog(db)
	activation := service.NewActivationService(store, client, recordExporter, log)

	if cfg.Admin.PasswordHash == "" {
		log.Warn("no admin password hash configured; reporting routes are unreachable")
	}

	h := handler.New(handler.Deps{
		Activation: activation,
		Reports:    service.NewReportService(store, audit, exporter, log),
		Audit:      audit,
		Issuer:     util.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL),
		Admin:      cfg.Admin,
		DB:         db,
		Upstream:   client,
		Log:        log,
	})

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: log.WriterLevel(logrus.InfoLevel)}))
	app.Use(cors.New())

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	done := make(chan struct{})
	go limiter.Cleanup(done)

	handler.SetupRoutes(app, h, limiter)

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
	}()
	log.WithField("port", cfg.Server.Port).Info("listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	close(done)
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	activation.Wait()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("stopped")
}
