package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewOpsApp builds the operational HTTP server: health probes and the
// Prometheus scrape endpoint. It exposes no producer API.
func NewOpsApp(logger *zap.Logger, metrics *observability.Metrics, store Pinger, rdb redis.UniversalClient) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "pushengine-ops",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())

	RegisterHealthRoutes(app, store, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
