package http

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/riverscan/riverscan/internal/pkg/metrics"
)

const (
	pathHealth  = "/v1/health"
	pathReady   = "/v1/ready"
	pathMetrics = "/metrics"
)

// NewApp builds the status server for long-running pipeline processes.
func NewApp(deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "riverscan",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          ErrorHandler,
	})
	app.Use(recover.New())
	SetupRoutes(app, deps)
	return app
}

// SetupRoutes registers the status, probe and metrics routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(requestid.New())
	app.Use(AccessLogMiddleware(pathHealth, pathReady, pathMetrics))
	app.Use(metrics.Middleware())

	app.Get(pathMetrics, metrics.Handler())
	app.Get(pathHealth, HealthHandler(deps))
	app.Get(pathReady, ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/status", StatusHandler(deps))
	v1.Get("/status/:stage", StageStatusHandler(deps))

	app.Use(func(c *fiber.Ctx) error {
		return errNotFound(c, "no route for "+c.Path())
	})
}

// Serve runs app on addr until ctx is cancelled, then gives in-flight
// requests up to five seconds to finish.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("status server starting", "addr", addr)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
