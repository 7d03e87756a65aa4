// Package status serves liveness, run information and prometheus metrics
// while a fetch or load command runs.
package status

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BartekS5/archive-ingest/pkg/logger"
)

// Info describes the running command.
type Info struct {
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// NewApp builds the status routes.
func NewApp(info Info) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"run_id":         info.RunID,
			"command":        info.Command,
			"started_at":     info.StartedAt.UTC().Format(time.RFC3339),
			"uptime_seconds": int64(time.Since(info.StartedAt).Seconds()),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

// Start serves the status app on addr in the background and returns a
// shutdown func. An empty addr disables the server.
func Start(addr string, info Info) func() {
	if addr == "" {
		return func() {}
	}
	app := NewApp(info)
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Warn("Status server on %s stopped: %v", addr, err)
		}
	}()
	logger.Info("Status server listening on %s", addr)
	return func() {
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Warn("Status server shutdown: %v", err)
		}
	}
}
