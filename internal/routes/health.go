package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/infra"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		checks := fiber.Map{}
		healthy := true

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		record := func(name string, enabled bool, ping func() error) {
			if !enabled {
				checks[name] = "disabled"
				return
			}
			if err := ping(); err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		record("postgres", d.DB != nil, func() error { return d.DB.Ping(ctx) })
		record("redis", d.Cache != nil, func() error { return d.Cache.Ping(ctx).Err() })
		record("kafka", d.Kafka != nil, func() error { return infra.PingKafka(ctx, d.Cfg.KafkaBrokers) })

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
