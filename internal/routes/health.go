package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"postgres": "ok", "redis": "ok", "chain": "ok"}
		healthy := true
		check := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
			}
		}

		if d.DB != nil {
			check("postgres", d.DB.Ping(ctx))
		} else {
			checks["postgres"] = "disabled"
		}
		if d.Cache != nil {
			check("redis", d.Cache.Ping(ctx).Err())
		} else {
			checks["redis"] = "disabled"
		}
		if p, ok := d.Backend.(pinger); ok {
			check("chain", p.Ping(ctx))
		}

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
