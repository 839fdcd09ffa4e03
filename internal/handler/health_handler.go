package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck checks one dependency the dispatcher cannot work without.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func PostgresCheck(sqlDB *sql.DB) ReadinessCheck {
	return ReadinessCheck{Name: "postgres", Check: sqlDB.PingContext}
}

func RedisCheck(rdb *redis.Client) ReadinessCheck {
	return ReadinessCheck{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}

func RegisterHealthRoutes(app fiber.Router, checks ...ReadinessCheck) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks ...ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		status := "ready"
		statusCode := fiber.StatusOK
		results := fiber.Map{}
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				results[check.Name] = "down"
				status = "not_ready"
				statusCode = fiber.StatusServiceUnavailable
				continue
			}
			results[check.Name] = "ok"
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
