package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readinessCheck is one dependency probed by /readyz. A nil ping marks the
// dependency as not configured.
type readinessCheck struct {
	name string
	ping func(ctx context.Context) error
}

// RegisterHealthRoutes mounts /livez and /readyz. rdb may be nil when Redis
// is not configured.
func RegisterHealthRoutes(app fiber.Router, store Pinger, rdb redis.UniversalClient) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(store, rdb))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

// ReadyzHandler answers 200 only when every configured dependency responds.
func ReadyzHandler(store Pinger, rdb redis.UniversalClient) fiber.Handler {
	checks := []readinessCheck{{name: "store", ping: store.Ping}}
	redisCheck := readinessCheck{name: "redis"}
	if rdb != nil {
		redisCheck.ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	checks = append(checks, redisCheck)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		results := make(fiber.Map, len(checks))
		ready := true
		for _, check := range checks {
			switch {
			case check.ping == nil:
				results[check.name] = "disabled"
			case check.ping(ctx) != nil:
				results[check.name] = "down"
				ready = false
			default:
				results[check.name] = "ok"
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": results})
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": results})
	}
}
