package routes

import (
    "context"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
    app.Get("/healthz", func(c *fiber.Ctx) error {
        storeStatus := "ok"
        redisStatus := "disabled"

        ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
        defer cancel()
        if err := d.Store.Ping(ctx); err != nil {
            storeStatus = err.Error()
        }
        if d.Cache != nil {
            redisStatus = "ok"
            if err := d.Cache.Ping(ctx).Err(); err != nil {
                redisStatus = err.Error()
            }
        }
        status := http.StatusOK
        if storeStatus != "ok" || (redisStatus != "ok" && redisStatus != "disabled") {
            status = http.StatusServiceUnavailable
        }
        return c.Status(status).JSON(fiber.Map{
            "status":    fiber.Map{d.Store.Driver: storeStatus, "redis": redisStatus},
            "timestamp": time.Now().UTC().Format(time.RFC3339Nano),
        })
    })
}
