package routes

import (
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/cardledger/internal/card"
    "github.com/congo-pay/cardledger/internal/config"
    "github.com/congo-pay/cardledger/internal/middleware"
    "github.com/congo-pay/cardledger/internal/notification"
    "github.com/congo-pay/cardledger/internal/store"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg    config.Config
    Store  *store.Backend
    Cache  *redis.Client
    Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
    if d.Store == nil {
        return fmt.Errorf("a card store is required")
    }
    // Enforce Redis presence outside of dev, even though config also checks.
    if !d.Cfg.IsDev() && d.Cache == nil {
        return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
    }

    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID())
    app.Use(middleware.Audit(d.Logger))
    if d.Cache != nil {
        app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
    }

    // Health
    RegisterHealthRoutes(app, d)

    // Services and handlers
    cardSvc := card.NewService(d.Store.Cards, d.Store.Ledger,
        card.WithTransactor(d.Store.Transactor),
        card.WithBackoff(card.Backoff{
            MaxAttempts: d.Cfg.RetryMaxAttempts,
            Base:        d.Cfg.RetryBaseDelay,
        }),
        card.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
        card.WithLogger(d.Logger),
    )
    cardHandler := card.NewHandler(cardSvc)

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        reqID, _ := c.Locals("X-Request-ID").(string)
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": reqID,
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    throttle := middleware.CardRateLimit(d.Cache, d.Cfg.CardMutationsPerMinute, d.Logger)
    RegisterCardRoutes(api, cardHandler, throttle)

    return nil
}
