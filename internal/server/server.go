package server

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/cardledger/internal/config"
    "github.com/congo-pay/cardledger/internal/routes"
    "github.com/congo-pay/cardledger/internal/store"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
    app   *fiber.App
    cfg   config.Config
    store *store.Backend
    cache *redis.Client
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, backend *store.Backend, cache *redis.Client, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
        ErrorHandler: errorHandler(logger),
    })

    if err := routes.Setup(app, routes.Deps{Cfg: cfg, Store: backend, Cache: cache, Logger: logger}); err != nil {
        return nil, err
    }

    return &Server{app: app, cfg: cfg, store: backend, cache: cache}, nil
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
    return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
    return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors as JSON bodies.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
    return func(c *fiber.Ctx, err error) error {
        code := http.StatusInternalServerError
        message := "internal error"
        var fe *fiber.Error
        if errors.As(err, &fe) {
            code = fe.Code
            message = fe.Message
        } else {
            logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
        }
        return c.Status(code).JSON(fiber.Map{"error": message})
    }
}
