package middleware

import (
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"
)

const cardRateLimitPrefix = "rl:card:"

// CardRateLimit caps balance mutations per card per minute using Redis if
// available. It bounds how many writers can contend on one card's version.
func CardRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
    if maxPerMin <= 0 {
        maxPerMin = 60
    }
    return func(c *fiber.Ctx) error {
        if cache == nil {
            return c.Next() // no-op without Redis
        }
        id := c.Params("id")
        if id == "" {
            return c.Next()
        }
        key := cardRateLimitPrefix + id
        cnt, err := cache.Incr(c.UserContext(), key).Result()
        if err != nil {
            logger.Warn("card rate limit unavailable", slog.String("card_id", id), slog.Any("error", err))
            return c.Next() // fail-open on cache errors
        }
        if cnt == 1 {
            cache.Expire(c.UserContext(), key, time.Minute)
        }
        if cnt > int64(maxPerMin) {
            return fiber.NewError(http.StatusTooManyRequests, "too many operations on this card, try again later")
        }
        return c.Next()
    }
}
