package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/congo-pay/cardledger/internal/card"
)

// RegisterCardRoutes wires card endpoints. throttle guards the balance
// mutations and may be nil.
func RegisterCardRoutes(r fiber.Router, h *card.Handler, throttle fiber.Handler) {
    group := r.Group("/cards")
    group.Post("/", h.Create)
    group.Get("/", h.List)
    group.Get("/:id", h.Get)
    group.Get("/:id/transactions", h.Transactions)
    group.Get("/:id/reconcile", h.Reconcile)
    if throttle != nil {
        group.Post("/:id/spend", throttle, h.Spend)
        group.Post("/:id/topup", throttle, h.TopUp)
    } else {
        group.Post("/:id/spend", h.Spend)
        group.Post("/:id/topup", h.TopUp)
    }
}
