package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/transactions"
)

// RegisterTransactionRoutes wires transaction endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler) {
	group := r.Group("/transactions")
	group.Post("/", h.Create)
	group.Get("/", h.List)
	// Registered before /:id so "summary" is not taken for an id.
	group.Get("/summary", h.Summary)
	group.Get("/:id", h.Get)
	group.Patch("/:id", h.Update)
	group.Delete("/:id", h.Delete)
}
