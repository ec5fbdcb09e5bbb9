package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/budgets"
)

// RegisterBudgetRoutes wires budget endpoints.
func RegisterBudgetRoutes(r fiber.Router, h *budgets.Handler) {
	group := r.Group("/budgets")
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	group.Put("/:id", h.Update)
	group.Delete("/:id", h.Delete)
}
