package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/identity"
)

// RegisterIdentityRoutes wires registration; the ledger account is opened with the user.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterProfileRoutes wires the caller's profile endpoints.
func RegisterProfileRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
	r.Put("/me/spending-limit", h.SetSpendingLimit)
}
