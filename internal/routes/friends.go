package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/friends"
)

// RegisterFriendRoutes wires friendship endpoints.
func RegisterFriendRoutes(r fiber.Router, h *friends.Handler) {
	group := r.Group("/friends")
	group.Get("/", h.List)
	group.Post("/", h.Invite)
	group.Post("/block", h.Block)
	group.Post("/unblock", h.Unblock)
	group.Post("/:id/accept", h.Accept)
	group.Delete("/:id", h.Remove)
}
