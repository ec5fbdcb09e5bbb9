package notification

import (
	"github.com/gofiber/fiber/v2"
)

// Handler exposes the caller's notifications.
type Handler struct {
	service *Service
}

// NewHandler constructs a notification HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// List handles GET /notifications?unread=true&limit=&offset=.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	items, err := h.service.List(c.UserContext(), userID, c.QueryBool("unread"), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"notifications": items})
}

// MarkRead handles POST /notifications/:id/read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if err := h.service.MarkRead(c.UserContext(), userID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
