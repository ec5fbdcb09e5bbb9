package friends

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/identity"
)

// Handler exposes friendship endpoints.
type Handler struct {
	service *Service
	ids     *identity.Service
}

// NewHandler constructs a friends HTTP handler.
func NewHandler(service *Service, ids *identity.Service) *Handler {
	return &Handler{service: service, ids: ids}
}

type friendRequest struct {
	UserID string `json:"user_id"`
	// Login is a username or email, resolved when user_id is empty.
	Login string `json:"login"`
}

type friendResponse struct {
	ID        string    `json:"id"`
	FriendID  string    `json:"friend_id"`
	InviterID string    `json:"inviter_id"`
	InviteeID string    `json:"invitee_id"`
	Status    Status    `json:"status"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
}

// Invite handles POST /friends.
func (h *Handler) Invite(c *fiber.Ctx) error {
	userID := currentUser(c)
	otherID, err := h.resolve(c)
	if err != nil {
		return err
	}
	f, err := h.service.Invite(c.UserContext(), userID, otherID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(userID, f))
}

// Accept handles POST /friends/:id/accept.
func (h *Handler) Accept(c *fiber.Ctx) error {
	userID := currentUser(c)
	f, err := h.service.Accept(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(userID, f))
}

// Remove handles DELETE /friends/:id.
func (h *Handler) Remove(c *fiber.Ctx) error {
	if err := h.service.Remove(c.UserContext(), currentUser(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Block handles POST /friends/block.
func (h *Handler) Block(c *fiber.Ctx) error {
	userID := currentUser(c)
	otherID, err := h.resolve(c)
	if err != nil {
		return err
	}
	f, err := h.service.Block(c.UserContext(), userID, otherID)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(userID, f))
}

// Unblock handles POST /friends/unblock.
func (h *Handler) Unblock(c *fiber.Ctx) error {
	userID := currentUser(c)
	otherID, err := h.resolve(c)
	if err != nil {
		return err
	}
	f, err := h.service.Unblock(c.UserContext(), userID, otherID)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(userID, f))
}

// List handles GET /friends?status=pending|friend.
func (h *Handler) List(c *fiber.Ctx) error {
	userID := currentUser(c)
	status := Status(strings.ToLower(c.Query("status")))
	if status != "" && status != StatusPending && status != StatusFriend {
		return apperr.Fields(map[string]string{"status": "must be pending or friend"})
	}
	items, err := h.service.List(c.UserContext(), userID, status)
	if err != nil {
		return err
	}
	out := make([]friendResponse, 0, len(items))
	for _, f := range items {
		out = append(out, toResponse(userID, f.Friendship))
	}
	return c.JSON(fiber.Map{"friends": out})
}

func (h *Handler) resolve(c *fiber.Ctx) (string, error) {
	var req friendRequest
	if err := c.BodyParser(&req); err != nil {
		return "", apperr.Validation("invalid request body")
	}
	if req.UserID != "" {
		return req.UserID, nil
	}
	if strings.TrimSpace(req.Login) == "" {
		return "", apperr.Fields(map[string]string{"user_id": "is required"})
	}
	user, err := h.ids.Lookup(c.UserContext(), req.Login)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

func toResponse(userID string, f Friendship) friendResponse {
	return friendResponse{
		ID:        f.ID,
		FriendID:  f.Other(userID),
		InviterID: f.InviterID,
		InviteeID: f.InviteeID,
		Status:    f.Status,
		Blocked:   f.BlockedBy != nil,
		CreatedAt: f.CreatedAt,
	}
}
