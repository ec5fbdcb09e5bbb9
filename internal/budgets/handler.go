package budgets

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/ledger"
)

// Handler exposes budget endpoints.
type Handler struct {
	service *Service
	loc     *time.Location
}

// NewHandler constructs a budget handler. loc interprets date-only bounds.
func NewHandler(service *Service, loc *time.Location) *Handler {
	return &Handler{service: service, loc: loc}
}

type budgetRequest struct {
	CategoryID  int    `json:"category_id"`
	Currency    string `json:"currency"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type budgetResponse struct {
	ID          string    `json:"id"`
	CategoryID  int       `json:"category_id"`
	Currency    string    `json:"currency"`
	Amount      int64     `json:"amount"`
	Spent       int64     `json:"spent"`
	Remaining   int64     `json:"remaining"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Create handles POST /budgets.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req budgetRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	v, err := h.service.Create(c.UserContext(), currentUser(c), Input(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(v))
}

// Update handles PUT /budgets/:id.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req budgetRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	v, err := h.service.Update(c.UserContext(), currentUser(c), c.Params("id"), Input(req))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(v))
}

// Delete handles DELETE /budgets/:id.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), currentUser(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Get handles GET /budgets/:id?from=&to=.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.window(c)
	if err != nil {
		return err
	}
	v, err := h.service.Get(c.UserContext(), currentUser(c), c.Params("id"), w)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(v))
}

// List handles GET /budgets?from=&to=.
func (h *Handler) List(c *fiber.Ctx) error {
	w, err := h.window(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.UserContext(), currentUser(c), w)
	if err != nil {
		return err
	}
	out := make([]budgetResponse, 0, len(items))
	for _, v := range items {
		out = append(out, toResponse(v))
	}
	return c.JSON(fiber.Map{"budgets": out})
}

func (h *Handler) window(c *fiber.Ctx) (*ledger.Window, error) {
	from, err := ledger.ParseBound(c.Query("from"), h.loc)
	if err != nil {
		return nil, apperr.Fields(map[string]string{"from": err.Error()})
	}
	to, err := ledger.ParseBound(c.Query("to"), h.loc)
	if err != nil {
		return nil, apperr.Fields(map[string]string{"to": err.Error()})
	}
	return Window(from, to), nil
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

func toResponse(v View) budgetResponse {
	return budgetResponse{
		ID:          v.ID,
		CategoryID:  v.CategoryID,
		Currency:    v.Currency,
		Amount:      v.Amount,
		Spent:       v.Spent,
		Remaining:   v.Remaining,
		Description: v.Description,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}
