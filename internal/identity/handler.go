package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/ledger"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	ledger  ledger.Ledger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, l ledger.Ledger) *Handler {
	return &Handler{service: service, ledger: l}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Currency string `json:"currency"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Currency string `json:"currency"`
}

type profileResponse struct {
	userResponse
	Balance       int64      `json:"balance"`
	SpendingLimit *int64     `json:"spending_limit"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	user, err := h.service.Register(c.UserContext(), Registration{
		Email: req.Email, Username: req.Username, Password: req.Password, Currency: req.Currency,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toUserResponse(user))
}

// Me returns the caller's profile together with their ledger position.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	user, err := h.service.User(c.UserContext(), userID)
	if err != nil {
		return err
	}
	acct, err := h.ledger.Account(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(profileResponse{
		userResponse:  toUserResponse(user),
		Balance:       acct.Balance,
		SpendingLimit: acct.SpendingLimit,
		LastLogin:     user.LastLogin,
		CreatedAt:     user.CreatedAt,
	})
}

type spendingLimitRequest struct {
	SpendingLimit *int64 `json:"spending_limit"`
}

// SetSpendingLimit sets or clears (null) the caller's monthly spending limit.
func (h *Handler) SetSpendingLimit(c *fiber.Ctx) error {
	var req spendingLimitRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	userID, _ := c.Locals("user_id").(string)
	acct, err := h.ledger.SetSpendingLimit(c.UserContext(), userID, req.SpendingLimit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"balance": acct.Balance, "spending_limit": acct.SpendingLimit, "currency": acct.Currency})
}

func toUserResponse(user User) userResponse {
	return userResponse{UserID: user.ID, Email: user.Email, Username: user.Username, Currency: user.Currency}
}
