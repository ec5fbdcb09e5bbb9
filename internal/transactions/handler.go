package transactions

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/ledger"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Title           string  `json:"title"`
	TransactionType string  `json:"transaction_type"`
	Amount          int64   `json:"amount"`
	CategoryID      *int    `json:"category_id"`
	BudgetID        *string `json:"budget_id"`
	Description     string  `json:"description"`
	RecipientID     string  `json:"recipient_id"`
	ClientTxID      string  `json:"client_tx_id"`
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Amount      *int64  `json:"amount"`
	CategoryID  *int    `json:"category_id"`
	BudgetID    *string `json:"budget_id"`
}

type transactionResponse struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Title             string    `json:"title"`
	TransactionType   string    `json:"transaction_type"`
	Amount            int64     `json:"amount"`
	CategoryID        *int      `json:"category_id"`
	BudgetID          *string   `json:"budget_id"`
	PayerID           string    `json:"payer_id,omitempty"`
	RecipientID       string    `json:"recipient_id,omitempty"`
	PayerCurrency     string    `json:"payer_currency,omitempty"`
	RecipientCurrency string    `json:"recipient_currency,omitempty"`
	ExchangeRate      *string   `json:"exchange_rate,omitempty"`
	RecipientAmount   int64     `json:"recipient_amount,omitempty"`
	Description       string    `json:"description"`
	ClientTxID        string    `json:"client_tx_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type resultResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Balance     int64               `json:"balance"`
}

// Create handles POST /transactions. A replayed client_tx_id (or
// Idempotency-Key) answers 200 with the stored transaction.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.ClientTxID == "" {
		req.ClientTxID = strings.Clone(c.Get(idempotencyKeyHeader))
	}

	res, err := h.service.Create(c.UserContext(), currentUser(c), CreateInput{
		Title:       req.Title,
		Type:        req.TransactionType,
		Amount:      req.Amount,
		CategoryID:  req.CategoryID,
		BudgetID:    req.BudgetID,
		Description: req.Description,
		RecipientID: req.RecipientID,
		ClientTxID:  req.ClientTxID,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(toResult(res))
}

// Get handles GET /transactions/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(t))
}

// List handles GET /transactions with limit, offset, from, to, search, type and budget_id filters.
func (h *Handler) List(c *fiber.Ctx) error {
	q := ledger.Query{
		Limit:    c.QueryInt("limit"),
		Offset:   c.QueryInt("offset"),
		Search:   c.Query("search"),
		BudgetID: c.Query("budget_id"),
	}
	if v := c.Query("type"); v != "" {
		kind, err := ledger.ParseTransactionType(v)
		if err != nil {
			return apperr.Fields(map[string]string{"type": "must be Deposit, Expense or Pay friend"})
		}
		q.Type = kind
	}
	var err error
	if q.From, err = ledger.ParseBound(c.Query("from"), h.service.loc); err != nil {
		return apperr.Fields(map[string]string{"from": err.Error()})
	}
	if q.To, err = ledger.ParseBound(c.Query("to"), h.service.loc); err != nil {
		return apperr.Fields(map[string]string{"to": err.Error()})
	}

	items, err := h.service.List(c.UserContext(), currentUser(c), q)
	if err != nil {
		return err
	}
	out := make([]transactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toResponse(t))
	}
	return c.JSON(fiber.Map{"transactions": out})
}

// Update handles PATCH /transactions/:id.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.BudgetID != nil && strings.TrimSpace(*req.BudgetID) == "" {
		req.BudgetID = nil
	}
	res, err := h.service.Update(c.UserContext(), currentUser(c), c.Params("id"), UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		CategoryID:  req.CategoryID,
		BudgetID:    req.BudgetID,
	})
	if err != nil {
		return err
	}
	return c.JSON(toResult(res))
}

// Delete handles DELETE /transactions/:id.
func (h *Handler) Delete(c *fiber.Ctx) error {
	res, err := h.service.Delete(c.UserContext(), currentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transaction_id": res.Transaction.ID, "balance": res.Balance})
}

// Summary handles GET /transactions/summary?flow=income|expenditure&from=&to=.
func (h *Handler) Summary(c *fiber.Ctx) error {
	from, err := ledger.ParseBound(c.Query("from"), h.service.loc)
	if err != nil {
		return apperr.Fields(map[string]string{"from": err.Error()})
	}
	to, err := ledger.ParseBound(c.Query("to"), h.service.loc)
	if err != nil {
		return apperr.Fields(map[string]string{"to": err.Error()})
	}
	sum, err := h.service.Summary(c.UserContext(), currentUser(c), c.Query("flow"), from, to)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"flow":     sum.Flow,
		"from":     sum.From,
		"to":       sum.To,
		"total":    sum.Total,
		"currency": sum.Currency,
	})
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

func toResult(res Result) resultResponse {
	return resultResponse{Transaction: toResponse(res.Transaction), Balance: res.Balance}
}

func toResponse(t ledger.Transaction) transactionResponse {
	out := transactionResponse{
		ID:                t.ID,
		UserID:            t.UserID,
		Title:             t.Title,
		TransactionType:   string(t.Type),
		Amount:            t.Amount,
		CategoryID:        t.CategoryID,
		BudgetID:          t.BudgetID,
		PayerID:           t.PayerID,
		RecipientID:       t.RecipientID,
		PayerCurrency:     t.PayerCurrency,
		RecipientCurrency: t.RecipientCurrency,
		RecipientAmount:   t.RecipientAmount,
		Description:       t.Description,
		ClientTxID:        t.ClientTxID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if t.ExchangeRate != nil {
		rate := t.ExchangeRate.String()
		out.ExchangeRate = &rate
	}
	return out
}
