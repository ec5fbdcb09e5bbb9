package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennywise/pennywise/internal/config"
	"github.com/pennywise/pennywise/internal/fx"
	"github.com/pennywise/pennywise/internal/logging"
	"github.com/pennywise/pennywise/internal/middleware"
)

type client struct {
	t   *testing.T
	app *fiber.App
}

func newClient(t *testing.T) *client {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	cfg := config.Config{
		AppName:          "PennyWise",
		AppEnv:           "test",
		JWTSecret:        "test-access",
		RefreshSecret:    "test-refresh",
		AccessTokenTTL:   time.Minute,
		RefreshTokenTTL:  time.Hour,
		IdempotencyTTL:   time.Minute,
		FXCacheTTL:       time.Hour,
		DefaultCurrency:  "USD",
		LedgerLocation:   time.UTC,
		LedgerMaxRetries: 3,
	}
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	err := Setup(app, Deps{
		Cfg:    cfg,
		Cache:  cache,
		Logger: logger,
		Rates:  fx.StaticProvider{Snapshot: fx.DefaultRates()},
	})
	require.NoError(t, err)
	return &client{t: t, app: app}
}

func (c *client) do(method, path, token string, body any, headers ...string) (int, map[string]any) {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (c *client) signup(username, currency string) (string, string) {
	c.t.Helper()
	status, body := c.do(fiber.MethodPost, "/api/v1/identity/register", "", map[string]any{
		"email":    username + "@example.com",
		"username": username,
		"password": "correct-horse",
		"currency": currency,
	})
	require.Equal(c.t, http.StatusCreated, status, body)

	status, body = c.do(fiber.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"login":    username,
		"password": "correct-horse",
	})
	require.Equal(c.t, http.StatusOK, status, body)
	return body["user_id"].(string), body["access_token"].(string)
}

func TestLedgerFlowOverHTTP(t *testing.T) {
	c := newClient(t)
	_, alice := c.signup("alice", "USD")
	bobID, bob := c.signup("bob", "HKD")

	status, body := c.do(fiber.MethodPost, "/api/v1/transactions", alice, map[string]any{
		"title": "Salary", "transaction_type": "Deposit", "amount": 10_000,
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 10_000, body["balance"])

	status, body = c.do(fiber.MethodPost, "/api/v1/budgets", alice, map[string]any{
		"category_id": 3, "amount": 2_000, "description": "Groceries",
	})
	require.Equal(t, http.StatusCreated, status, body)
	budgetID := body["id"].(string)
	assert.Equal(t, "USD", body["currency"])

	expense := map[string]any{"title": "Market", "transaction_type": "Expense", "amount": 1_500, "budget_id": budgetID}
	status, body = c.do(fiber.MethodPost, "/api/v1/transactions", alice, expense, "Idempotency-Key", "market-1")
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 8_500, body["balance"])

	// Replays are answered from the idempotency cache without a second debit.
	status, body = c.do(fiber.MethodPost, "/api/v1/transactions", alice, expense, "Idempotency-Key", "market-1")
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 8_500, body["balance"])

	status, body = c.do(fiber.MethodPost, "/api/v1/transactions", alice, map[string]any{
		"title": "More", "transaction_type": "Expense", "amount": 600, "budget_id": budgetID,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["code"])

	status, body = c.do(fiber.MethodGet, "/api/v1/budgets/"+budgetID, alice, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1_500, body["spent"])
	assert.EqualValues(t, 500, body["remaining"])

	status, body = c.do(fiber.MethodPost, "/api/v1/friends", alice, map[string]any{"login": "bob"})
	require.Equal(t, http.StatusCreated, status, body)
	friendshipID := body["id"].(string)

	status, body = c.do(fiber.MethodPost, "/api/v1/transactions", alice, map[string]any{
		"title": "Dinner", "transaction_type": "Pay friend", "amount": 1_000, "recipient_id": bobID, "category_id": 2,
	})
	assert.Equal(t, http.StatusForbidden, status, body)

	status, body = c.do(fiber.MethodPost, "/api/v1/friends/"+friendshipID+"/accept", bob, nil)
	require.Equal(t, http.StatusOK, status, body)

	status, body = c.do(fiber.MethodPost, "/api/v1/transactions", alice, map[string]any{
		"title": "Dinner", "transaction_type": "Pay friend", "amount": 1_000, "recipient_id": bobID, "category_id": 2,
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 7_500, body["balance"])
	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "7.8", tx["exchange_rate"])
	assert.EqualValues(t, 7_800, tx["recipient_amount"])

	status, body = c.do(fiber.MethodGet, "/api/v1/me", bob, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 7_800, body["balance"])
	assert.Equal(t, "HKD", body["currency"])

	status, body = c.do(fiber.MethodGet, "/api/v1/notifications?unread=true", bob, nil)
	require.Equal(t, http.StatusOK, status, body)
	kinds := []string{}
	for _, n := range body["notifications"].([]any) {
		kinds = append(kinds, n.(map[string]any)["kind"].(string))
	}
	assert.ElementsMatch(t, []string{"friend_request", "payment_received"}, kinds)

	status, body = c.do(fiber.MethodGet, "/api/v1/transactions/summary?flow=expenditure", alice, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2_500, body["total"])

	status, body = c.do(fiber.MethodGet, "/api/v1/transactions/summary?flow=income", bob, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 7_800, body["total"])
}

func TestValidationErrorsCarryFields(t *testing.T) {
	c := newClient(t)
	_, alice := c.signup("alice", "USD")

	status, body := c.do(fiber.MethodPost, "/api/v1/transactions", alice, map[string]any{
		"title": "Lunch", "transaction_type": "Expense", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Please select either a budget or a category", body["message"])
	assert.NotEmpty(t, body["request_id"])

	status, body = c.do(fiber.MethodGet, "/api/v1/transactions/summary?flow=sideways", alice, nil)
	assert.Equal(t, http.StatusBadRequest, status, body)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newClient(t)
	status, body := c.do(fiber.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["code"])

	_, alice := c.signup("alice", "USD")
	status, _ = c.do(fiber.MethodPost, "/api/v1/auth/logout", alice, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = c.do(fiber.MethodGet, "/api/v1/me", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthReportsDisabledBackends(t *testing.T) {
	c := newClient(t)
	status, body := c.do(fiber.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	checks := body["status"].(map[string]any)
	assert.Equal(t, "disabled", checks["postgres"])
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "disabled", checks["kafka"])
}
