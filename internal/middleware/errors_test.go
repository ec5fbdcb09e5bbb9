package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/logging"
)

type stubVerifier map[string]string

func (s stubVerifier) Verify(_ context.Context, token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", apperr.Unauthorized("invalid token")
}

func newErrorApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(RequestID())
	app.Get("/", handlers...)
	return app
}

func call(t *testing.T, app *fiber.App, req *http.Request) (int, errorBody) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestErrorHandlerMapsKinds(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation fields", apperr.Fields(map[string]string{"amount": "must be positive"}), http.StatusBadRequest, "validation_failed", "validation failed"},
		{"wrapped conflict", fmt.Errorf("post: %w", apperr.Conflict("Insufficient funds")), http.StatusConflict, "conflict", "Insufficient funds"},
		{"upstream", apperr.Upstream("exchange rates unavailable", errors.New("dial tcp")), http.StatusServiceUnavailable, "upstream_unavailable", "exchange rates unavailable"},
		{"fiber error", fiber.NewError(fiber.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "rate_limited", "slow down"},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal", "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newErrorApp(func(*fiber.Ctx) error { return tc.err })
			req := httptest.NewRequest(fiber.MethodGet, "/", nil)
			req.Header.Set(requestIDHeader, "req-1")

			status, body := call(t, app, req)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
			assert.Equal(t, "req-1", body.RequestID)
			if tc.name != "validation fields" {
				assert.Equal(t, tc.message, body.Message)
			} else {
				assert.Equal(t, "must be positive", body.Fields["amount"])
			}
		})
	}
}

func TestJWTAuth(t *testing.T) {
	app := newErrorApp(JWTAuth(stubVerifier{"good": "user-1"}), func(c *fiber.Ctx) error {
		return c.JSON(errorBody{Message: c.Locals("user_id").(string)})
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	status, body := call(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing bearer token", body.Message)

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer nope")
	status, _ = call(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, "bearer good")
	status, body = call(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-1", body.Message)
}
