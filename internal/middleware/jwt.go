package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
)

// TokenVerifier resolves an access token to the user it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (string, error)
}

// JWTAuth validates bearer access tokens and stores the caller in Locals("user_id").
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return apperr.Unauthorized("missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		userID, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			return err
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}
