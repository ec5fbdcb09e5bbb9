package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pennywise/pennywise/internal/config"
	"github.com/pennywise/pennywise/internal/identity"
	"github.com/pennywise/pennywise/internal/ledger"
	"github.com/pennywise/pennywise/internal/logging"
)

func setup(t *testing.T) (*Service, identity.User) {
	t.Helper()
	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo, ledger.NewInMemory(), "USD", logging.Discard())
	user, err := ids.Register(context.Background(), identity.Registration{Email: "erin@example.com", Username: "erin", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	return NewService(cfg, repo), user
}

func TestLoginVerifyAndLogout(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in %d", pair.ExpiresIn)
	}

	userID, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, userID)
	}

	if _, err := svc.Verify(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token after logout, got %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected refresh to fail after logout, got %v", err)
	}
}

func TestRefreshIssuesAccessToken(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	access, _, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.Verify(ctx, access); err != nil {
		t.Fatalf("verify refreshed token: %v", err)
	}
}

func TestVerifyRejectsExpiredAndTampered(t *testing.T) {
	svc, user := setup(t)
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.AccessToken+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tampered token to fail, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
