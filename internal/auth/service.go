package auth

import (
	"context"
	"errors"
	"time"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/config"
	"github.com/pennywise/pennywise/internal/identity"
)

var (
	ErrInvalidToken = apperr.Unauthorized("invalid token")
	ErrTokenRevoked = apperr.Unauthorized("token invalidated")
)

// Service issues and verifies access and refresh tokens. Logging out bumps the
// user's token version so every token issued before it stops verifying.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, _, err := signHS256(user.ID, user.TokenVersion, tokenTypeAccess, []byte(s.cfg.JWTSecret), now, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := signHS256(user.ID, user.TokenVersion, tokenTypeRefresh, []byte(s.cfg.RefreshSecret), now, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := parseHS256(refreshToken, tokenTypeRefresh, []byte(s.cfg.RefreshSecret), s.now)
	if err != nil {
		return "", 0, ErrInvalidToken
	}
	if _, err := s.currentUser(ctx, claims); err != nil {
		return "", 0, err
	}

	signed, _, err := signHS256(claims.Subject, claims.Version, tokenTypeAccess, []byte(s.cfg.JWTSecret), s.now(), s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Verify checks an access token and returns the user id it was issued to.
func (s *Service) Verify(ctx context.Context, accessToken string) (string, error) {
	claims, err := parseHS256(accessToken, tokenTypeAccess, []byte(s.cfg.JWTSecret), s.now)
	if err != nil {
		return "", ErrInvalidToken
	}
	user, err := s.currentUser(ctx, claims)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) currentUser(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, ErrInvalidToken
	}
	if err != nil {
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
