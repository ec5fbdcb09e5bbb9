package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/ledger"
)

const minPasswordLength = 8

var (
	ErrUserExists         = apperr.Conflict("email or username already registered")
	ErrUserNotFound       = apperr.NotFound("user not found")
	ErrInvalidCredentials = apperr.Unauthorized("invalid credentials")

	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,32}$`)
)

// AccountOpener opens the ledger account a new user pays from.
type AccountOpener interface {
	OpenAccount(ctx context.Context, userID, currency string) (ledger.Account, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo            Repository
	accounts        AccountOpener
	defaultCurrency string
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, accounts AccountOpener, defaultCurrency string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, accounts: accounts, defaultCurrency: defaultCurrency, logger: logger, now: time.Now}
}

// Register creates a user with a bcrypt password hash and opens their ledger
// account in the chosen home currency.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Currency = strings.ToUpper(strings.TrimSpace(reg.Currency))
	if reg.Currency == "" {
		reg.Currency = s.defaultCurrency
	}

	fields := map[string]string{}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		fields["email"] = "is invalid"
	}
	if !usernamePattern.MatchString(reg.Username) {
		fields["username"] = "must be 3-32 letters, digits, dots or underscores"
	}
	if utf8.RuneCountInString(reg.Password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if len(reg.Currency) != 3 {
		fields["currency"] = "must be a 3 letter code"
	}
	if len(fields) > 0 {
		return User{}, apperr.Fields(fields)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        reg.Email,
		Username:     reg.Username,
		PasswordHash: hash,
		Currency:     reg.Currency,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	if _, err := s.accounts.OpenAccount(ctx, user.ID, user.Currency); err != nil {
		s.logger.Error("open ledger account", slog.String("user_id", user.ID), slog.Any("error", err))
		// Every user owns an account; drop the row so a retry can reuse the
		// email and username.
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			s.logger.Error("remove user after failed account opening", slog.String("user_id", user.ID), slog.Any("error", delErr))
			return User{}, errors.Join(err, delErr)
		}
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies a password against an email address or username.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	login := strings.TrimSpace(creds.Login)
	if login == "" || creds.Password == "" {
		return User{}, ErrInvalidCredentials
	}

	var (
		user User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = s.repo.FindByEmail(ctx, login)
	} else {
		user, err = s.repo.FindByUsername(ctx, login)
	}
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("record login", slog.String("user_id", user.ID), slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}
	return user, nil
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Lookup resolves a friend by username or email, for invitations.
func (s *Service) Lookup(ctx context.Context, login string) (User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return s.repo.FindByEmail(ctx, login)
	}
	return s.repo.FindByUsername(ctx, login)
}
