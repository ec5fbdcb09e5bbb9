package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/ledger"
	"github.com/pennywise/pennywise/internal/logging"
)

func newTestService() (*Service, ledger.Ledger) {
	l := ledger.NewInMemory()
	return NewService(NewMemoryRepository(), l, "USD", logging.Discard()), l
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, l := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, Registration{Email: "Alice@Example.com", Username: "alice", Password: "correct horse", Currency: "hkd"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" || user.Currency != "HKD" {
		t.Fatalf("expected normalised email and currency, got %+v", user)
	}

	acct, err := l.Account(ctx, user.ID)
	if err != nil {
		t.Fatalf("expected ledger account to be opened: %v", err)
	}
	if acct.Currency != "HKD" || acct.Balance != 0 {
		t.Fatalf("unexpected account %+v", acct)
	}

	for _, login := range []string{"alice@example.com", "ALICE"} {
		authed, err := svc.Authenticate(ctx, Credentials{Login: login, Password: "correct horse"})
		if err != nil {
			t.Fatalf("authenticate %s: %v", login, err)
		}
		if authed.ID != user.ID || authed.LastLogin == nil {
			t.Fatalf("unexpected user %+v", authed)
		}
	}
}

func TestRegisterDefaultsCurrency(t *testing.T) {
	svc, _ := newTestService()
	user, err := svc.Register(context.Background(), Registration{Email: "bob@example.com", Username: "bob", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %s", user.Currency)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Register(context.Background(), Registration{Email: "not-an-email", Username: "x", Password: "short", Currency: "DOLLARS"})

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"email", "username", "password", "currency"} {
		if _, ok := appErr.Fields[field]; !ok {
			t.Fatalf("expected %s to be reported, got %v", field, appErr.Fields)
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, Registration{Email: "carol@example.com", Username: "carol", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Email: "other@example.com", Username: "Carol", Password: "password1"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, Registration{Email: "dan@example.com", Username: "dan", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Login: "dan", Password: "password2"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, Credentials{Login: "nobody", Password: "password1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected unknown users to look like bad credentials, got %v", err)
	}
}

type failingOpener struct{ err error }

func (f failingOpener) OpenAccount(context.Context, string, string) (ledger.Account, error) {
	return ledger.Account{}, f.err
}

func TestRegisterRollsBackUserWhenAccountFails(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	reg := Registration{Email: "erin@example.com", Username: "erin", Password: "password1"}

	broken := NewService(repo, failingOpener{err: errors.New("connection reset")}, "USD", logging.Discard())
	if _, err := broken.Register(ctx, reg); err == nil {
		t.Fatal("expected register to fail when the account cannot be opened")
	}
	if _, err := repo.FindByEmail(ctx, reg.Email); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected no user row after failed register, got %v", err)
	}
	if _, err := broken.Authenticate(ctx, Credentials{Login: "erin", Password: "password1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected login to fail for the rolled back user, got %v", err)
	}

	l := ledger.NewInMemory()
	svc := NewService(repo, l, "USD", logging.Discard())
	user, err := svc.Register(ctx, reg)
	if err != nil {
		t.Fatalf("retry register: %v", err)
	}
	if _, err := l.Account(ctx, user.ID); err != nil {
		t.Fatalf("expected account after retry: %v", err)
	}
}
