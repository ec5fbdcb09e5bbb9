package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/pennywise/pennywise/internal/apperr"
)

var (
	// ErrInsufficientFunds occurs when a debit (or the reversal of a credit)
	// would drive a balance below zero.
	ErrInsufficientFunds = apperr.Conflict("insufficient funds")

	// ErrDuplicateTransaction indicates the client transaction identifier was
	// already committed for this user; the stored transaction is returned with it.
	ErrDuplicateTransaction = apperr.Conflict("duplicate transaction")

	// ErrSpendingLimitExceeded rejects a debit that would exceed the monthly spending limit.
	ErrSpendingLimitExceeded = apperr.Conflict("amount exceeds the remaining spending limit for this month")

	// ErrBudgetExceeded rejects a debit larger than the remaining budget.
	ErrBudgetExceeded = apperr.Conflict("amount exceeds the remaining budget")

	// ErrBudgetBelowSpent rejects lowering a budget under what has been spent against it.
	ErrBudgetBelowSpent = apperr.Conflict("budget amount is below what has already been spent")

	// ErrReferenceRequired rejects a non-deposit transaction without a budget or category.
	ErrReferenceRequired = apperr.Validation("Please select either a budget or a category")

	// ErrReferenceConflict rejects a transaction that names both a budget and a category.
	ErrReferenceConflict = apperr.Validation("Please select either a budget or a category, not both")

	ErrAccountNotFound     = apperr.NotFound("account not found")
	ErrAccountExists       = apperr.Conflict("account already open in another currency")
	ErrTransactionNotFound = apperr.NotFound("transaction not found")
	ErrBudgetNotFound      = apperr.NotFound("budget not found")
	ErrNotCreator          = apperr.Forbidden("only the creator can change this transaction")
	ErrCurrencyMismatch    = apperr.Validation("budget currency does not match the account currency")
	ErrImmutablePayment    = apperr.Validation("the amount of a friend payment cannot be changed")
	ErrInvalidConversion   = apperr.Validation("recipient amount does not match the exchange rate")

	// ErrBalanceOverflow rejects a credit the balance cannot represent.
	ErrBalanceOverflow = apperr.Validation("amount would overflow the account balance")
)

// MaxAmount is the largest amount, in minor units, a single transaction,
// budget or spending limit may carry.
const MaxAmount int64 = 1_000_000_000_000_000

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Ledger defines the contract implemented by ledger backends. Every mutating
// call is a single atomic unit: ceiling checks, balance changes and the
// transaction row commit together or not at all.
type Ledger interface {
	OpenAccount(ctx context.Context, userID, currency string) (Account, error)
	Account(ctx context.Context, userID string) (Account, error)
	SetSpendingLimit(ctx context.Context, userID string, limit *int64) (Account, error)

	Post(ctx context.Context, p Posting) (Receipt, error)
	Amend(ctx context.Context, a Amendment) (Receipt, error)
	Reverse(ctx context.Context, userID, transactionID string) (Receipt, error)
	Transaction(ctx context.Context, userID, transactionID string) (Transaction, error)
	Transactions(ctx context.Context, userID string, q Query) ([]Transaction, error)
	TotalAmount(ctx context.Context, userID string, flow Flow, w Window) (int64, error)

	CreateBudget(ctx context.Context, b Budget) (Budget, error)
	UpdateBudget(ctx context.Context, b Budget) (Budget, error)
	DeleteBudget(ctx context.Context, userID, budgetID string) error
	Budget(ctx context.Context, userID, budgetID string) (Budget, error)
	Budgets(ctx context.Context, userID string) ([]Budget, error)
	BudgetSpent(ctx context.Context, budgetID string, w *Window) (int64, error)
}

// Option configures a ledger backend.
type Option func(*options)

type options struct {
	now        func() time.Time
	loc        *time.Location
	maxRetries int
	logger     *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.UTC, maxRetries: 3, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the wall clock used for timestamps and month windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the location in which calendar months are computed.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithMaxRetries bounds retries of a unit of work after a serialization failure.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
