package ledger

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennywise/pennywise/internal/apperr"
)

func TestCheckReference(t *testing.T) {
	budget := strPtr("b-1")
	cases := []struct {
		name     string
		kind     TransactionType
		category *int
		budget   *string
		want     error
	}{
		{"expense with category", TypeExpense, intPtr(1), nil, nil},
		{"expense with budget", TypeExpense, nil, budget, nil},
		{"expense with neither", TypeExpense, nil, nil, ErrReferenceRequired},
		{"pay friend with both", TypePayFriend, intPtr(1), budget, ErrReferenceConflict},
		{"deposit with neither", TypeDeposit, nil, nil, nil},
		{"deposit with category", TypeDeposit, intPtr(9), nil, nil},
		{"deposit with budget", TypeDeposit, nil, budget, errDepositBudget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, checkReference(tc.kind, tc.category, tc.budget))
		})
	}
}

func TestValidatePostingCollectsFields(t *testing.T) {
	err := validatePosting(normalizePosting(Posting{UserID: "alice", Type: TypePayFriend, Amount: -5, RecipientID: "alice"}))
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Contains(t, appErr.Fields, "title")
	assert.Contains(t, appErr.Fields, "amount")
	assert.Equal(t, "cannot be yourself", appErr.Fields["recipient_id"])
}

func TestCheckConversionHoldsRoundedRate(t *testing.T) {
	payer := Account{UserID: "alice", Currency: "EUR"}
	recipient := Account{UserID: "bob", Currency: "USD"}
	rate := decimal.RequireFromString("1.0869565217")

	p := Posting{Amount: 1_999, RecipientCurrency: "USD", ExchangeRate: &rate, RecipientAmount: 2_173}
	require.NoError(t, checkConversion(p, payer, recipient))

	p.RecipientAmount = 2_172
	assert.ErrorIs(t, checkConversion(p, payer, recipient), ErrInvalidConversion)

	p.ExchangeRate = nil
	assert.ErrorIs(t, checkConversion(p, payer, recipient), ErrInvalidConversion)
}

func TestCheckCeilingsOrder(t *testing.T) {
	limit := int64(1_000)
	st := ceilingState{
		account:     Account{Currency: "USD", SpendingLimit: &limit},
		budget:      &Budget{Currency: "USD", Amount: 500},
		budgetSpent: 400,
		monthSpent:  900,
	}
	assert.ErrorIs(t, checkCeilings(200, st), ErrBudgetExceeded)

	st.budget.Amount = 10_000
	assert.ErrorIs(t, checkCeilings(200, st), ErrSpendingLimitExceeded)
	assert.NoError(t, checkCeilings(100, st))

	st.budget.Currency = "EUR"
	assert.ErrorIs(t, checkCeilings(1, st), ErrCurrencyMismatch)
}

func TestAmendTransactionGuards(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	payment := Transaction{ID: "t1", UserID: "alice", Type: TypePayFriend, Amount: 1_000, PayerID: "alice", RecipientID: "bob", CategoryID: intPtr(1)}

	_, err := amendTransaction(payment, Amendment{UserID: "bob", Title: "x", Amount: 1_000, CategoryID: intPtr(1)}, now)
	assert.ErrorIs(t, err, ErrNotCreator)

	_, err = amendTransaction(payment, Amendment{UserID: "alice", Title: "x", Amount: 1_500, CategoryID: intPtr(1)}, now)
	assert.ErrorIs(t, err, ErrImmutablePayment)

	next, err := amendTransaction(payment, Amendment{UserID: "alice", Title: " Concert ", Amount: 1_000, BudgetID: strPtr("b-2")}, now)
	require.NoError(t, err)
	assert.Equal(t, "Concert", next.Title)
	assert.Nil(t, next.CategoryID)
	assert.Equal(t, now, next.UpdatedAt)

	deposit := Transaction{ID: "t2", UserID: "alice", Type: TypeDeposit, Amount: 100, RecipientID: "alice", RecipientAmount: 100}
	next, err = amendTransaction(deposit, Amendment{UserID: "alice", Title: "Refund", Amount: 250}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(250), next.RecipientAmount)
	assert.Equal(t, int64(250), next.Effect("alice"))
}

func TestParseFlowAndType(t *testing.T) {
	flow, err := ParseFlow("Income")
	require.NoError(t, err)
	assert.Equal(t, FlowIncome, flow)

	kind, err := ParseTransactionType("pay_friend")
	require.NoError(t, err)
	assert.Equal(t, TypePayFriend, kind)

	_, err = ParseTransactionType("refund")
	assert.Error(t, err)
}

func TestAmountsNeverOverflow(t *testing.T) {
	_, err := applyDelta(math.MaxInt64-4, 5)
	assert.ErrorIs(t, err, ErrBalanceOverflow)
	next, err := applyDelta(math.MaxInt64-5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), next)

	err = validatePosting(normalizePosting(Posting{UserID: "alice", Title: "Lottery", Type: TypeDeposit, Amount: MaxAmount + 1}))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "is too large", appErr.Fields["amount"])
	assert.NoError(t, validatePosting(normalizePosting(Posting{UserID: "alice", Title: "Lottery", Type: TypeDeposit, Amount: MaxAmount})))

	assert.Error(t, validateLimit(int64Ptr(MaxAmount+1)))
	assert.NoError(t, validateLimit(int64Ptr(MaxAmount)))

	limit := int64(1_000)
	st := ceilingState{
		account:     Account{Currency: "USD", SpendingLimit: &limit},
		budget:      &Budget{Currency: "USD", Amount: 500},
		budgetSpent: 400,
	}
	assert.ErrorIs(t, checkCeilings(math.MaxInt64, st), ErrBudgetExceeded)
	st.budget = nil
	st.monthSpent = 1
	assert.ErrorIs(t, checkCeilings(math.MaxInt64, st), ErrSpendingLimitExceeded)
}

func TestInMemoryDepositRejectsBalanceOverflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	_, err := l.OpenAccount(ctx, "alice", "USD")
	require.NoError(t, err)
	SeedBalance(l, "alice", math.MaxInt64-10)

	_, err = l.Post(ctx, Posting{UserID: "alice", Title: "Salary", Type: TypeDeposit, Amount: 11})
	assert.ErrorIs(t, err, ErrBalanceOverflow)

	acct, err := l.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-10), acct.Balance)
}
