package ledger

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/fx"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 500
)

var errDepositBudget = apperr.Validation("deposits cannot be charged to a budget")

func normalizePosting(p Posting) Posting {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.RecipientCurrency = strings.ToUpper(strings.TrimSpace(p.RecipientCurrency))
	if p.BudgetID != nil && strings.TrimSpace(*p.BudgetID) == "" {
		p.BudgetID = nil
	}
	if p.Type != TypePayFriend {
		p.RecipientID = ""
		p.RecipientCurrency = ""
		p.ExchangeRate = nil
		p.RecipientAmount = 0
	}
	return p
}

// validatePosting checks the shape of a posting before any state is read.
func validatePosting(p Posting) error {
	fields := map[string]string{}
	if p.UserID == "" {
		fields["user_id"] = "is required"
	}
	checkText(fields, p.Title, p.Description)
	checkAmount(fields, "amount", p.Amount)
	switch p.Type {
	case TypeDeposit, TypeExpense, TypePayFriend:
	default:
		fields["transaction_type"] = "must be Deposit, Expense or Pay friend"
	}
	if p.CategoryID != nil && *p.CategoryID <= 0 {
		fields["category_id"] = "is invalid"
	}
	if p.Type == TypePayFriend {
		switch {
		case p.RecipientID == "":
			fields["recipient_id"] = "is required"
		case p.RecipientID == p.UserID:
			fields["recipient_id"] = "cannot be yourself"
		}
		checkAmount(fields, "recipient_amount", p.RecipientAmount)
	}
	if len(fields) > 0 {
		return apperr.Fields(fields)
	}
	return checkReference(p.Type, p.CategoryID, p.BudgetID)
}

func checkAmount(fields map[string]string, name string, amount int64) {
	switch {
	case amount <= 0:
		fields[name] = "must be positive"
	case amount > MaxAmount:
		fields[name] = "is too large"
	}
}

func checkText(fields map[string]string, title, description string) {
	switch {
	case title == "":
		fields["title"] = "is required"
	case utf8.RuneCountInString(title) > maxTitleLength:
		fields["title"] = "is too long"
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		fields["description"] = "is too long"
	}
}

// checkReference enforces that a non-deposit names exactly one of budget or category.
func checkReference(t TransactionType, categoryID *int, budgetID *string) error {
	hasBudget := budgetID != nil && *budgetID != ""
	hasCategory := categoryID != nil
	if hasBudget && hasCategory {
		return ErrReferenceConflict
	}
	if t == TypeDeposit {
		if hasBudget {
			return errDepositBudget
		}
		return nil
	}
	if !hasBudget && !hasCategory {
		return ErrReferenceRequired
	}
	return nil
}

// checkConversion verifies the friend payment's recipient side against the
// authoritative accounts.
func checkConversion(p Posting, payer, recipient Account) error {
	if p.RecipientCurrency != recipient.Currency {
		return apperr.Validation("recipient currency does not match the recipient account")
	}
	if payer.Currency == recipient.Currency {
		if p.RecipientAmount != p.Amount {
			return ErrInvalidConversion
		}
		if p.ExchangeRate != nil && !p.ExchangeRate.Equal(decimal.NewFromInt(1)) {
			return ErrInvalidConversion
		}
		return nil
	}
	if p.ExchangeRate == nil || !p.ExchangeRate.IsPositive() {
		return ErrInvalidConversion
	}
	if fx.ApplyRate(p.Amount, *p.ExchangeRate) != p.RecipientAmount {
		return ErrInvalidConversion
	}
	return nil
}

// ceilingState is what the ceiling checks read, gathered under the account lock.
type ceilingState struct {
	account     Account
	budget      *Budget
	budgetSpent int64
	monthSpent  int64
}

func checkCeilings(amount int64, st ceilingState) error {
	if st.budget != nil {
		if st.budget.Currency != st.account.Currency {
			return ErrCurrencyMismatch
		}
		if amount > st.budget.Amount-st.budgetSpent {
			return ErrBudgetExceeded
		}
	}
	if limit := st.account.SpendingLimit; limit != nil && amount > *limit-st.monthSpent {
		return ErrSpendingLimitExceeded
	}
	return nil
}

func applyDelta(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return balance, ErrBalanceOverflow
	}
	next := balance + delta
	if next < 0 {
		return balance, ErrInsufficientFunds
	}
	return next, nil
}

func buildTransaction(p Posting, payer Account, id string, now time.Time) Transaction {
	t := Transaction{
		ID:          id,
		UserID:      p.UserID,
		Title:       p.Title,
		Type:        p.Type,
		Amount:      p.Amount,
		CategoryID:  p.CategoryID,
		BudgetID:    p.BudgetID,
		Description: p.Description,
		ClientTxID:  p.ClientTxID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch p.Type {
	case TypeDeposit:
		t.RecipientID = p.UserID
		t.RecipientCurrency = payer.Currency
		t.RecipientAmount = p.Amount
	case TypeExpense:
		t.PayerID = p.UserID
		t.PayerCurrency = payer.Currency
	case TypePayFriend:
		t.PayerID = p.UserID
		t.PayerCurrency = payer.Currency
		t.RecipientID = p.RecipientID
		t.RecipientCurrency = p.RecipientCurrency
		t.RecipientAmount = p.RecipientAmount
		if payer.Currency != p.RecipientCurrency {
			rate := *p.ExchangeRate
			t.ExchangeRate = &rate
		}
	}
	return t
}

// amendTransaction applies a to old, returning the replacement row.
func amendTransaction(old Transaction, a Amendment, now time.Time) (Transaction, error) {
	if old.UserID != a.UserID {
		return Transaction{}, ErrNotCreator
	}
	a.Title = strings.TrimSpace(a.Title)
	a.Description = strings.TrimSpace(a.Description)
	if a.BudgetID != nil && strings.TrimSpace(*a.BudgetID) == "" {
		a.BudgetID = nil
	}

	fields := map[string]string{}
	checkText(fields, a.Title, a.Description)
	checkAmount(fields, "amount", a.Amount)
	if a.CategoryID != nil && *a.CategoryID <= 0 {
		fields["category_id"] = "is invalid"
	}
	if len(fields) > 0 {
		return Transaction{}, apperr.Fields(fields)
	}
	if old.Type == TypePayFriend && a.Amount != old.Amount {
		return Transaction{}, ErrImmutablePayment
	}
	if err := checkReference(old.Type, a.CategoryID, a.BudgetID); err != nil {
		return Transaction{}, err
	}

	next := old
	next.Title = a.Title
	next.Description = a.Description
	next.Amount = a.Amount
	next.CategoryID = a.CategoryID
	next.BudgetID = a.BudgetID
	next.UpdatedAt = now
	if old.Type == TypeDeposit {
		next.RecipientAmount = a.Amount
	}
	return next, nil
}

func validateBudget(b Budget) error {
	fields := map[string]string{}
	if b.UserID == "" {
		fields["user_id"] = "is required"
	}
	if b.CategoryID <= 0 {
		fields["category_id"] = "is invalid"
	}
	checkAmount(fields, "amount", b.Amount)
	if len(b.Currency) != 3 {
		fields["currency"] = "must be a 3 letter code"
	}
	if utf8.RuneCountInString(b.Description) > maxDescriptionLength {
		fields["description"] = "is too long"
	}
	if len(fields) > 0 {
		return apperr.Fields(fields)
	}
	return nil
}

func validateCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", apperr.Fields(map[string]string{"currency": "must be a 3 letter code"})
	}
	return code, nil
}

func validateLimit(limit *int64) error {
	switch {
	case limit == nil:
	case *limit < 0:
		return apperr.Fields(map[string]string{"spending_limit": "must not be negative"})
	case *limit > MaxAmount:
		return apperr.Fields(map[string]string{"spending_limit": "is too large"})
	}
	return nil
}

// debitSpend is what a transaction contributes to its payer's spending.
func debitSpend(t Transaction, payerID string) int64 {
	if t.Type.Debits() && t.PayerID == payerID {
		return t.Amount
	}
	return 0
}

func flowAmount(t Transaction, userID string, flow Flow) int64 {
	switch flow {
	case FlowIncome:
		if t.RecipientID == userID {
			return t.RecipientAmount
		}
	case FlowExpenditure:
		return debitSpend(t, userID)
	}
	return 0
}
