package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes how a transaction moves money.
type TransactionType string

const (
	TypeDeposit   TransactionType = "Deposit"
	TypeExpense   TransactionType = "Expense"
	TypePayFriend TransactionType = "Pay friend"
)

// ParseTransactionType accepts the canonical names case-insensitively, plus
// "pay_friend" for clients that cannot send spaces.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit":
		return TypeDeposit, nil
	case "expense":
		return TypeExpense, nil
	case "pay friend", "pay_friend", "payfriend":
		return TypePayFriend, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// Debits reports whether the creator's balance decreases.
func (t TransactionType) Debits() bool {
	return t == TypeExpense || t == TypePayFriend
}

// Flow selects one side of a user's cash flow.
type Flow string

const (
	// FlowIncome is deposits plus friend payments received.
	FlowIncome Flow = "income"
	// FlowExpenditure is expenses plus friend payments sent.
	FlowExpenditure Flow = "expenditure"
)

// ParseFlow is case-insensitive: "Income" and "income" name the same flow.
func ParseFlow(s string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return FlowIncome, nil
	case "expenditure", "expense", "expenses":
		return FlowExpenditure, nil
	}
	return "", fmt.Errorf("unknown flow %q", s)
}

// Window is the half-open range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// MonthWindow returns the calendar month containing t, evaluated in loc.
func MonthWindow(t time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return Window{From: from, To: from.AddDate(0, 1, 0)}
}

// Account is a user's ledger position in their home currency.
type Account struct {
	UserID        string
	Currency      string
	Balance       int64
	SpendingLimit *int64
	UpdatedAt     time.Time
}

// Budget caps spending in one category. Spent is derived, never stored.
type Budget struct {
	ID          string
	UserID      string
	CategoryID  int
	Currency    string
	Amount      int64
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is a committed money movement.
type Transaction struct {
	ID                string
	UserID            string
	Title             string
	Type              TransactionType
	Amount            int64
	CategoryID        *int
	BudgetID          *string
	PayerID           string
	RecipientID       string
	PayerCurrency     string
	RecipientCurrency string
	ExchangeRate      *decimal.Decimal
	RecipientAmount   int64
	Description       string
	ClientTxID        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Effect is the signed balance change the transaction applies to userID.
func (t Transaction) Effect(userID string) int64 {
	var delta int64
	if t.PayerID == userID {
		delta -= t.Amount
	}
	if t.RecipientID == userID {
		delta += t.RecipientAmount
	}
	return delta
}

// Involves reports whether userID is creator, payer or recipient.
func (t Transaction) Involves(userID string) bool {
	return t.UserID == userID || t.PayerID == userID || t.RecipientID == userID
}

// Posting requests a new transaction for UserID.
type Posting struct {
	UserID      string
	Title       string
	Type        TransactionType
	Amount      int64
	CategoryID  *int
	BudgetID    *string
	Description string
	ClientTxID  string

	// Friend payments only. RecipientAmount must equal round(Amount * ExchangeRate)
	// when currencies differ and Amount otherwise.
	RecipientID       string
	RecipientCurrency string
	ExchangeRate      *decimal.Decimal
	RecipientAmount   int64
}

// Amendment replaces the editable fields of an existing transaction.
type Amendment struct {
	UserID        string
	TransactionID string
	Title         string
	Description   string
	Amount        int64
	CategoryID    *int
	BudgetID      *string
}

// Receipt is the outcome of a mutating ledger call.
type Receipt struct {
	Transaction Transaction
	// Balance is the acting user's balance after the unit committed.
	Balance int64
}

// Query filters a transaction listing.
type Query struct {
	Limit    int
	Offset   int
	From     *time.Time
	To       *time.Time
	Search   string
	Type     TransactionType
	BudgetID string
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// ParseBound parses a window bound given as RFC 3339 or as a calendar date,
// which is taken as midnight in loc. An empty value yields nil.
func ParseBound(value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q", value)
	}
	return &t, nil
}
