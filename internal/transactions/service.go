package transactions

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/fx"
	"github.com/pennywise/pennywise/internal/ledger"
	"github.com/pennywise/pennywise/internal/notification"
)

// ErrNotFriends rejects a payment to someone who is not an accepted, unblocked friend.
var ErrNotFriends = apperr.Forbidden("you can only pay friends")

// Friends answers whether two users may pay each other.
type Friends interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Converter converts a payer amount into the recipient's currency.
type Converter interface {
	Convert(ctx context.Context, amount int64, from, to string) (fx.Conversion, error)
}

// Notifier records events for the affected user.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) (notification.Notification, error)
	Retract(ctx context.Context, transactionID string) error
}

// Service validates requests and orchestrates ledger postings.
type Service struct {
	ledger    ledger.Ledger
	friends   Friends
	converter Converter
	notifier  Notifier
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewService constructs a transaction service. loc is the location in which
// calendar months are evaluated for summaries.
func NewService(l ledger.Ledger, friends Friends, converter Converter, notifier Notifier, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{ledger: l, friends: friends, converter: converter, notifier: notifier, logger: logger, loc: loc, now: time.Now}
}

// CreateInput captures a new transaction request.
type CreateInput struct {
	Title       string
	Type        string
	Amount      int64
	CategoryID  *int
	BudgetID    *string
	Description string
	RecipientID string
	ClientTxID  string
}

// Result is the ledger outcome of a create, update or delete.
type Result struct {
	Transaction ledger.Transaction
	Balance     int64
	// Duplicate is set when ClientTxID had already been committed.
	Duplicate bool
}

// Create validates the request, resolves conversion for friend payments and
// posts it to the ledger.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Result, error) {
	kind, err := ledger.ParseTransactionType(in.Type)
	if err != nil {
		return Result{}, apperr.Fields(map[string]string{"transaction_type": "must be Deposit, Expense or Pay friend"})
	}
	if in.ClientTxID == "" {
		in.ClientTxID = uuid.NewString()
	}

	p := ledger.Posting{
		UserID:      userID,
		Title:       in.Title,
		Type:        kind,
		Amount:      in.Amount,
		CategoryID:  in.CategoryID,
		BudgetID:    in.BudgetID,
		Description: in.Description,
		ClientTxID:  in.ClientTxID,
	}

	if kind == ledger.TypePayFriend {
		if err := s.preparePayment(ctx, &p, strings.TrimSpace(in.RecipientID)); err != nil {
			return Result{}, err
		}
	}

	receipt, err := s.ledger.Post(ctx, p)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Result{Transaction: receipt.Transaction, Balance: receipt.Balance, Duplicate: true}, nil
	}
	if err != nil {
		s.logger.Debug("posting rejected", slog.String("user_id", userID), slog.String("type", string(kind)), slog.Any("error", err))
		return Result{}, err
	}

	if kind == ledger.TypePayFriend && s.notifier != nil {
		txID := receipt.Transaction.ID
		if _, err := s.notifier.Notify(ctx, notification.Notification{
			UserID:        receipt.Transaction.RecipientID,
			Kind:          notification.KindPaymentReceived,
			ActorID:       userID,
			TransactionID: &txID,
		}); err != nil {
			s.logger.Warn("store payment notification", slog.String("transaction_id", txID), slog.Any("error", err))
		}
	}

	return Result{Transaction: receipt.Transaction, Balance: receipt.Balance}, nil
}

func (s *Service) preparePayment(ctx context.Context, p *ledger.Posting, recipientID string) error {
	if recipientID == "" {
		return apperr.Fields(map[string]string{"recipient_id": "is required"})
	}
	if recipientID == p.UserID {
		return apperr.Fields(map[string]string{"recipient_id": "cannot be yourself"})
	}
	ok, err := s.friends.AreFriends(ctx, p.UserID, recipientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFriends
	}

	payer, err := s.ledger.Account(ctx, p.UserID)
	if err != nil {
		return err
	}
	recipient, err := s.ledger.Account(ctx, recipientID)
	if err != nil {
		return err
	}
	if p.Amount <= 0 {
		return apperr.Fields(map[string]string{"amount": "must be positive"})
	}
	conv, err := s.converter.Convert(ctx, p.Amount, payer.Currency, recipient.Currency)
	if err != nil {
		return err
	}

	p.RecipientID = recipientID
	p.RecipientCurrency = recipient.Currency
	p.RecipientAmount = conv.Amount
	if conv.Cross {
		rate := conv.Rate
		p.ExchangeRate = &rate
	}
	return nil
}

// UpdateInput carries the fields of a PATCH; nil fields keep their value.
// Setting a budget drops the category and the reverse.
type UpdateInput struct {
	Title       *string
	Description *string
	Amount      *int64
	CategoryID  *int
	BudgetID    *string
}

// Update merges in over the stored transaction and amends it.
func (s *Service) Update(ctx context.Context, userID, transactionID string, in UpdateInput) (Result, error) {
	current, err := s.ledger.Transaction(ctx, userID, transactionID)
	if err != nil {
		return Result{}, err
	}

	a := ledger.Amendment{
		UserID:        userID,
		TransactionID: transactionID,
		Title:         current.Title,
		Description:   current.Description,
		Amount:        current.Amount,
		CategoryID:    current.CategoryID,
		BudgetID:      current.BudgetID,
	}
	if in.Title != nil {
		a.Title = *in.Title
	}
	if in.Description != nil {
		a.Description = *in.Description
	}
	if in.Amount != nil {
		a.Amount = *in.Amount
	}
	switch {
	case in.CategoryID != nil && in.BudgetID != nil:
		a.CategoryID, a.BudgetID = in.CategoryID, in.BudgetID
	case in.CategoryID != nil:
		a.CategoryID, a.BudgetID = in.CategoryID, nil
	case in.BudgetID != nil:
		a.CategoryID, a.BudgetID = nil, in.BudgetID
	}

	receipt, err := s.ledger.Amend(ctx, a)
	if err != nil {
		return Result{}, err
	}
	return Result{Transaction: receipt.Transaction, Balance: receipt.Balance}, nil
}

// Delete reverses the transaction's balance effect and removes it.
func (s *Service) Delete(ctx context.Context, userID, transactionID string) (Result, error) {
	receipt, err := s.ledger.Reverse(ctx, userID, transactionID)
	if err != nil {
		return Result{}, err
	}
	if receipt.Transaction.Type == ledger.TypePayFriend && s.notifier != nil {
		if err := s.notifier.Retract(ctx, receipt.Transaction.ID); err != nil {
			s.logger.Warn("retract payment notification", slog.String("transaction_id", receipt.Transaction.ID), slog.Any("error", err))
		}
	}
	return Result{Transaction: receipt.Transaction, Balance: receipt.Balance}, nil
}

// Get returns a transaction visible to userID.
func (s *Service) Get(ctx context.Context, userID, transactionID string) (ledger.Transaction, error) {
	return s.ledger.Transaction(ctx, userID, transactionID)
}

// List returns transactions visible to userID, newest first.
func (s *Service) List(ctx context.Context, userID string, q ledger.Query) ([]ledger.Transaction, error) {
	return s.ledger.Transactions(ctx, userID, q)
}

// Summary is the total of one flow over a window, in the user's currency.
type Summary struct {
	Flow     ledger.Flow
	From     time.Time
	To       time.Time
	Total    int64
	Currency string
}

// Summary totals flow over [from, to). Missing bounds default to the current
// calendar month.
func (s *Service) Summary(ctx context.Context, userID, flow string, from, to *time.Time) (Summary, error) {
	f, err := ledger.ParseFlow(flow)
	if err != nil {
		return Summary{}, apperr.Fields(map[string]string{"flow": "must be income or expenditure"})
	}
	w := ledger.MonthWindow(s.now(), s.loc)
	if from != nil {
		w.From = *from
	}
	if to != nil {
		w.To = *to
	}
	if !w.From.Before(w.To) {
		return Summary{}, apperr.Fields(map[string]string{"to": "must be after from"})
	}

	acct, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	total, err := s.ledger.TotalAmount(ctx, userID, f, w)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Flow: f, From: w.From, To: w.To, Total: total, Currency: acct.Currency}, nil
}
