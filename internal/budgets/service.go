package budgets

import (
	"context"
	"time"

	"github.com/pennywise/pennywise/internal/ledger"
)

// View is a budget with its derived spend.
type View struct {
	ledger.Budget
	Spent     int64
	Remaining int64
}

// Service reads and writes budgets through the ledger, which owns the
// ceiling invariants.
type Service struct {
	ledger ledger.Ledger
}

// NewService constructs a budget service.
func NewService(l ledger.Ledger) *Service {
	return &Service{ledger: l}
}

// Input is the writable part of a budget.
type Input struct {
	CategoryID  int
	Currency    string
	Amount      int64
	Description string
}

// Create adds a budget; the currency defaults to the owner's account currency.
func (s *Service) Create(ctx context.Context, userID string, in Input) (View, error) {
	b, err := s.ledger.CreateBudget(ctx, ledger.Budget{
		UserID:      userID,
		CategoryID:  in.CategoryID,
		Currency:    in.Currency,
		Amount:      in.Amount,
		Description: in.Description,
	})
	if err != nil {
		return View{}, err
	}
	return View{Budget: b, Remaining: b.Amount}, nil
}

// Update replaces category, amount and description.
func (s *Service) Update(ctx context.Context, userID, budgetID string, in Input) (View, error) {
	b, err := s.ledger.UpdateBudget(ctx, ledger.Budget{
		ID:          budgetID,
		UserID:      userID,
		CategoryID:  in.CategoryID,
		Amount:      in.Amount,
		Description: in.Description,
	})
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, b, nil)
}

// Delete removes a budget; its transactions move to the budget's category.
func (s *Service) Delete(ctx context.Context, userID, budgetID string) error {
	return s.ledger.DeleteBudget(ctx, userID, budgetID)
}

// Get returns one budget. When w is set, Spent covers only that window;
// Remaining does not.
func (s *Service) Get(ctx context.Context, userID, budgetID string, w *ledger.Window) (View, error) {
	b, err := s.ledger.Budget(ctx, userID, budgetID)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, b, w)
}

// List returns the user's budgets, newest first.
func (s *Service) List(ctx context.Context, userID string, w *ledger.Window) ([]View, error) {
	items, err := s.ledger.Budgets(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(items))
	for _, b := range items {
		v, err := s.view(ctx, b, w)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// view fills Spent for w. Remaining always reflects all-time spend, which is
// what the ledger checks a new debit against.
func (s *Service) view(ctx context.Context, b ledger.Budget, w *ledger.Window) (View, error) {
	total, err := s.ledger.BudgetSpent(ctx, b.ID, nil)
	if err != nil {
		return View{}, err
	}
	spent := total
	if w != nil {
		if spent, err = s.ledger.BudgetSpent(ctx, b.ID, w); err != nil {
			return View{}, err
		}
	}
	return View{Budget: b, Spent: spent, Remaining: b.Amount - total}, nil
}

// Window builds a spend window from optional bounds. It returns nil when both
// are nil; an open end extends to the far past or future.
func Window(from, to *time.Time) *ledger.Window {
	if from == nil && to == nil {
		return nil
	}
	w := ledger.Window{From: time.Unix(0, 0).UTC(), To: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	if from != nil {
		w.From = *from
	}
	if to != nil {
		w.To = *to
	}
	return &w
}
