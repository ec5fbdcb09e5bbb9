package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pennywise/pennywise/internal/metrics"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	opts         options
	accounts     map[string]Account
	budgets      map[string]Budget
	transactions map[string]Transaction
	clientTx     map[string]string
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and local development. A single mutex makes every operation atomic.
func NewInMemory(opts ...Option) Ledger {
	return &inMemoryLedger{
		opts:         newOptions(opts),
		accounts:     make(map[string]Account),
		budgets:      make(map[string]Budget),
		transactions: make(map[string]Transaction),
		clientTx:     make(map[string]string),
	}
}

func (l *inMemoryLedger) OpenAccount(_ context.Context, userID, currency string) (Account, error) {
	currency, err := validateCurrency(currency)
	if err != nil {
		return Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, exists := l.accounts[userID]; exists {
		if acct.Currency != currency {
			return acct, ErrAccountExists
		}
		return acct, nil
	}
	acct := Account{UserID: userID, Currency: currency, UpdatedAt: l.opts.now().UTC()}
	l.accounts[userID] = acct
	return acct, nil
}

func (l *inMemoryLedger) Account(_ context.Context, userID string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (l *inMemoryLedger) SetSpendingLimit(_ context.Context, userID string, limit *int64) (Account, error) {
	if err := validateLimit(limit); err != nil {
		return Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if limit != nil {
		v := *limit
		limit = &v
	}
	acct.SpendingLimit = limit
	acct.UpdatedAt = l.opts.now().UTC()
	l.accounts[userID] = acct
	return acct, nil
}

func (l *inMemoryLedger) Post(_ context.Context, p Posting) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("post", err) }()

	p = normalizePosting(p)
	if err := validatePosting(p); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p.ClientTxID != "" {
		if id, exists := l.clientTx[clientKey(p.UserID, p.ClientTxID)]; exists {
			existing := l.transactions[id]
			return Receipt{Transaction: existing, Balance: l.accounts[p.UserID].Balance}, ErrDuplicateTransaction
		}
	}

	payer, ok := l.accounts[p.UserID]
	if !ok {
		return Receipt{}, ErrAccountNotFound
	}
	var recipient Account
	if p.Type == TypePayFriend {
		if recipient, ok = l.accounts[p.RecipientID]; !ok {
			return Receipt{}, ErrAccountNotFound
		}
		if err := checkConversion(p, payer, recipient); err != nil {
			return Receipt{}, err
		}
	}

	now := l.opts.now().UTC()
	if p.Type.Debits() {
		st, err := l.ceilings(payer, p.BudgetID, MonthWindow(now, l.opts.loc), "")
		if err != nil {
			return Receipt{}, err
		}
		if err := checkCeilings(p.Amount, st); err != nil {
			return Receipt{}, err
		}
	}

	t := buildTransaction(p, payer, uuid.NewString(), now)

	payerBalance, err := applyDelta(payer.Balance, t.Effect(payer.UserID))
	if err != nil {
		return Receipt{}, err
	}
	var recipientBalance int64
	if t.Type == TypePayFriend {
		if recipientBalance, err = applyDelta(recipient.Balance, t.Effect(recipient.UserID)); err != nil {
			return Receipt{}, err
		}
	}

	payer.Balance, payer.UpdatedAt = payerBalance, now
	l.accounts[payer.UserID] = payer
	if t.Type == TypePayFriend {
		recipient.Balance, recipient.UpdatedAt = recipientBalance, now
		l.accounts[recipient.UserID] = recipient
	}
	l.transactions[t.ID] = t
	if t.ClientTxID != "" {
		l.clientTx[clientKey(t.UserID, t.ClientTxID)] = t.ID
	}
	return Receipt{Transaction: t, Balance: payer.Balance}, nil
}

func (l *inMemoryLedger) Amend(_ context.Context, a Amendment) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("amend", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.transactions[a.TransactionID]
	if !ok || !old.Involves(a.UserID) {
		return Receipt{}, ErrTransactionNotFound
	}
	now := l.opts.now().UTC()
	next, err := amendTransaction(old, a, now)
	if err != nil {
		return Receipt{}, err
	}

	acct, ok := l.accounts[a.UserID]
	if !ok {
		return Receipt{}, ErrAccountNotFound
	}
	if next.Type.Debits() {
		st, err := l.ceilings(acct, next.BudgetID, MonthWindow(old.CreatedAt, l.opts.loc), old.ID)
		if err != nil {
			return Receipt{}, err
		}
		if err := checkCeilings(next.Amount, st); err != nil {
			return Receipt{}, err
		}
	}

	balance, err := applyDelta(acct.Balance, next.Effect(acct.UserID)-old.Effect(acct.UserID))
	if err != nil {
		return Receipt{}, err
	}
	acct.Balance, acct.UpdatedAt = balance, now
	l.accounts[acct.UserID] = acct
	l.transactions[next.ID] = next
	return Receipt{Transaction: next, Balance: balance}, nil
}

func (l *inMemoryLedger) Reverse(_ context.Context, userID, transactionID string) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("reverse", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.transactions[transactionID]
	if !ok || !t.Involves(userID) {
		return Receipt{}, ErrTransactionNotFound
	}
	if t.UserID != userID {
		return Receipt{}, ErrNotCreator
	}

	parties := involvedParties(t)
	updated := make([]Account, 0, len(parties))
	for _, id := range parties {
		acct, ok := l.accounts[id]
		if !ok {
			return Receipt{}, ErrAccountNotFound
		}
		balance, err := applyDelta(acct.Balance, -t.Effect(id))
		if err != nil {
			return Receipt{}, err
		}
		acct.Balance, acct.UpdatedAt = balance, l.opts.now().UTC()
		updated = append(updated, acct)
	}

	var balance int64
	for _, acct := range updated {
		l.accounts[acct.UserID] = acct
		if acct.UserID == userID {
			balance = acct.Balance
		}
	}
	delete(l.transactions, t.ID)
	if t.ClientTxID != "" {
		delete(l.clientTx, clientKey(t.UserID, t.ClientTxID))
	}
	return Receipt{Transaction: t, Balance: balance}, nil
}

func (l *inMemoryLedger) Transaction(_ context.Context, userID, transactionID string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.transactions[transactionID]
	if !ok || !t.Involves(userID) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (l *inMemoryLedger) Transactions(_ context.Context, userID string, q Query) ([]Transaction, error) {
	q = q.normalized()
	l.mu.RLock()
	var out []Transaction
	for _, t := range l.transactions {
		if t.Involves(userID) && matches(t, q) {
			out = append(out, t)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (l *inMemoryLedger) TotalAmount(_ context.Context, userID string, flow Flow, w Window) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, t := range l.transactions {
		if w.Contains(t.CreatedAt) {
			total += flowAmount(t, userID, flow)
		}
	}
	return total, nil
}

func (l *inMemoryLedger) CreateBudget(_ context.Context, b Budget) (Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[b.UserID]
	if !ok {
		return Budget{}, ErrAccountNotFound
	}
	b.Currency = strings.ToUpper(strings.TrimSpace(b.Currency))
	if b.Currency == "" {
		b.Currency = acct.Currency
	}
	b.Description = strings.TrimSpace(b.Description)
	if err := validateBudget(b); err != nil {
		return Budget{}, err
	}
	if b.Currency != acct.Currency {
		return Budget{}, ErrCurrencyMismatch
	}
	now := l.opts.now().UTC()
	b.ID = uuid.NewString()
	b.CreatedAt, b.UpdatedAt = now, now
	l.budgets[b.ID] = b
	return b, nil
}

func (l *inMemoryLedger) UpdateBudget(_ context.Context, b Budget) (Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.budgets[b.ID]
	if !ok || existing.UserID != b.UserID {
		return Budget{}, ErrBudgetNotFound
	}
	existing.CategoryID = b.CategoryID
	existing.Amount = b.Amount
	existing.Description = strings.TrimSpace(b.Description)
	if err := validateBudget(existing); err != nil {
		return Budget{}, err
	}
	if l.budgetSpent(existing.ID, nil, "") > existing.Amount {
		return Budget{}, ErrBudgetBelowSpent
	}
	existing.UpdatedAt = l.opts.now().UTC()
	l.budgets[existing.ID] = existing
	return existing, nil
}

func (l *inMemoryLedger) DeleteBudget(_ context.Context, userID, budgetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[budgetID]
	if !ok || b.UserID != userID {
		return ErrBudgetNotFound
	}
	for id, t := range l.transactions {
		if t.BudgetID != nil && *t.BudgetID == budgetID {
			category := b.CategoryID
			t.BudgetID = nil
			t.CategoryID = &category
			l.transactions[id] = t
		}
	}
	delete(l.budgets, budgetID)
	return nil
}

func (l *inMemoryLedger) Budget(_ context.Context, userID, budgetID string) (Budget, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.budgets[budgetID]
	if !ok || b.UserID != userID {
		return Budget{}, ErrBudgetNotFound
	}
	return b, nil
}

func (l *inMemoryLedger) Budgets(_ context.Context, userID string) ([]Budget, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Budget{}
	for _, b := range l.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *inMemoryLedger) BudgetSpent(_ context.Context, budgetID string, w *Window) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.budgets[budgetID]; !ok {
		return 0, ErrBudgetNotFound
	}
	return l.budgetSpent(budgetID, w, ""), nil
}

// ceilings gathers ceiling inputs; callers hold l.mu.
func (l *inMemoryLedger) ceilings(acct Account, budgetID *string, month Window, excludeID string) (ceilingState, error) {
	st := ceilingState{account: acct}
	if budgetID != nil {
		b, ok := l.budgets[*budgetID]
		if !ok || b.UserID != acct.UserID {
			return ceilingState{}, ErrBudgetNotFound
		}
		st.budget = &b
		st.budgetSpent = l.budgetSpent(b.ID, nil, excludeID)
	}
	if acct.SpendingLimit != nil {
		for _, t := range l.transactions {
			if t.ID != excludeID && month.Contains(t.CreatedAt) {
				st.monthSpent += debitSpend(t, acct.UserID)
			}
		}
	}
	return st, nil
}

func (l *inMemoryLedger) budgetSpent(budgetID string, w *Window, excludeID string) int64 {
	var spent int64
	for _, t := range l.transactions {
		if t.ID == excludeID || t.BudgetID == nil || *t.BudgetID != budgetID {
			continue
		}
		if w != nil && !w.Contains(t.CreatedAt) {
			continue
		}
		spent += t.Amount
	}
	return spent
}

func matches(t Transaction, q Query) bool {
	if q.From != nil && t.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && !t.CreatedAt.Before(*q.To) {
		return false
	}
	if q.Type != "" && t.Type != q.Type {
		return false
	}
	if q.BudgetID != "" && (t.BudgetID == nil || *t.BudgetID != q.BudgetID) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) && !strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	return true
}

func involvedParties(t Transaction) []string {
	var ids []string
	if t.PayerID != "" {
		ids = append(ids, t.PayerID)
	}
	if t.RecipientID != "" && t.RecipientID != t.PayerID {
		ids = append(ids, t.RecipientID)
	}
	sort.Strings(ids)
	return ids
}

func clientKey(userID, clientTxID string) string {
	return userID + ":" + clientTxID
}
