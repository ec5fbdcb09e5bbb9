package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pennywise/pennywise/internal/metrics"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgNumericOutOfRange    = "22003"

	clientTxConstraint = "transactions_client_tx_unique"
)

const transactionColumns = `id::text, user_id::text, title, type, amount, category_id, budget_id::text,
        COALESCE(payer_id::text, ''), COALESCE(recipient_id::text, ''), payer_currency, recipient_currency,
        exchange_rate::text, recipient_amount, description, COALESCE(client_tx_id, ''), created_at, updated_at`

const budgetColumns = `id::text, user_id::text, category_id, currency, amount, description, created_at, updated_at`

var errClientTxRace = errors.New("client transaction id committed concurrently")

// PostgresLedger persists accounts, budgets and transactions in PostgreSQL.
// Balances are denormalised on the account row and only change inside the
// unit of work that writes the matching transaction row.
type PostgresLedger struct {
	db   *pgxpool.Pool
	opts options
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool, opts ...Option) *PostgresLedger {
	return &PostgresLedger{db: db, opts: newOptions(opts)}
}

func (l *PostgresLedger) OpenAccount(ctx context.Context, userID, currency string) (Account, error) {
	currency, err := validateCurrency(currency)
	if err != nil {
		return Account{}, err
	}
	const query = `INSERT INTO accounts (user_id, currency, balance, updated_at) VALUES ($1, $2, 0, $3)
        ON CONFLICT (user_id) DO NOTHING`
	if _, err := l.db.Exec(ctx, query, userID, currency, l.opts.now().UTC()); err != nil {
		return Account{}, err
	}
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	if acct.Currency != currency {
		return acct, ErrAccountExists
	}
	return acct, nil
}

func (l *PostgresLedger) Account(ctx context.Context, userID string) (Account, error) {
	const query = `SELECT user_id::text, currency, balance, spending_limit, updated_at FROM accounts WHERE user_id = $1`
	return scanAccount(l.db.QueryRow(ctx, query, userID))
}

func (l *PostgresLedger) SetSpendingLimit(ctx context.Context, userID string, limit *int64) (Account, error) {
	if err := validateLimit(limit); err != nil {
		return Account{}, err
	}
	const query = `UPDATE accounts SET spending_limit = $2, updated_at = $3 WHERE user_id = $1
        RETURNING user_id::text, currency, balance, spending_limit, updated_at`
	return scanAccount(l.db.QueryRow(ctx, query, userID, limit, l.opts.now().UTC()))
}

func (l *PostgresLedger) Post(ctx context.Context, p Posting) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("post", err) }()

	p = normalizePosting(p)
	if err := validatePosting(p); err != nil {
		return Receipt{}, err
	}

	err = l.inTx(ctx, "post", func(tx pgx.Tx) error {
		parties := []string{p.UserID}
		if p.Type == TypePayFriend {
			parties = append(parties, p.RecipientID)
		}
		accounts, err := lockAccounts(ctx, tx, parties...)
		if err != nil {
			return err
		}
		payer := accounts[p.UserID]

		if p.ClientTxID != "" {
			existing, err := transactionByClientID(ctx, tx, p.UserID, p.ClientTxID)
			if err == nil {
				receipt = Receipt{Transaction: existing, Balance: payer.Balance}
				return ErrDuplicateTransaction
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
		}

		if p.Type == TypePayFriend {
			if err := checkConversion(p, payer, accounts[p.RecipientID]); err != nil {
				return err
			}
		}

		now := l.opts.now().UTC()
		if p.Type.Debits() {
			st, err := l.ceilings(ctx, tx, payer, p.BudgetID, MonthWindow(now, l.opts.loc), "")
			if err != nil {
				return err
			}
			if err := checkCeilings(p.Amount, st); err != nil {
				return err
			}
		}

		t := buildTransaction(p, payer, uuid.NewString(), now)
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		balance, err := adjustBalance(ctx, tx, payer.UserID, t.Effect(payer.UserID), now)
		if err != nil {
			return err
		}
		if t.Type == TypePayFriend {
			if _, err := adjustBalance(ctx, tx, t.RecipientID, t.Effect(t.RecipientID), now); err != nil {
				return err
			}
		}
		receipt = Receipt{Transaction: t, Balance: balance}
		return nil
	})

	if errors.Is(err, errClientTxRace) {
		existing, lookupErr := transactionByClientID(ctx, l.db, p.UserID, p.ClientTxID)
		if lookupErr != nil {
			return Receipt{}, lookupErr
		}
		acct, lookupErr := l.Account(ctx, p.UserID)
		if lookupErr != nil {
			return Receipt{}, lookupErr
		}
		return Receipt{Transaction: existing, Balance: acct.Balance}, ErrDuplicateTransaction
	}
	if err != nil && !errors.Is(err, ErrDuplicateTransaction) {
		return Receipt{}, err
	}
	return receipt, err
}

func (l *PostgresLedger) Amend(ctx context.Context, a Amendment) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("amend", err) }()

	err = l.inTx(ctx, "amend", func(tx pgx.Tx) error {
		accounts, err := lockAccounts(ctx, tx, a.UserID)
		if err != nil {
			return err
		}
		acct := accounts[a.UserID]

		old, err := transactionForUpdate(ctx, tx, a.TransactionID)
		if err != nil {
			return err
		}
		if !old.Involves(a.UserID) {
			return ErrTransactionNotFound
		}
		now := l.opts.now().UTC()
		next, err := amendTransaction(old, a, now)
		if err != nil {
			return err
		}

		if next.Type.Debits() {
			st, err := l.ceilings(ctx, tx, acct, next.BudgetID, MonthWindow(old.CreatedAt, l.opts.loc), old.ID)
			if err != nil {
				return err
			}
			if err := checkCeilings(next.Amount, st); err != nil {
				return err
			}
		}

		const update = `UPDATE transactions SET title = $2, description = $3, amount = $4, category_id = $5,
            budget_id = $6, recipient_amount = $7, updated_at = $8 WHERE id = $1`
		if _, err := tx.Exec(ctx, update, next.ID, next.Title, next.Description, next.Amount,
			next.CategoryID, next.BudgetID, next.RecipientAmount, next.UpdatedAt); err != nil {
			return err
		}
		balance, err := adjustBalance(ctx, tx, acct.UserID, next.Effect(acct.UserID)-old.Effect(acct.UserID), now)
		if err != nil {
			return err
		}
		receipt = Receipt{Transaction: next, Balance: balance}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (l *PostgresLedger) Reverse(ctx context.Context, userID, transactionID string) (receipt Receipt, err error) {
	defer func() { metrics.ObserveLedger("reverse", err) }()

	err = l.inTx(ctx, "reverse", func(tx pgx.Tx) error {
		t, err := l.Transaction(ctx, userID, transactionID)
		if err != nil {
			return err
		}
		if t.UserID != userID {
			return ErrNotCreator
		}
		parties := involvedParties(t)
		if _, err := lockAccounts(ctx, tx, parties...); err != nil {
			return err
		}
		// Re-read under the account locks; an amendment may have committed in between.
		if t, err = transactionForUpdate(ctx, tx, t.ID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, t.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}

		now := l.opts.now().UTC()
		receipt = Receipt{Transaction: t}
		for _, id := range parties {
			balance, err := adjustBalance(ctx, tx, id, -t.Effect(id), now)
			if err != nil {
				return err
			}
			if id == userID {
				receipt.Balance = balance
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (l *PostgresLedger) Transaction(ctx context.Context, userID, transactionID string) (Transaction, error) {
	if _, err := uuid.Parse(transactionID); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
        WHERE id = $1 AND (user_id = $2 OR payer_id = $2 OR recipient_id = $2)`
	return scanTransaction(l.db.QueryRow(ctx, query, transactionID, userID))
}

func (l *PostgresLedger) Transactions(ctx context.Context, userID string, q Query) ([]Transaction, error) {
	q = q.normalized()
	args := []any{userID}
	where := []string{"(user_id = $1 OR payer_id = $1 OR recipient_id = $1)"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.From != nil {
		where = append(where, "created_at >= "+arg(*q.From))
	}
	if q.To != nil {
		where = append(where, "created_at < "+arg(*q.To))
	}
	if q.Type != "" {
		where = append(where, "type = "+arg(string(q.Type)))
	}
	if q.BudgetID != "" {
		where = append(where, "budget_id::text = "+arg(q.BudgetID))
	}
	if q.Search != "" {
		p := arg("%" + q.Search + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(q.Limit) + ` OFFSET ` + arg(q.Offset)

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) TotalAmount(ctx context.Context, userID string, flow Flow, w Window) (int64, error) {
	var query string
	switch flow {
	case FlowIncome:
		query = `SELECT COALESCE(SUM(recipient_amount), 0)::bigint FROM transactions
            WHERE recipient_id = $1 AND created_at >= $2 AND created_at < $3`
	case FlowExpenditure:
		query = `SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions
            WHERE payer_id = $1 AND type IN ('Expense', 'Pay friend') AND created_at >= $2 AND created_at < $3`
	default:
		return 0, fmt.Errorf("unknown flow %q", flow)
	}
	var total int64
	if err := l.db.QueryRow(ctx, query, userID, w.From, w.To).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (l *PostgresLedger) CreateBudget(ctx context.Context, b Budget) (Budget, error) {
	acct, err := l.Account(ctx, b.UserID)
	if err != nil {
		return Budget{}, err
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
	query := `INSERT INTO budgets (id, user_id, category_id, currency, amount, description, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING ` + budgetColumns
	return scanBudget(l.db.QueryRow(ctx, query, uuid.NewString(), b.UserID, b.CategoryID, b.Currency, b.Amount, b.Description, now))
}

func (l *PostgresLedger) UpdateBudget(ctx context.Context, b Budget) (Budget, error) {
	var updated Budget
	err := l.inTx(ctx, "update_budget", func(tx pgx.Tx) error {
		if _, err := lockAccounts(ctx, tx, b.UserID); err != nil {
			return err
		}
		existing, err := l.budgetTx(ctx, tx, b.UserID, b.ID)
		if err != nil {
			return err
		}
		existing.CategoryID = b.CategoryID
		existing.Amount = b.Amount
		existing.Description = strings.TrimSpace(b.Description)
		if err := validateBudget(existing); err != nil {
			return err
		}
		spent, err := budgetSpent(ctx, tx, existing.ID, nil, "")
		if err != nil {
			return err
		}
		if spent > existing.Amount {
			return ErrBudgetBelowSpent
		}
		query := `UPDATE budgets SET category_id = $2, amount = $3, description = $4, updated_at = $5
            WHERE id = $1 RETURNING ` + budgetColumns
		updated, err = scanBudget(tx.QueryRow(ctx, query, existing.ID, existing.CategoryID, existing.Amount,
			existing.Description, l.opts.now().UTC()))
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	return updated, nil
}

func (l *PostgresLedger) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	return l.inTx(ctx, "delete_budget", func(tx pgx.Tx) error {
		if _, err := lockAccounts(ctx, tx, userID); err != nil {
			return err
		}
		b, err := l.budgetTx(ctx, tx, userID, budgetID)
		if err != nil {
			return err
		}
		const detach = `UPDATE transactions SET budget_id = NULL, category_id = $2, updated_at = $3 WHERE budget_id = $1`
		if _, err := tx.Exec(ctx, detach, b.ID, b.CategoryID, l.opts.now().UTC()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM budgets WHERE id = $1`, b.ID)
		return err
	})
}

func (l *PostgresLedger) Budget(ctx context.Context, userID, budgetID string) (Budget, error) {
	return l.budgetTx(ctx, l.db, userID, budgetID)
}

func (l *PostgresLedger) Budgets(ctx context.Context, userID string) ([]Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := l.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Budget{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) BudgetSpent(ctx context.Context, budgetID string, w *Window) (int64, error) {
	if _, err := uuid.Parse(budgetID); err != nil {
		return 0, ErrBudgetNotFound
	}
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budgets WHERE id = $1)`, budgetID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrBudgetNotFound
	}
	return budgetSpent(ctx, l.db, budgetID, w, "")
}

// inTx runs fn in its own transaction, retrying serialization failures and
// deadlocks up to the configured limit.
func (l *PostgresLedger) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	return retryUnit(op, l.opts.maxRetries, l.opts.logger, func() error {
		return l.attempt(ctx, fn)
	})
}

// retryUnit runs unit until it succeeds, fails with an error other than a
// serialization failure or deadlock, or has run maxRetries times.
func retryUnit(op string, maxRetries int, logger *slog.Logger, unit func() error) error {
	for attempt := 1; ; attempt++ {
		err := unit()
		if !retryable(err) || attempt >= maxRetries {
			return err
		}
		metrics.LedgerRetry(op)
		logger.Warn("retrying ledger unit", "op", op, "attempt", attempt, "error", err)
	}
}

func (l *PostgresLedger) attempt(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (l *PostgresLedger) ceilings(ctx context.Context, tx pgx.Tx, acct Account, budgetID *string, month Window, excludeID string) (ceilingState, error) {
	st := ceilingState{account: acct}
	if budgetID != nil {
		b, err := l.budgetTx(ctx, tx, acct.UserID, *budgetID)
		if err != nil {
			return ceilingState{}, err
		}
		st.budget = &b
		if st.budgetSpent, err = budgetSpent(ctx, tx, b.ID, nil, excludeID); err != nil {
			return ceilingState{}, err
		}
	}
	if acct.SpendingLimit != nil {
		const query = `SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions
            WHERE payer_id = $1 AND type IN ('Expense', 'Pay friend')
            AND created_at >= $2 AND created_at < $3 AND id::text <> $4`
		if err := tx.QueryRow(ctx, query, acct.UserID, month.From, month.To, excludeID).Scan(&st.monthSpent); err != nil {
			return ceilingState{}, err
		}
	}
	return st, nil
}

func (l *PostgresLedger) budgetTx(ctx context.Context, q querier, userID, budgetID string) (Budget, error) {
	if _, err := uuid.Parse(budgetID); err != nil {
		return Budget{}, ErrBudgetNotFound
	}
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1 AND user_id = $2`
	return scanBudget(q.QueryRow(ctx, query, budgetID, userID))
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockAccounts takes row locks in a stable order so concurrent units that
// touch the same pair of accounts cannot deadlock each other.
func lockAccounts(ctx context.Context, tx pgx.Tx, userIDs ...string) (map[string]Account, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	const query = `SELECT user_id::text, currency, balance, spending_limit, updated_at FROM accounts WHERE user_id = $1 FOR UPDATE`
	out := make(map[string]Account, len(ids))
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		acct, err := scanAccount(tx.QueryRow(ctx, query, id))
		if err != nil {
			return nil, err
		}
		out[id] = acct
	}
	return out, nil
}

// adjustBalance applies delta only if the result stays non-negative.
func adjustBalance(ctx context.Context, tx pgx.Tx, userID string, delta int64, now time.Time) (int64, error) {
	const query = `UPDATE accounts SET balance = balance + $2, updated_at = $3
        WHERE user_id = $1 AND balance + $2 >= 0 RETURNING balance`
	var balance int64
	if err := tx.QueryRow(ctx, query, userID, delta, now).Scan(&balance); err != nil {
		return 0, balanceError(err)
	}
	return balance, nil
}

// balanceError maps a failed conditional balance update: no row means the
// guard rejected the delta, 22003 means the bigint would overflow.
func balanceError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInsufficientFunds
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange {
		return ErrBalanceOverflow
	}
	return err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) error {
	var rate *string
	if t.ExchangeRate != nil {
		s := t.ExchangeRate.String()
		rate = &s
	}
	const query = `INSERT INTO transactions (id, user_id, title, type, amount, category_id, budget_id, payer_id,
            recipient_id, payer_currency, recipient_currency, exchange_rate, recipient_amount, description,
            client_tx_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, NULLIF($9, '')::uuid, $10, $11, $12::numeric,
            $13, $14, NULLIF($15, ''), $16, $16)`
	_, err := tx.Exec(ctx, query, t.ID, t.UserID, t.Title, string(t.Type), t.Amount, t.CategoryID, t.BudgetID,
		t.PayerID, t.RecipientID, t.PayerCurrency, t.RecipientCurrency, rate, t.RecipientAmount, t.Description,
		t.ClientTxID, t.CreatedAt)
	return insertError(err)
}

// insertError reports a unique violation on (user_id, client_tx_id) as a
// replay committed by a concurrent request.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == clientTxConstraint {
		return errClientTxRace
	}
	return err
}

func transactionByClientID(ctx context.Context, q querier, userID, clientTxID string) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 AND client_tx_id = $2`
	return scanTransaction(q.QueryRow(ctx, query, userID, clientTxID))
}

func transactionForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

func budgetSpent(ctx context.Context, q querier, budgetID string, w *Window, excludeID string) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions WHERE budget_id = $1 AND id::text <> $2`
	args := []any{budgetID, excludeID}
	if w != nil {
		query += ` AND created_at >= $3 AND created_at < $4`
		args = append(args, w.From, w.To)
	}
	var spent int64
	if err := q.QueryRow(ctx, query, args...).Scan(&spent); err != nil {
		return 0, err
	}
	return spent, nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	if err := row.Scan(&acct.UserID, &acct.Currency, &acct.Balance, &acct.SpendingLimit, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acct, nil
}

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	if err := row.Scan(&b.ID, &b.UserID, &b.CategoryID, &b.Currency, &b.Amount, &b.Description, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, ErrBudgetNotFound
		}
		return Budget{}, err
	}
	return b, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t    Transaction
		kind string
		rate *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &kind, &t.Amount, &t.CategoryID, &t.BudgetID,
		&t.PayerID, &t.RecipientID, &t.PayerCurrency, &t.RecipientCurrency, &rate, &t.RecipientAmount,
		&t.Description, &t.ClientTxID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Type = TransactionType(kind)
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return Transaction{}, fmt.Errorf("parse exchange rate: %w", err)
		}
		t.ExchangeRate = &d
	}
	return t, nil
}
