package notification

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pennywise/pennywise/internal/apperr"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = apperr.NotFound("notification not found")

// Store persists notifications.
type Store interface {
	Save(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	DeleteByTransaction(ctx context.Context, transactionID string) (int, error)
}

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]Notification
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{items: make(map[string]Notification)}
}

func (s *memoryStore) Save(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = n
	return nil
}

func (s *memoryStore) List(_ context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	s.mu.RLock()
	out := []Notification{}
	for _, n := range s.items {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Notification{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) MarkRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	s.items[id] = n
	return nil
}

func (s *memoryStore) DeleteByTransaction(_ context.Context, transactionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, n := range s.items {
		if n.TransactionID != nil && *n.TransactionID == transactionID {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed notification store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, n Notification) error {
	_, err := s.db.Exec(ctx, `INSERT INTO notifications (id, user_id, kind, actor_id, friendship_id, transaction_id, read, created_at)
        VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Kind, n.ActorID, n.FriendshipID, n.TransactionID, n.Read, n.CreatedAt)
	return err
}

func (s *PostgresStore) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, user_id::text, kind, COALESCE(actor_id::text, ''),
            friendship_id::text, transaction_id::text, read, created_at
        FROM notifications WHERE user_id = $1 AND (NOT $2 OR NOT read)
        ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.ActorID, &n.FriendshipID, &n.TransactionID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string) error {
	var marked string
	err := s.db.QueryRow(ctx, `UPDATE notifications SET read = true WHERE id::text = $1 AND user_id = $2 RETURNING id::text`, id, userID).Scan(&marked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) DeleteByTransaction(ctx context.Context, transactionID string) (int, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE transaction_id::text = $1`, transactionID)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}
