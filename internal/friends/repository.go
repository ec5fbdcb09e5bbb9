package friends

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists friendships.
type Repository interface {
	Create(ctx context.Context, f Friendship) error
	ByID(ctx context.Context, id string) (Friendship, error)
	Between(ctx context.Context, a, b string) (Friendship, error)
	Update(ctx context.Context, f Friendship) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]Friendship, error)
}

type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]Friendship
}

// NewMemoryRepository builds an in-memory friendship store.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[string]Friendship)}
}

func (r *memoryRepository) Create(_ context.Context, f Friendship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.Includes(f.InviterID) && existing.Includes(f.InviteeID) {
			return ErrFriendshipExists
		}
	}
	r.items[f.ID] = f
	return nil
}

func (r *memoryRepository) ByID(_ context.Context, id string) (Friendship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.items[id]
	if !ok {
		return Friendship{}, ErrFriendshipNotFound
	}
	return f, nil
}

func (r *memoryRepository) Between(_ context.Context, a, b string) (Friendship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.items {
		if f.Includes(a) && f.Includes(b) {
			return f, nil
		}
	}
	return Friendship{}, ErrFriendshipNotFound
}

func (r *memoryRepository) Update(_ context.Context, f Friendship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[f.ID]; !ok {
		return ErrFriendshipNotFound
	}
	r.items[f.ID] = f
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrFriendshipNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepository) List(_ context.Context, userID string) ([]Friendship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Friendship{}
	for _, f := range r.items {
		if f.Includes(userID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed friendship repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const friendshipColumns = `id::text, inviter_id::text, invitee_id::text, status, blocked_by::text, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, f Friendship) error {
	_, err := r.db.Exec(ctx, `INSERT INTO friendships (id, inviter_id, invitee_id, status, blocked_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.InviterID, f.InviteeID, string(f.Status), f.BlockedBy, f.CreatedAt, f.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrFriendshipExists
	}
	return err
}

func (r *PostgresRepository) ByID(ctx context.Context, id string) (Friendship, error) {
	return scanFriendship(r.db.QueryRow(ctx, `SELECT `+friendshipColumns+` FROM friendships WHERE id::text = $1`, id))
}

func (r *PostgresRepository) Between(ctx context.Context, a, b string) (Friendship, error) {
	return scanFriendship(r.db.QueryRow(ctx, `SELECT `+friendshipColumns+` FROM friendships
        WHERE (inviter_id::text = $1 AND invitee_id::text = $2) OR (inviter_id::text = $2 AND invitee_id::text = $1)`, a, b))
}

func (r *PostgresRepository) Update(ctx context.Context, f Friendship) error {
	cmd, err := r.db.Exec(ctx, `UPDATE friendships SET status = $2, blocked_by = $3, updated_at = $4 WHERE id::text = $1`,
		f.ID, string(f.Status), f.BlockedBy, f.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrFriendshipNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM friendships WHERE id::text = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrFriendshipNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]Friendship, error) {
	rows, err := r.db.Query(ctx, `SELECT `+friendshipColumns+` FROM friendships
        WHERE inviter_id::text = $1 OR invitee_id::text = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Friendship{}
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFriendship(row pgx.Row) (Friendship, error) {
	var (
		f      Friendship
		status string
	)
	if err := row.Scan(&f.ID, &f.InviterID, &f.InviteeID, &status, &f.BlockedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Friendship{}, ErrFriendshipNotFound
		}
		return Friendship{}, err
	}
	f.Status = Status(status)
	return f, nil
}
