package friends

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pennywise/pennywise/internal/apperr"
	"github.com/pennywise/pennywise/internal/identity"
	"github.com/pennywise/pennywise/internal/notification"
)

var (
	ErrFriendshipNotFound = apperr.NotFound("friendship not found")
	ErrFriendshipExists   = apperr.Conflict("a friendship or invitation already exists")
	ErrSelfInvite         = apperr.Validation("you cannot invite yourself")
	ErrBlocked            = apperr.Forbidden("this user is blocked")
	ErrNotInvitee         = apperr.Forbidden("only the invited user can accept")
	ErrNotBlocker         = apperr.Forbidden("only the user who blocked can unblock")
	ErrNotPending         = apperr.Conflict("invitation is no longer pending")
)

// Users resolves user ids.
type Users interface {
	User(ctx context.Context, id string) (identity.User, error)
}

// Notifier records friendship events for the affected user.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) (notification.Notification, error)
}

// Friend is a friendship seen from one member's side.
type Friend struct {
	Friendship
	FriendID string
}

// Service manages invitations, acceptance and blocking.
type Service struct {
	repo     Repository
	users    Users
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the friendship store, user lookup and notifications.
func NewService(repo Repository, users Users, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, users: users, notifier: notifier, logger: logger, now: time.Now}
}

// Invite creates a pending friendship from inviterID to inviteeID.
func (s *Service) Invite(ctx context.Context, inviterID, inviteeID string) (Friendship, error) {
	if inviterID == inviteeID {
		return Friendship{}, ErrSelfInvite
	}
	if _, err := s.users.User(ctx, inviteeID); err != nil {
		return Friendship{}, err
	}

	existing, err := s.repo.Between(ctx, inviterID, inviteeID)
	switch {
	case err == nil && existing.BlockedBy != nil:
		return Friendship{}, ErrBlocked
	case err == nil:
		return Friendship{}, ErrFriendshipExists
	case !errors.Is(err, ErrFriendshipNotFound):
		return Friendship{}, err
	}

	now := s.now().UTC()
	f := Friendship{
		ID:        uuid.NewString(),
		InviterID: inviterID,
		InviteeID: inviteeID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return Friendship{}, err
	}
	s.notify(ctx, inviteeID, notification.KindFriendRequest, inviterID, f.ID)
	return f, nil
}

// Accept turns a pending invitation into a friendship. Only the invitee may accept.
func (s *Service) Accept(ctx context.Context, userID, friendshipID string) (Friendship, error) {
	f, err := s.member(ctx, userID, friendshipID)
	if err != nil {
		return Friendship{}, err
	}
	if f.InviteeID != userID {
		return Friendship{}, ErrNotInvitee
	}
	if f.BlockedBy != nil {
		return Friendship{}, ErrBlocked
	}
	if f.Status != StatusPending {
		return Friendship{}, ErrNotPending
	}
	f.Status = StatusFriend
	f.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, f); err != nil {
		return Friendship{}, err
	}
	s.notify(ctx, f.InviterID, notification.KindFriendAccepted, userID, f.ID)
	return f, nil
}

// Remove deletes the friendship or declines/cancels an invitation. A pair
// blocked by the other member cannot be removed by the blocked user.
func (s *Service) Remove(ctx context.Context, userID, friendshipID string) error {
	f, err := s.member(ctx, userID, friendshipID)
	if err != nil {
		return err
	}
	if f.BlockedBy != nil && *f.BlockedBy != userID {
		return ErrBlocked
	}
	return s.repo.Delete(ctx, f.ID)
}

// Block prevents otherID from inviting or paying userID, creating the pair
// row when none exists.
func (s *Service) Block(ctx context.Context, userID, otherID string) (Friendship, error) {
	if userID == otherID {
		return Friendship{}, ErrSelfInvite
	}
	if _, err := s.users.User(ctx, otherID); err != nil {
		return Friendship{}, err
	}
	now := s.now().UTC()
	blocker := userID

	f, err := s.repo.Between(ctx, userID, otherID)
	if errors.Is(err, ErrFriendshipNotFound) {
		f = Friendship{
			ID:        uuid.NewString(),
			InviterID: userID,
			InviteeID: otherID,
			Status:    StatusPending,
			BlockedBy: &blocker,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return f, s.repo.Create(ctx, f)
	}
	if err != nil {
		return Friendship{}, err
	}
	if f.BlockedBy != nil {
		if *f.BlockedBy == userID {
			return f, nil
		}
		return Friendship{}, ErrBlocked
	}
	f.BlockedBy = &blocker
	f.UpdatedAt = now
	return f, s.repo.Update(ctx, f)
}

// Unblock lifts a block placed by userID.
func (s *Service) Unblock(ctx context.Context, userID, otherID string) (Friendship, error) {
	f, err := s.repo.Between(ctx, userID, otherID)
	if err != nil {
		return Friendship{}, err
	}
	if f.BlockedBy == nil || *f.BlockedBy != userID {
		return Friendship{}, ErrNotBlocker
	}
	f.BlockedBy = nil
	f.UpdatedAt = s.now().UTC()
	return f, s.repo.Update(ctx, f)
}

// List returns userID's friendships, optionally filtered by status. Pairs the
// user has been blocked in are hidden from them.
func (s *Service) List(ctx context.Context, userID string, status Status) ([]Friend, error) {
	all, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := []Friend{}
	for _, f := range all {
		if status != "" && f.Status != status {
			continue
		}
		if f.BlockedBy != nil && *f.BlockedBy != userID {
			continue
		}
		out = append(out, Friend{Friendship: f, FriendID: f.Other(userID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AreFriends reports whether a and b have an accepted, unblocked friendship.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	f, err := s.repo.Between(ctx, a, b)
	if errors.Is(err, ErrFriendshipNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.Active(), nil
}

func (s *Service) member(ctx context.Context, userID, friendshipID string) (Friendship, error) {
	f, err := s.repo.ByID(ctx, friendshipID)
	if err != nil {
		return Friendship{}, err
	}
	if !f.Includes(userID) {
		return Friendship{}, ErrFriendshipNotFound
	}
	return f, nil
}

func (s *Service) notify(ctx context.Context, userID, kind, actorID, friendshipID string) {
	if s.notifier == nil {
		return
	}
	id := friendshipID
	if _, err := s.notifier.Notify(ctx, notification.Notification{UserID: userID, Kind: kind, ActorID: actorID, FriendshipID: &id}); err != nil {
		s.logger.Warn("store notification", slog.String("kind", kind), slog.String("user_id", userID), slog.Any("error", err))
	}
}
