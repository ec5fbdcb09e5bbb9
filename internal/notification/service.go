package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service stores notifications and fans them out to a Notifier.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a store and a delivery channel.
func NewService(store Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Notify persists n and then publishes it. A delivery failure is logged and
// does not fail the caller; the stored row is the source of truth.
func (s *Service) Notify(ctx context.Context, n Notification) (Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = s.now().UTC()
	n.Read = false
	if err := s.store.Save(ctx, n); err != nil {
		return Notification{}, err
	}

	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("encode notification", slog.String("id", n.ID), slog.Any("error", err))
		return n, nil
	}
	if s.notifier != nil {
		if err := s.notifier.Send(ctx, Message{Kind: n.Kind, Destination: n.UserID, Body: body}); err != nil {
			s.logger.Warn("deliver notification", slog.String("id", n.ID), slog.String("kind", n.Kind), slog.Any("error", err))
		}
	}
	return n, nil
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, userID, unreadOnly, limit, offset)
}

// Retract removes the notifications that point at a transaction which no
// longer exists.
func (s *Service) Retract(ctx context.Context, transactionID string) error {
	removed, err := s.store.DeleteByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	s.logger.Debug("retracted notifications", slog.String("transaction_id", transactionID), slog.Int("count", removed))
	return nil
}

// MarkRead flags one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkRead(ctx, userID, id)
}
