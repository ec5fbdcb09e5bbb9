package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindFriendRequest is sent to the invitee of a friend request.
	KindFriendRequest = "friend_request"
	// KindFriendAccepted is sent to the inviter once the invitee accepts.
	KindFriendAccepted = "friend_accepted"
	// KindPaymentReceived is sent to the recipient of a friend payment.
	KindPaymentReceived = "payment_received"
)

// Notification is a stored, user-facing event.
type Notification struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Kind          string    `json:"kind"`
	ActorID       string    `json:"actor_id"`
	FriendshipID  *string   `json:"friendship_id,omitempty"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message describes a notification payload handed to a delivery channel.
type Message struct {
	Kind        string
	Destination string
	Body        []byte
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger when no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", string(message.Body))
	return nil
}
