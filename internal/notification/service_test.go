package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennywise/pennywise/internal/logging"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestNotifyStoresAndPublishes(t *testing.T) {
	writer := &recordingWriter{}
	svc := NewService(NewMemoryStore(), NewKafkaNotifier(writer), logging.Discard())
	ctx := context.Background()

	txID := "tx-1"
	n, err := svc.Notify(ctx, Notification{UserID: "bob", Kind: KindPaymentReceived, ActorID: "alice", TransactionID: &txID})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "bob", string(msg.Key))
	assert.Equal(t, KindPaymentReceived, string(msg.Headers[0].Value))

	var decoded Notification
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, n.ID, decoded.ID)
	require.NotNil(t, decoded.TransactionID)
	assert.Equal(t, txID, *decoded.TransactionID)

	items, err := svc.List(ctx, "bob", true, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, svc.MarkRead(ctx, "bob", n.ID))
	items, err = svc.List(ctx, "bob", true, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, svc.MarkRead(ctx, "alice", n.ID), ErrNotFound)
}

func TestNotifySurvivesPublishFailure(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	store := NewMemoryStore()
	svc := NewService(store, NewKafkaNotifier(writer), logging.Discard())

	_, err := svc.Notify(context.Background(), Notification{UserID: "bob", Kind: KindFriendRequest, ActorID: "alice"})
	require.NoError(t, err)

	items, err := store.List(context.Background(), "bob", false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRetractRemovesOnlyMatchingTransaction(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, logging.Discard())
	ctx := context.Background()

	paid, kept := "tx-1", "tx-2"
	_, err := svc.Notify(ctx, Notification{UserID: "bob", Kind: KindPaymentReceived, ActorID: "alice", TransactionID: &paid})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, Notification{UserID: "bob", Kind: KindPaymentReceived, ActorID: "chen", TransactionID: &kept})
	require.NoError(t, err)

	require.NoError(t, svc.Retract(ctx, paid))

	items, err := svc.List(ctx, "bob", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, kept, *items[0].TransactionID)
}
