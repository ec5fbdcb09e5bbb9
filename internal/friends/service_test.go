package friends

import (
	"context"
	"errors"
	"testing"

	"github.com/pennywise/pennywise/internal/identity"
	"github.com/pennywise/pennywise/internal/ledger"
	"github.com/pennywise/pennywise/internal/logging"
	"github.com/pennywise/pennywise/internal/notification"
)

type fixture struct {
	svc           *Service
	notifications *notification.Service
	alice, bob    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	ids := identity.NewService(identity.NewMemoryRepository(), ledger.NewInMemory(), "USD", logging.Discard())
	register := func(name string) string {
		u, err := ids.Register(ctx, identity.Registration{Email: name + "@example.com", Username: name, Password: "password1"})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		return u.ID
	}
	notifications := notification.NewService(notification.NewMemoryStore(), nil, logging.Discard())
	return fixture{
		svc:           NewService(NewMemoryRepository(), ids, notifications, logging.Discard()),
		notifications: notifications,
		alice:         register("alice"),
		bob:           register("bob"),
	}
}

func TestInviteAcceptFlow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f, err := fx.svc.Invite(ctx, fx.alice, fx.bob)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if ok, _ := fx.svc.AreFriends(ctx, fx.alice, fx.bob); ok {
		t.Fatal("pending invitation must not count as friendship")
	}
	if _, err := fx.svc.Invite(ctx, fx.bob, fx.alice); !errors.Is(err, ErrFriendshipExists) {
		t.Fatalf("expected existing pair error, got %v", err)
	}
	if _, err := fx.svc.Accept(ctx, fx.alice, f.ID); !errors.Is(err, ErrNotInvitee) {
		t.Fatalf("expected inviter accept to be refused, got %v", err)
	}
	if _, err := fx.svc.Accept(ctx, fx.bob, f.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ok, _ := fx.svc.AreFriends(ctx, fx.bob, fx.alice); !ok {
		t.Fatal("expected friendship after accept")
	}

	bobInbox, _ := fx.notifications.List(ctx, fx.bob, false, 10, 0)
	aliceInbox, _ := fx.notifications.List(ctx, fx.alice, false, 10, 0)
	if len(bobInbox) != 1 || bobInbox[0].Kind != notification.KindFriendRequest {
		t.Fatalf("expected friend request for bob, got %+v", bobInbox)
	}
	if len(aliceInbox) != 1 || aliceInbox[0].Kind != notification.KindFriendAccepted {
		t.Fatalf("expected acceptance for alice, got %+v", aliceInbox)
	}

	list, err := fx.svc.List(ctx, fx.alice, StatusFriend)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].FriendID != fx.bob {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestInviteValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.svc.Invite(ctx, fx.alice, fx.alice); !errors.Is(err, ErrSelfInvite) {
		t.Fatalf("expected self invite error, got %v", err)
	}
	if _, err := fx.svc.Invite(ctx, fx.alice, "ghost"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected unknown user error, got %v", err)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f, _ := fx.svc.Invite(ctx, fx.alice, fx.bob)
	if _, err := fx.svc.Accept(ctx, fx.bob, f.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := fx.svc.Block(ctx, fx.bob, fx.alice); err != nil {
		t.Fatalf("block: %v", err)
	}
	if ok, _ := fx.svc.AreFriends(ctx, fx.alice, fx.bob); ok {
		t.Fatal("blocked pair must not be friends")
	}
	if list, _ := fx.svc.List(ctx, fx.alice, ""); len(list) != 0 {
		t.Fatalf("blocked user should not see the pair, got %+v", list)
	}
	if err := fx.svc.Remove(ctx, fx.alice, f.ID); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected blocked user unable to remove, got %v", err)
	}
	if _, err := fx.svc.Unblock(ctx, fx.alice, fx.bob); !errors.Is(err, ErrNotBlocker) {
		t.Fatalf("expected only blocker to unblock, got %v", err)
	}
	if _, err := fx.svc.Unblock(ctx, fx.bob, fx.alice); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if ok, _ := fx.svc.AreFriends(ctx, fx.alice, fx.bob); !ok {
		t.Fatal("expected friendship restored after unblock")
	}
	if err := fx.svc.Remove(ctx, fx.alice, f.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestBlockStranger(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.svc.Block(ctx, fx.alice, fx.bob); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := fx.svc.Invite(ctx, fx.bob, fx.alice); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected invite to be refused, got %v", err)
	}
}
