package notify

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: receive one update with a timeout so tests never hang
func recvUpdate(t *testing.T, sub *Subscription, within time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return u
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

func waitClosed(t *testing.T, sub *Subscription, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed within %v", within)
		}
	}
}

func TestPublishReachesOnlyMatchingAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroker(ctx, 4)

	game, other := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	sub := b.Subscribe(game)
	otherSub := b.Subscribe(other)
	defer b.Unsubscribe(sub)
	defer b.Unsubscribe(otherSub)

	b.Publish(Update{Address: game, Kind: "Game", Data: []byte{1}, Slot: 7})

	u := recvUpdate(t, sub, 100*time.Millisecond)
	assert.Equal(t, uint64(7), u.Slot)
	assert.Equal(t, []byte{1}, u.Data)

	select {
	case u := <-otherSub.C:
		t.Fatalf("unexpected update for other address: %+v", u)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroker(ctx, 4)

	addr := solana.NewWallet().PublicKey()
	sub := b.Subscribe(addr)
	require.Equal(t, 1, b.Subscribers(addr))

	b.Unsubscribe(sub)
	waitClosed(t, sub, 100*time.Millisecond)
	assert.Equal(t, 0, b.Subscribers(addr))

	// a second unsubscribe is harmless
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.Subscribers(addr))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroker(ctx, 1)

	addr := solana.NewWallet().PublicKey()
	sub := b.Subscribe(addr)
	b.Publish(Update{Address: addr, Slot: 1}, Update{Address: addr, Slot: 2})

	assert.Equal(t, 0, b.Subscribers(addr))
	u, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, uint64(1), u.Slot)
	waitClosed(t, sub, 100*time.Millisecond)
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	b := NewBroker(context.Background(), 1)
	addr := solana.NewWallet().PublicKey()
	live := b.Subscribe(addr)
	b.Close()

	waitClosed(t, live, 100*time.Millisecond)
	waitClosed(t, b.Subscribe(addr), 100*time.Millisecond)
	b.Publish(Update{Address: addr})
	assert.Equal(t, 0, b.Subscribers(addr))
}
