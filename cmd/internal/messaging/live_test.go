package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLive_SubscribeDeliversOrderedSnapshots(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)
	mustAppend(t, env.store, client1, trainer.ID, "first")

	sub, err := env.core.Live.Subscribe(ctx, conv)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	snap := recvSnapshot(t, sub.Snapshots())
	require.Len(t, snap, 1)

	mustAppend(t, env.store, trainer.Participant, client1.ID, "second")
	mustAppend(t, env.store, client1, trainer.ID, "third")

	snap = waitSnapshot(t, sub.Snapshots(), func(s []Message) bool { return len(s) == 3 })
	require.Equal(t, []string{"first", "second", "third"}, []string{snap[0].Body, snap[1].Body, snap[2].Body})
	for i := 1; i < len(snap); i++ {
		require.True(t, snap[i-1].Before(snap[i]))
	}
}

func TestLive_BothPartiesSeeTheSameMessage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)

	a, err := env.core.Live.Subscribe(ctx, conv)
	require.NoError(t, err)
	defer a.Unsubscribe()
	b, err := env.core.Live.Subscribe(ctx, conv)
	require.NoError(t, err)
	defer b.Unsubscribe()
	recvSnapshot(t, a.Snapshots())
	recvSnapshot(t, b.Snapshots())

	msg, err := env.core.Pipeline.Send(ctx, trainer, client1.ID, "Deload week", nil, nil)
	require.NoError(t, err)

	for _, sub := range []*Subscription{a, b} {
		snap := waitSnapshot(t, sub.Snapshots(), func(s []Message) bool { return len(s) == 1 })
		require.Equal(t, msg.ID, snap[0].ID)
		require.Equal(t, "Deload week", snap[0].Body)
		require.Equal(t, trainer.ID, snap[0].SenderID)
	}
}

func TestLive_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)

	sub, err := env.core.Live.Subscribe(context.Background(), conv)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	require.NoError(t, sub.Err())

	mustAppend(t, env.store, client1, trainer.ID, "after")
	_, ok := <-sub.Snapshots()
	require.False(t, ok, "no emission after unsubscribe")

	// Re-subscribing starts a fresh stream with full history.
	again, err := env.core.Live.Subscribe(context.Background(), conv)
	require.NoError(t, err)
	defer again.Unsubscribe()
	require.Len(t, recvSnapshot(t, again.Snapshots()), 1)
}

func TestLive_FeedFailureSurfacesSubscriptionError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)

	sub, err := env.core.Live.Subscribe(context.Background(), conv)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	recvSnapshot(t, sub.Snapshots())

	require.NoError(t, env.feed.Close())

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after feed failure")
	}
	require.ErrorIs(t, sub.Err(), ErrSubscription)
}

func TestLive_RefreshFailureSurfacesSubscriptionError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)

	sub, err := env.core.Live.Subscribe(context.Background(), conv)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	recvSnapshot(t, sub.Snapshots())

	env.backend.FailList(conv)
	mustAppend(t, env.store, client1, trainer.ID, "boom")

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after refresh failure")
	}
	require.ErrorIs(t, sub.Err(), ErrSubscription)
	require.ErrorIs(t, sub.Err(), ErrPersistence)
}

func TestLive_SubscribeFailsOnInitialRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)
	env.backend.FailList(conv)

	_, err := env.core.Live.Subscribe(context.Background(), conv)
	require.ErrorIs(t, err, ErrPersistence)
}
