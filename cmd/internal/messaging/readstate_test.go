package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadState_MarkAllReadZeroesUntilCounterpartWrites(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	reads := env.core.Reads
	conv := mustConv(t, trainer.ID, client1.ID)

	mustAppend(t, env.store, client1, trainer.ID, "hi coach")
	mustAppend(t, env.store, client1, trainer.ID, "are we on?")
	mustAppend(t, env.store, trainer.Participant, client1.ID, "yes")

	n, err := reads.UnreadCount(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	marked, err := reads.MarkAllRead(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Equal(t, 2, marked)

	n, err = reads.UnreadCount(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	// Sending never marks anything read.
	mustAppend(t, env.store, trainer.Participant, client1.ID, "see you")
	n, err = reads.UnreadCount(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	mustAppend(t, env.store, client1, trainer.ID, "ok!")
	n, err = reads.UnreadCount(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = reads.UnreadCount(ctx, conv, client1.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestReadState_RejectsOutsider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)

	_, err := env.core.Reads.UnreadCount(context.Background(), conv, client2.ID)
	require.ErrorIs(t, err, ErrInvalidParticipants)
	_, err = env.core.Reads.MarkAllRead(context.Background(), conv, client2.ID)
	require.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestReadState_MarkSignalsOnlyOnChange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)
	mustAppend(t, env.store, client1, trainer.ID, "hello")

	w, err := env.store.Watch(conv)
	require.NoError(t, err)
	defer w.Stop()

	_, err = env.core.Reads.MarkAllRead(ctx, conv, trainer.ID)
	require.NoError(t, err)
	select {
	case <-w.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}

	_, err = env.core.Reads.MarkAllRead(ctx, conv, trainer.ID)
	require.NoError(t, err)
	select {
	case <-w.Changes():
		t.Fatal("no-op mark must not signal")
	case <-time.After(50 * time.Millisecond):
	}
}
