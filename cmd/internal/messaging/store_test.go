package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_AppendValidatesBeforeIO(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)

	_, err := env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: trainer.ID, Body: "  \n\t "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: trainer.ID, Body: strings.Repeat("é", MaxBodyChars+1)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.store.Append(ctx, AppendInput{ConversationID: "t-1_c-1", SenderID: trainer.ID, Body: "hi"})
	require.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: client2.ID, Body: "hi"})
	require.ErrorIs(t, err, ErrInvalidParticipants)

	// Nothing above may have touched the backend.
	msgs, err := env.store.Snapshot(ctx, conv)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestStore_AppendTrimsAndTagsPersistence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)

	m, err := env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: trainer.ID, SenderName: "Coach Kim", Body: "  hello  "})
	require.NoError(t, err)
	require.Equal(t, "hello", m.Body)
	require.Equal(t, "Coach Kim", m.SenderName)

	env.backend.FailAppend(conv)
	_, err = env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: trainer.ID, Body: "again"})
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errInjected)
	require.True(t, IsPersistence(err))
}

func TestMemoryBackend_FullConversationRejectsAppend(t *testing.T) {
	t.Parallel()

	env := newTestEnvWith(t, NewMemoryBackend(WithMemoryCapacity(2)), Options{})
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)

	mustAppend(t, env.store, trainer.Participant, client1.ID, "one")
	mustAppend(t, env.store, client1, trainer.ID, "two")

	_, err := env.store.Append(ctx, AppendInput{ConversationID: conv, SenderID: trainer.ID, Body: "three"})
	require.True(t, IsPersistence(err), "got %v", err)

	// History is intact and other conversations still accept writes.
	cur, err := env.store.ListByConversation(ctx, conv)
	require.NoError(t, err)
	defer cur.Close()
	var seqs []int64
	for cur.Next() {
		seqs = append(seqs, cur.Message().Seq)
	}
	require.NoError(t, cur.Err())
	require.Equal(t, []int64{1, 2}, seqs)

	mustAppend(t, env.store, trainer.Participant, client2.ID, "elsewhere")
}

func TestStore_AppendSignalsWatchers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	conv := mustConv(t, trainer.ID, client1.ID)

	w, err := env.store.Watch(conv)
	require.NoError(t, err)
	defer w.Stop()

	mustAppend(t, env.store, trainer.Participant, client1.ID, "ping")

	select {
	case <-w.Changes():
	case <-time.After(time.Second):
		t.Fatal("no change signal after append")
	}
}

func TestStore_ListOrders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		mustAppend(t, env.store, client1, trainer.ID, body)
	}
	conv := mustConv(t, trainer.ID, client1.ID)

	cur, err := env.store.ListRecentByConversation(ctx, conv)
	require.NoError(t, err)
	require.True(t, cur.Next())
	require.Equal(t, "three", cur.Message().Body)
	cur.Close()

	last, ok, err := env.store.Latest(ctx, conv)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "three", last.Body)

	env.backend.FailList(conv)
	_, err = env.store.ListByConversation(ctx, conv)
	require.ErrorIs(t, err, ErrPersistence)
}
