package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationView_OpenMarksRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client1.ID)
	mustAppend(t, env.store, client1, trainer.ID, "done with week 3")

	v, err := env.core.OpenView(ctx, trainer, client1.ID)
	require.NoError(t, err)
	defer v.Close()
	require.Equal(t, conv, v.ConversationID)
	require.Equal(t, client1.DisplayName, v.Counterpart.DisplayName)

	n, err := env.core.Reads.UnreadCount(ctx, conv, trainer.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	first := recvSnapshot(t, v.Snapshots())
	require.Len(t, first, 1)
	require.True(t, first[0].Read)

	// The trainer's view never marks the client's side.
	mustAppend(t, env.store, trainer.Participant, client1.ID, "great")
	n, err = env.core.Reads.UnreadCount(ctx, conv, client1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestConversationView_SubmitAndRender(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.core.OpenView(ctx, trainer, client1.ID)
	require.NoError(t, err)
	defer v.Close()

	rows, err := v.Apply(ctx, recvSnapshot(t, v.Snapshots()))
	require.NoError(t, err)
	require.Empty(t, rows)

	v.SetDraft("Hydrate!")
	var pendingRows []Entry
	msg, err := v.Submit(ctx, func(OptimisticMessage) { pendingRows = v.Render() })
	require.NoError(t, err)
	require.Empty(t, v.Draft())

	require.Len(t, pendingRows, 1)
	require.True(t, pendingRows[0].Pending)
	require.Equal(t, "Hydrate!", pendingRows[0].Message.Body)

	snap := waitSnapshot(t, v.Snapshots(), func(s []Message) bool { return len(s) == 1 })
	rows, err = v.Apply(ctx, snap)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].Pending)
	require.Equal(t, msg.ID, rows[0].Message.ID)
	require.Empty(t, v.Outstanding())
}

func TestConversationView_FailedSubmitRestoresDraft(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.backend.FailAppend(mustConv(t, trainer.ID, client1.ID))

	v, err := env.core.OpenView(ctx, trainer, client1.ID)
	require.NoError(t, err)
	defer v.Close()

	v.SetDraft("Deadlifts tomorrow")
	_, err = v.Submit(ctx, nil)
	require.ErrorIs(t, err, ErrPersistence)
	require.Equal(t, "Deadlifts tomorrow", v.Draft())
	require.Empty(t, v.Outstanding())
	require.Empty(t, v.Render())
}

func TestConversationView_ApplyMarksIncomingRead(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv := mustConv(t, trainer.ID, client2.ID)

	v, err := env.core.OpenView(ctx, asClient(client2), trainer.ID)
	require.NoError(t, err)
	defer v.Close()
	recvSnapshot(t, v.Snapshots())

	mustAppend(t, env.store, trainer.Participant, client2.ID, "new plan posted")
	snap := waitSnapshot(t, v.Snapshots(), func(s []Message) bool { return len(s) == 1 })
	_, err = v.Apply(ctx, snap)
	require.NoError(t, err)

	n, err := env.core.Reads.UnreadCount(ctx, conv, client2.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConversationView_OpenRejectsOutsider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.core.OpenView(context.Background(), asClient(client1), client2.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.core.OpenView(context.Background(), trainer, trainer.ID)
	require.ErrorIs(t, err, ErrInvalidParticipants)
}
