package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// runBackendSuite checks the ordering, read-state and independence
// requirements every Backend must meet. newBackend returns an empty backend.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("AppendAssignsGapFreeSeq", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")

		for i := 1; i <= 5; i++ {
			m, err := b.Append(ctx, AppendInput{
				ConversationID: conv,
				SenderID:       "t-1",
				SenderName:     "Coach",
				Body:           fmt.Sprintf("m%d", i),
				Now:            testNow.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
			require.Equal(t, int64(i), m.Seq)
			require.NotEmpty(t, m.ID)
			require.False(t, m.Read)
		}

		other, err := b.Append(ctx, AppendInput{
			ConversationID: mustConv(t, "t-1", "c-2"),
			SenderID:       "t-1",
			Body:           "independent",
			Now:            testNow,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), other.Seq)
	})

	t.Run("ListIsOrderedAndClampsClockSkew", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")

		// Second append has an earlier clock; it must not sort before the first.
		times := []time.Time{testNow, testNow.Add(-time.Minute), testNow, testNow.Add(time.Second)}
		for i, now := range times {
			_, err := b.Append(ctx, AppendInput{
				ConversationID: conv,
				SenderID:       "c-1",
				Body:           fmt.Sprintf("m%d", i),
				Now:            now,
			})
			require.NoError(t, err)
		}

		cur, err := b.List(ctx, conv, Ascending)
		require.NoError(t, err)
		asc, err := Collect(cur)
		require.NoError(t, err)
		require.Len(t, asc, 4)
		for i := 1; i < len(asc); i++ {
			require.False(t, asc[i].CreatedAt.Before(asc[i-1].CreatedAt), "timestamps must not decrease")
			require.True(t, asc[i-1].Before(asc[i]))
			require.Equal(t, fmt.Sprintf("m%d", i), asc[i].Body)
		}

		cur, err = b.List(ctx, conv, Descending)
		require.NoError(t, err)
		desc, err := Collect(cur)
		require.NoError(t, err)
		require.Len(t, desc, 4)
		require.Equal(t, "m3", desc[0].Body)
		require.Equal(t, "m0", desc[3].Body)

		latest, ok, err := b.Latest(ctx, conv)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, desc[0].ID, latest.ID)
	})

	t.Run("ListOfUnknownConversationIsEmpty", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-9", "c-9")

		cur, err := b.List(ctx, conv, Ascending)
		require.NoError(t, err)
		msgs, err := Collect(cur)
		require.NoError(t, err)
		require.Empty(t, msgs)

		_, ok, err := b.Latest(ctx, conv)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("CursorIsSinglePassSnapshot", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")
		_, err := b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "t-1", Body: "before", Now: testNow})
		require.NoError(t, err)

		cur, err := b.List(ctx, conv, Ascending)
		require.NoError(t, err)
		require.True(t, cur.Next())
		require.Equal(t, "before", cur.Message().Body)
		require.False(t, cur.Next())
		require.False(t, cur.Next())
		cur.Close()
		cur.Close()
		require.NoError(t, cur.Err())
	})

	t.Run("UnreadCountsOnlyCounterpartMessages", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")
		for i, sender := range []string{"c-1", "t-1", "c-1", "c-1"} {
			_, err := b.Append(ctx, AppendInput{
				ConversationID: conv,
				SenderID:       sender,
				Body:           fmt.Sprintf("m%d", i),
				Now:            testNow.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}

		n, err := b.CountUnread(ctx, conv, "t-1")
		require.NoError(t, err)
		require.Equal(t, 3, n)
		n, err = b.CountUnread(ctx, conv, "c-1")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		marked, err := b.MarkRead(ctx, conv, "t-1")
		require.NoError(t, err)
		require.Equal(t, 3, marked)

		n, err = b.CountUnread(ctx, conv, "t-1")
		require.NoError(t, err)
		require.Zero(t, n)
		n, err = b.CountUnread(ctx, conv, "c-1")
		require.NoError(t, err)
		require.Equal(t, 1, n, "the trainer's own message stays unread for the client")

		marked, err = b.MarkRead(ctx, conv, "t-1")
		require.NoError(t, err)
		require.Zero(t, marked)

		_, err = b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "c-1", Body: "new", Now: testNow.Add(time.Hour)})
		require.NoError(t, err)
		n, err = b.CountUnread(ctx, conv, "t-1")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("ConcurrentAppendsStayGapFree", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "t-1", Body: "x", Now: time.Now().UTC()})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		cur, err := b.List(ctx, conv, Ascending)
		require.NoError(t, err)
		msgs, err := Collect(cur)
		require.NoError(t, err)
		require.Len(t, msgs, n)
		for i, m := range msgs {
			require.Equal(t, int64(i+1), m.Seq)
		}
	})

	t.Run("NoDeduplication", func(t *testing.T) {
		b := newBackend(t)
		conv := mustConv(t, "t-1", "c-1")
		in := AppendInput{ConversationID: conv, SenderID: "t-1", Body: "same", Now: testNow}

		m1, err := b.Append(ctx, in)
		require.NoError(t, err)
		m2, err := b.Append(ctx, in)
		require.NoError(t, err)
		require.NotEqual(t, m1.ID, m2.ID)
		require.Equal(t, m1.Seq+1, m2.Seq)
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		b := NewMemoryBackend()
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestPebbleBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		b := newMemPebble(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestPebbleBackend_ReopenResumesSeq(t *testing.T) {
	ctx := context.Background()
	fs := vfsMem()
	conv := mustConv(t, "t-1", "c-1")

	b, err := OpenPebbleBackend("reopen", WithPebbleFS(fs))
	require.NoError(t, err)
	_, err = b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "t-1", Body: "one", Now: testNow})
	require.NoError(t, err)
	_, err = b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "t-1", Body: "two", Now: testNow.Add(time.Second)})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = OpenPebbleBackend("reopen", WithPebbleFS(fs))
	require.NoError(t, err)
	defer b.Close()

	m, err := b.Append(ctx, AppendInput{ConversationID: conv, SenderID: "c-1", Body: "three", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, int64(3), m.Seq)
	require.True(t, testNow.Add(time.Second).Equal(m.CreatedAt), "clamped to the persisted last timestamp")
}

func TestMemoryBackend_ClosedFails(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Close())

	_, err := b.Append(context.Background(), AppendInput{ConversationID: mustConv(t, "a", "b"), SenderID: "a", Body: "x"})
	require.Error(t, err)
}
