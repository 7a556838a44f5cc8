package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalFeed_CoalescesAndStops(t *testing.T) {
	t.Parallel()

	f := NewLocalFeed(discardLogger())
	defer f.Close()
	ctx := context.Background()

	w, err := f.Watch("a_b")
	require.NoError(t, err)
	other, err := f.Watch("a_c")
	require.NoError(t, err)
	defer other.Stop()

	for i := 0; i < 10; i++ {
		require.NoError(t, f.Publish(ctx, "a_b"))
	}
	select {
	case <-w.Changes():
	case <-time.After(time.Second):
		t.Fatal("missing signal")
	}
	select {
	case <-w.Changes():
		t.Fatal("signals must coalesce")
	default:
	}
	select {
	case <-other.Changes():
		t.Fatal("other conversation must not be signalled")
	default:
	}

	w.Stop()
	w.Stop()
	<-w.Done()
	require.NoError(t, w.Err())

	require.NoError(t, f.Publish(ctx, "a_b"))
	select {
	case <-w.Changes():
		t.Fatal("stopped watcher signalled")
	default:
	}
}

func TestLocalFeed_CloseFailsWatchers(t *testing.T) {
	t.Parallel()

	f := NewLocalFeed(discardLogger())
	w, err := f.Watch("a_b")
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	<-w.Done()
	require.ErrorIs(t, w.Err(), ErrSubscription)

	_, err = f.Watch("a_b")
	require.Error(t, err)
	require.Error(t, f.Publish(context.Background(), "a_b"))
}
