package messaging

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Enabled when COACHHUB_TEST_NATS_URL is set.
func TestNATSFeed_CrossInstanceSignal(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("COACHHUB_TEST_NATS_URL"))
	if url == "" {
		t.Skip("integration test skipped: COACHHUB_TEST_NATS_URL is not set")
	}

	prefix := "coachhub.it." + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "."
	a, err := ConnectNATSFeed(NATSFeedConfig{URL: url, SubjectPrefix: prefix, Name: "it-a"}, discardLogger())
	require.NoError(t, err)
	defer a.Close()
	b, err := ConnectNATSFeed(NATSFeedConfig{URL: url, SubjectPrefix: prefix, Name: "it-b"}, discardLogger())
	require.NoError(t, err)

	conv := mustConv(t, "t-1", "c-1")
	w, err := a.Watch(conv)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), conv))
	select {
	case <-w.Changes():
	case <-time.After(3 * time.Second):
		t.Fatal("no signal from the other instance")
	}

	// Losing the connection fails the watcher.
	require.NoError(t, a.Close())
	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher not failed on close")
	}
	require.ErrorIs(t, w.Err(), ErrSubscription)
	require.NoError(t, b.Close())
}
