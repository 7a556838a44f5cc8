package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coachhub/cmd/identity"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected backend failure")

// faultyBackend fails selected operations for chosen conversation ids.
type faultyBackend struct {
	Backend

	mu         sync.Mutex
	failAppend map[string]bool
	failList   map[string]bool
	lists      atomic.Int64
}

func newFaultyBackend(b Backend) *faultyBackend {
	return &faultyBackend{
		Backend:    b,
		failAppend: make(map[string]bool),
		failList:   make(map[string]bool),
	}
}

func (f *faultyBackend) FailAppend(conversationID string) {
	f.mu.Lock()
	f.failAppend[conversationID] = true
	f.mu.Unlock()
}

func (f *faultyBackend) FailList(conversationID string) {
	f.mu.Lock()
	f.failList[conversationID] = true
	f.mu.Unlock()
}

func (f *faultyBackend) Append(ctx context.Context, in AppendInput) (Message, error) {
	f.mu.Lock()
	fail := f.failAppend[in.ConversationID]
	f.mu.Unlock()
	if fail {
		return Message{}, errInjected
	}
	return f.Backend.Append(ctx, in)
}

func (f *faultyBackend) List(ctx context.Context, conversationID string, order Order) (Cursor, error) {
	f.lists.Add(1)
	f.mu.Lock()
	fail := f.failList[conversationID]
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Backend.List(ctx, conversationID, order)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	trainer = identity.Actor{
		Participant: identity.Participant{ID: "t-1", DisplayName: "Coach Kim"},
		Role:        identity.RoleTrainer,
	}
	client1 = identity.Participant{ID: "c-1", DisplayName: "Ana"}
	client2 = identity.Participant{ID: "c-2", DisplayName: "Ben"}
	client3 = identity.Participant{ID: "c-3", DisplayName: "Cleo"}
)

func asClient(p identity.Participant) identity.Actor {
	return identity.Actor{Participant: p, Role: identity.RoleClient}
}

func testRoster(t *testing.T) *identity.StaticRoster {
	t.Helper()
	r := identity.NewStaticRoster()
	require.NoError(t, r.Assign(trainer.Participant, client1, client2, client3))
	return r
}

type testEnv struct {
	backend *faultyBackend
	feed    *LocalFeed
	store   *Store
	core    *Core
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, NewMemoryBackend(), Options{})
}

func newTestEnvWith(t *testing.T, b Backend, opts Options) *testEnv {
	t.Helper()

	fb := newFaultyBackend(b)
	feed := NewLocalFeed(discardLogger())
	store, err := NewStore(fb, feed, WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	core, err := NewCore(store, testRoster(t), opts)
	require.NoError(t, err)
	return &testEnv{backend: fb, feed: feed, store: store, core: core}
}

func newMemPebble(t *testing.T) *PebbleBackend {
	t.Helper()
	b, err := OpenPebbleBackend("coachhub-test", WithPebbleFS(vfs.NewMem()))
	require.NoError(t, err)
	return b
}

func mustConv(t *testing.T, a, b string) string {
	t.Helper()
	id, err := ResolveConversationID(a, b)
	require.NoError(t, err)
	return id
}

func mustAppend(t *testing.T, s *Store, from identity.Participant, to, body string) Message {
	t.Helper()
	m, err := s.Append(context.Background(), AppendInput{
		ConversationID: mustConv(t, from.ID, to),
		SenderID:       from.ID,
		SenderName:     from.DisplayName,
		Body:           body,
	})
	require.NoError(t, err)
	return m
}

func recvSnapshot(t *testing.T, ch <-chan []Message) []Message {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// waitSnapshot reads snapshots until one satisfies pred.
func waitSnapshot(t *testing.T, ch <-chan []Message, pred func([]Message) bool) []Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "snapshot channel closed")
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
			return nil
		}
	}
}

func vfsMem() vfs.FS { return vfs.NewMem() }
