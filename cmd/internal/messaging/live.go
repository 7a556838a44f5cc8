package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// LiveChannel pushes full conversation snapshots to subscribers on every change.
type LiveChannel struct {
	store *Store
	log   *slog.Logger
}

// NewLiveChannel constructs a LiveChannel over store.
func NewLiveChannel(store *Store) *LiveChannel {
	return &LiveChannel{store: store, log: store.log}
}

// Subscription is one live stream of snapshots for a conversation.
//
// Snapshots holds at most one pending value; a newer snapshot replaces an
// unread one. The channel is closed when the subscription ends.
type Subscription struct {
	ConversationID string

	snapshots chan []Message
	done      chan struct{}
	cancel    context.CancelFunc
	once      sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Subscribe registers a watcher, reads the initial snapshot and starts the
// refresh loop. The watcher is registered first so no append between the two
// steps is missed. The initial snapshot is ready on Snapshots when Subscribe returns.
func (l *LiveChannel) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	w, err := l.store.Watch(conversationID)
	if err != nil {
		return nil, err
	}
	first, err := l.store.Snapshot(ctx, conversationID)
	if err != nil {
		w.Stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ConversationID: conversationID,
		snapshots:      make(chan []Message, 1),
		done:           make(chan struct{}),
		cancel:         cancel,
	}
	s.snapshots <- first

	l.store.metrics.liveSubscription(1)
	l.log.Debug("live.subscribe", "conversation_id", conversationID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		defer close(s.snapshots)
		defer l.store.metrics.liveSubscription(-1)
		defer w.Stop()
		l.run(ctx, s, w)
	}()
	return s, nil
}

func (l *LiveChannel) run(ctx context.Context, s *Subscription, w Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Done():
			if err := w.Err(); err != nil {
				s.setErr(err)
				l.log.Warn("live.subscription.lost", "conversation_id", s.ConversationID, "err", err)
			}
			return
		case <-w.Changes():
		}

		snap, err := l.store.Snapshot(ctx, s.ConversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = opErr("live", ErrSubscription, "refresh failed", err)
			s.setErr(err)
			l.log.Warn("live.subscription.lost", "conversation_id", s.ConversationID, "err", err)
			return
		}
		offerLatest(s.snapshots, snap)
	}
}

// offerLatest replaces any unread value in ch with v. ch must have a single sender.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Snapshots returns the snapshot stream, oldest message first.
func (s *Subscription) Snapshots() <-chan []Message { return s.snapshots }

// Done is closed when the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended on its own (ErrSubscription), or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Unsubscribe stops the stream and releases the watcher. No snapshot is
// delivered after it returns. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		for range s.snapshots {
		}
	})
}
