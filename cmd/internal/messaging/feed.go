package messaging

import (
	"context"
	"errors"
	"sync"
)

// ChangeFeed is the watch primitive: it signals that a conversation changed.
// Signals carry no payload; watchers re-read the store.
type ChangeFeed interface {
	Publish(ctx context.Context, conversationID string) error
	Watch(conversationID string) (Watcher, error)
	Close() error
}

// Watcher receives change signals for one conversation.
//
// Changes coalesces: a burst of publishes produces at least one signal.
// Done is closed after Stop or when the listener fails; Err is then non-nil
// only for a failure. Stop is idempotent.
type Watcher interface {
	Changes() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	Stop()
}

var errFeedClosed = errors.New("change feed closed")

// signalWatcher is the Watcher used by every feed in this package.
type signalWatcher struct {
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
	onStop  func()

	mu  sync.Mutex
	err error
}

func newSignalWatcher(onStop func()) *signalWatcher {
	return &signalWatcher{
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		onStop:  onStop,
	}
}

func (w *signalWatcher) Changes() <-chan struct{} { return w.changes }
func (w *signalWatcher) Done() <-chan struct{}    { return w.done }

func (w *signalWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// notify never blocks; a pending signal already covers this change.
func (w *signalWatcher) notify() {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *signalWatcher) Stop() { w.finish(nil) }

func (w *signalWatcher) fail(err error) {
	w.finish(&OpError{Op: "watch", Kind: ErrSubscription, Err: err})
}

func (w *signalWatcher) finish(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
		if w.onStop != nil {
			w.onStop()
		}
	})
}
