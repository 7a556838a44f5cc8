package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// LocalFeed is an in-process ChangeFeed for single-instance deployments.
//
// Concurrency guarantees:
// - Watch/Stop are safe under concurrent Publish.
// - Publish never blocks (signals coalesce per watcher).
type LocalFeed struct {
	log *slog.Logger

	mu       sync.RWMutex
	watchers map[string]map[*signalWatcher]struct{}
	closed   bool
}

// NewLocalFeed constructs a LocalFeed.
func NewLocalFeed(log *slog.Logger) *LocalFeed {
	if log == nil {
		log = slog.Default()
	}
	return &LocalFeed{
		log:      log,
		watchers: make(map[string]map[*signalWatcher]struct{}),
	}
}

// Publish signals every watcher of conversationID.
func (f *LocalFeed) Publish(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return errFeedClosed
	}
	for w := range f.watchers[conversationID] {
		w.notify()
	}
	return nil
}

// Watch registers a watcher for conversationID.
func (f *LocalFeed) Watch(conversationID string) (Watcher, error) {
	var w *signalWatcher
	w = newSignalWatcher(func() { f.remove(conversationID, w) })

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errFeedClosed
	}
	set := f.watchers[conversationID]
	if set == nil {
		set = make(map[*signalWatcher]struct{})
		f.watchers[conversationID] = set
	}
	set[w] = struct{}{}

	f.log.Debug("feed.watch", "conversation_id", conversationID, "watchers", len(set))
	return w, nil
}

func (f *LocalFeed) remove(conversationID string, w *signalWatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.watchers[conversationID]
	delete(set, w)
	if len(set) == 0 {
		delete(f.watchers, conversationID)
	}
}

// Close fails every remaining watcher with ErrSubscription.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	var all []*signalWatcher
	for _, set := range f.watchers {
		for w := range set {
			all = append(all, w)
		}
	}
	f.mu.Unlock()

	// fail re-enters remove, so run it without holding f.mu.
	for _, w := range all {
		w.fail(errFeedClosed)
	}
	return nil
}
