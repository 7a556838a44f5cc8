package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubjectPrefix is prepended to a conversation id to form its subject.
const DefaultNATSSubjectPrefix = "coachhub.conv."

// NATSFeed is a ChangeFeed over NATS core pub/sub, so every instance sharing
// a database sees every other instance's writes.
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]*signalWatcher
}

// NATSFeedConfig holds connection settings.
type NATSFeedConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// ConnectNATSFeed dials NATS and returns a feed that owns the connection.
func ConnectNATSFeed(cfg NATSFeedConfig, log *slog.Logger) (*NATSFeed, error) {
	if log == nil {
		log = slog.Default()
	}
	prefix := strings.TrimSpace(cfg.SubjectPrefix)
	if prefix == "" {
		prefix = DefaultNATSSubjectPrefix
	}
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	name := cfg.Name
	if name == "" {
		name = "coachhub"
	}

	f := &NATSFeed{
		prefix: prefix,
		log:    log,
		subs:   make(map[*nats.Subscription]*signalWatcher),
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("feed.nats.disconnect", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("feed.nats.reconnect", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			f.subscriptionFailed(sub, err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			f.failAll(nats.ErrConnectionClosed)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	f.nc = nc
	return f, nil
}

func (f *NATSFeed) subject(conversationID string) string {
	return f.prefix + conversationID
}

// Publish sends an empty change signal on the conversation subject.
func (f *NATSFeed) Publish(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.nc.Publish(f.subject(conversationID), nil)
}

// Watch subscribes to the conversation subject. It returns after the server
// has acknowledged the subscription.
func (f *NATSFeed) Watch(conversationID string) (Watcher, error) {
	var (
		w   *signalWatcher
		sub *nats.Subscription
	)
	w = newSignalWatcher(func() {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	sub, err = f.nc.Subscribe(f.subject(conversationID), func(*nats.Msg) { w.notify() })
	if err != nil {
		return nil, err
	}
	f.subs[sub] = w

	if err := f.nc.FlushTimeout(2 * time.Second); err != nil {
		delete(f.subs, sub)
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return w, nil
}

func (f *NATSFeed) subscriptionFailed(sub *nats.Subscription, err error) {
	if sub == nil {
		f.log.Warn("feed.nats.error", "err", err)
		return
	}
	f.mu.Lock()
	w := f.subs[sub]
	f.mu.Unlock()
	if w == nil {
		return
	}
	if errors.Is(err, nats.ErrSlowConsumer) {
		f.log.Warn("feed.nats.slow_consumer", "subject", sub.Subject)
	}
	w.fail(err)
}

func (f *NATSFeed) failAll(err error) {
	f.mu.Lock()
	all := make([]*signalWatcher, 0, len(f.subs))
	for _, w := range f.subs {
		all = append(all, w)
	}
	f.mu.Unlock()

	for _, w := range all {
		w.fail(err)
	}
}

// Close closes the connection; remaining watchers fail with ErrSubscription.
func (f *NATSFeed) Close() error {
	if f.nc == nil || f.nc.IsClosed() {
		return nil
	}
	f.nc.Close()
	f.failAll(errFeedClosed)
	return nil
}
