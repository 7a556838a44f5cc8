package messaging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"coachhub/cmd/identity"

	"golang.org/x/sync/errgroup"
)

// directoryParallelism bounds concurrent per-counterpart reads.
const directoryParallelism = 8

// Summary is one inbox row. It is recomputed from the store, never mutated.
type Summary struct {
	Counterpart    identity.Participant `json:"counterpart"`
	ConversationID string               `json:"conversation_id"`
	HasMessages    bool                 `json:"has_messages"`
	LastBody       string               `json:"last_body"`
	LastSenderID   string               `json:"last_sender_id,omitempty"`
	LastAt         time.Time            `json:"last_at,omitzero"`
	Unread         int                  `json:"unread"`
}

// Directory builds the inbox view for a viewer over a counterpart set.
type Directory struct {
	store *Store
	reads *ReadState
	log   *slog.Logger
}

// NewDirectory constructs a Directory.
func NewDirectory(store *Store, reads *ReadState) *Directory {
	return &Directory{store: store, reads: reads, log: store.log}
}

// Summaries computes one Summary per counterpart, most recent first.
// Counterparts without messages sort last with a placeholder body.
func (d *Directory) Summaries(ctx context.Context, viewerID string, counterparts []identity.Participant) ([]Summary, error) {
	out := make([]Summary, len(counterparts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(directoryParallelism)
	for i, cp := range counterparts {
		g.Go(func() error {
			s, err := d.summary(gctx, viewerID, cp)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortSummaries(out)
	return out, nil
}

func (d *Directory) summary(ctx context.Context, viewerID string, cp identity.Participant) (Summary, error) {
	convID, err := ResolveConversationID(viewerID, cp.ID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		Counterpart:    cp,
		ConversationID: convID,
		LastBody:       NoMessagesPlaceholder,
	}

	last, ok, err := d.store.Latest(ctx, convID)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return s, nil
	}
	unread, err := d.reads.UnreadCount(ctx, convID, viewerID)
	if err != nil {
		return Summary{}, err
	}

	s.HasMessages = true
	s.LastBody = last.Body
	s.LastSenderID = last.SenderID
	s.LastAt = last.CreatedAt
	s.Unread = unread
	return s, nil
}

// SortSummaries orders by last message time descending; empty conversations
// go last. Ties fall back to display name, then id.
func SortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.HasMessages != b.HasMessages {
			return a.HasMessages
		}
		if a.HasMessages && !a.LastAt.Equal(b.LastAt) {
			return a.LastAt.After(b.LastAt)
		}
		an, bn := strings.ToLower(a.Counterpart.DisplayName), strings.ToLower(b.Counterpart.DisplayName)
		if an != bn {
			return an < bn
		}
		return a.Counterpart.ID < b.Counterpart.ID
	})
}

// DirectoryWatch streams recomputed summary lists.
type DirectoryWatch struct {
	updates chan []Summary
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	wg      sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Watch emits the full summary list now and again whenever any conversation
// in the counterpart set changes. Bursts of changes coalesce into one recomputation.
func (d *Directory) Watch(ctx context.Context, viewerID string, counterparts []identity.Participant) (*DirectoryWatch, error) {
	watchers := make([]Watcher, 0, len(counterparts))
	stopAll := func() {
		for _, w := range watchers {
			w.Stop()
		}
	}
	for _, cp := range counterparts {
		convID, err := ResolveConversationID(viewerID, cp.ID)
		if err != nil {
			stopAll()
			return nil, err
		}
		w, err := d.store.Watch(convID)
		if err != nil {
			stopAll()
			return nil, err
		}
		watchers = append(watchers, w)
	}

	first, err := d.Summaries(ctx, viewerID, counterparts)
	if err != nil {
		stopAll()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	dw := &DirectoryWatch{
		updates: make(chan []Summary, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	dw.updates <- first

	trigger := make(chan struct{}, 1)
	failed := make(chan error, 1)
	for _, w := range watchers {
		dw.wg.Add(1)
		go func() {
			defer dw.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-w.Done():
					if err := w.Err(); err != nil {
						select {
						case failed <- err:
						default:
						}
					}
					return
				case <-w.Changes():
					select {
					case trigger <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	go func() {
		defer close(dw.done)
		defer close(dw.updates)
		defer dw.wg.Wait()
		defer cancel()
		defer stopAll()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-failed:
				dw.setErr(err)
				d.log.Warn("directory.watch.lost", "viewer_id", viewerID, "err", err)
				return
			case <-trigger:
			}
			list, err := d.Summaries(ctx, viewerID, counterparts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				dw.setErr(opErr("directory_watch", ErrSubscription, "refresh failed", err))
				d.log.Warn("directory.watch.lost", "viewer_id", viewerID, "err", err)
				return
			}
			offerLatest(dw.updates, list)
		}
	}()
	return dw, nil
}

// Updates returns the summary stream. Closed when the watch ends.
func (w *DirectoryWatch) Updates() <-chan []Summary { return w.updates }

// Done is closed when the watch has ended.
func (w *DirectoryWatch) Done() <-chan struct{} { return w.done }

// Err reports a listener or refresh failure, or nil.
func (w *DirectoryWatch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *DirectoryWatch) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Stop ends the watch. Safe to call more than once.
func (w *DirectoryWatch) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
		for range w.updates {
		}
	})
}
