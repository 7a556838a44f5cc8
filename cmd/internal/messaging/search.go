package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"coachhub/cmd/identity"

	"golang.org/x/sync/errgroup"
)

// searchParallelism bounds concurrent per-conversation scans.
const searchParallelism = 8

// SearchIndex answers which of a viewer's conversations contain a text.
// Each search is a linear scan of every conversation's full history.
type SearchIndex struct {
	store *Store
	log   *slog.Logger
}

// NewSearchIndex constructs a SearchIndex over store.
func NewSearchIndex(store *Store) *SearchIndex {
	return &SearchIndex{store: store, log: store.log}
}

// NormalizeQuery trims the query. An empty result means "clear".
func NormalizeQuery(q string) string {
	return strings.TrimSpace(q)
}

// Search returns the ids of counterparts whose conversation with ownerID
// contains query, case-insensitively, in counterpart order. A conversation
// that fails to scan is logged and left out. An empty query returns nil
// without reading anything.
func (x *SearchIndex) Search(ctx context.Context, ownerID string, counterparts []identity.Participant, query string) ([]string, error) {
	query = NormalizeQuery(query)
	if query == "" {
		return nil, nil
	}
	needle := strings.ToLower(query)

	hits := make([]bool, len(counterparts))
	var g errgroup.Group
	g.SetLimit(searchParallelism)
	for i, cp := range counterparts {
		g.Go(func() error {
			ok, err := x.scan(ctx, ownerID, cp.ID, needle)
			x.store.metrics.searchScan(err)
			if err != nil {
				if ctx.Err() == nil {
					x.log.Warn("search.scan.fail",
						"owner_id", ownerID,
						"counterpart_id", cp.ID,
						"err", err,
					)
				}
				return nil
			}
			hits[i] = ok
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []string
	for i, cp := range counterparts {
		if hits[i] {
			out = append(out, cp.ID)
		}
	}
	return out, nil
}

func (x *SearchIndex) scan(ctx context.Context, ownerID, counterpartID, needle string) (bool, error) {
	convID, err := ResolveConversationID(ownerID, counterpartID)
	if err != nil {
		return false, opErr("search_scan", ErrSearchScan, counterpartID, err)
	}
	cur, err := x.store.ListByConversation(ctx, convID)
	if err != nil {
		return false, opErr("search_scan", ErrSearchScan, counterpartID, err)
	}
	defer cur.Close()

	for cur.Next() {
		if strings.Contains(strings.ToLower(cur.Message().Body), needle) {
			return true, nil
		}
	}
	if err := cur.Err(); err != nil {
		return false, opErr("search_scan", ErrSearchScan, counterpartID, err)
	}
	return false, nil
}

// SearchResult is one completed (or cleared) search.
type SearchResult struct {
	Query   string   `json:"query"`
	Matches []string `json:"matches"`
}

// SearchSession debounces query updates from one operator. Only the last
// update in a quiet period runs a scan, at most one scan is in flight, and a
// result superseded by a newer update is discarded.
type SearchSession struct {
	index        *SearchIndex
	ownerID      string
	counterparts []identity.Participant
	debounce     time.Duration

	base    context.Context
	results chan SearchResult

	mu       sync.Mutex
	gen      uint64
	timer    *time.Timer
	inflight context.CancelFunc
	closed   bool
}

// NewSession starts a debounced search session. A debounce <= 0 uses
// DefaultSearchDebounce. The session ends when ctx is done or on Close.
func (x *SearchIndex) NewSession(ctx context.Context, ownerID string, counterparts []identity.Participant, debounce time.Duration) *SearchSession {
	if debounce <= 0 {
		debounce = DefaultSearchDebounce
	}
	s := &SearchSession{
		index:        x,
		ownerID:      ownerID,
		counterparts: append([]identity.Participant(nil), counterparts...),
		debounce:     debounce,
		base:         ctx,
		results:      make(chan SearchResult, 1),
	}
	context.AfterFunc(ctx, s.Close)
	return s
}

// Results delivers the latest result. Closed after Close.
func (s *SearchSession) Results() <-chan SearchResult { return s.results }

// Update records a new query and restarts the quiet period. An empty query
// clears the results at once and runs no scan.
func (s *SearchSession) Update(query string) {
	query = NormalizeQuery(query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if query == "" {
		if s.inflight != nil {
			s.inflight()
			s.inflight = nil
		}
		offerLatest(s.results, SearchResult{Query: ""})
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen, query) })
}

func (s *SearchSession) fire(gen uint64, query string) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.inflight != nil {
		s.inflight()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.inflight = cancel
	s.mu.Unlock()

	matches, err := s.index.Search(ctx, s.ownerID, s.counterparts, query)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || err != nil {
		return
	}
	s.inflight = nil
	offerLatest(s.results, SearchResult{Query: query, Matches: matches})
}

// Close stops pending and running scans. Safe to call more than once.
func (s *SearchSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.inflight != nil {
		s.inflight()
	}
	close(s.results)
}
