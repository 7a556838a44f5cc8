package messaging

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// MemoryBackend is a dev-only fallback when no durable store is configured.
// Each conversation holds at most its capacity (10k messages by default);
// appends beyond it fail rather than dropping history.
type MemoryBackend struct {
	mu       sync.Mutex
	convs    map[string]*memConv
	capacity int
	closed   bool
}

// MemoryOption configures MemoryBackend behavior.
type MemoryOption func(*MemoryBackend)

// WithMemoryCapacity caps messages per conversation. n <= 0 keeps the default.
func WithMemoryCapacity(n int) MemoryOption {
	return func(s *MemoryBackend) {
		if n > 0 {
			s.capacity = n
		}
	}
}

type memConv struct {
	seq  int64
	last time.Time
	msgs []Message // ordered by seq
}

// NewMemoryBackend constructs an in-memory Backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	s := &MemoryBackend{
		convs:    make(map[string]*memConv),
		capacity: memMaxMessagesPerConversation,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var (
	errBackendClosed = errors.New("backend closed")
	errMemoryFull    = errors.New("conversation at memory capacity")
)

func (s *MemoryBackend) Name() string { return "memory" }

// Close marks the backend closed. Later calls fail.
func (s *MemoryBackend) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Append persists a message with monotonic sequence allocation.
func (s *MemoryBackend) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Message{}, errBackendClosed
	}

	c := s.convs[in.ConversationID]
	if c == nil {
		c = &memConv{msgs: make([]Message, 0, 64)}
		s.convs[in.ConversationID] = c
	}
	if len(c.msgs) >= s.capacity {
		return Message{}, errMemoryFull
	}
	if now.Before(c.last) {
		now = c.last
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	c.seq++
	c.last = now
	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            c.seq,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Body:           in.Body,
		CreatedAt:      now,
		BroadcastID:    in.BroadcastID,
	}
	c.msgs = append(c.msgs, msg)
	return msg, nil
}

// List returns a copy of the conversation taken under the lock.
func (s *MemoryBackend) List(ctx context.Context, conversationID string, order Order) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errBackendClosed
	}
	var snap []Message
	if c := s.convs[conversationID]; c != nil {
		snap = slices.Clone(c.msgs)
	}
	s.mu.Unlock()

	if order == Descending {
		slices.Reverse(snap)
	}
	return newSliceCursor(snap), nil
}

func (s *MemoryBackend) Latest(ctx context.Context, conversationID string) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Message{}, false, errBackendClosed
	}
	c := s.convs[conversationID]
	if c == nil || len(c.msgs) == 0 {
		return Message{}, false, nil
	}
	return c.msgs[len(c.msgs)-1], true, nil
}

func (s *MemoryBackend) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errBackendClosed
	}
	n := 0
	if c := s.convs[conversationID]; c != nil {
		for _, m := range c.msgs {
			if m.SenderID != viewerID && !m.Read {
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryBackend) MarkRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errBackendClosed
	}
	n := 0
	if c := s.convs[conversationID]; c != nil {
		for i := range c.msgs {
			if c.msgs[i].SenderID != viewerID && !c.msgs[i].Read {
				c.msgs[i].Read = true
				n++
			}
		}
	}
	return n, nil
}
