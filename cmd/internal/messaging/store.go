package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Order selects the direction of a conversation listing.
type Order int

const (
	Ascending Order = iota
	Descending
)

// AppendInput describes a message append request. Backends assign ID, Seq and
// CreatedAt.
type AppendInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	BroadcastID    string
	Now            time.Time
}

// Backend is the persisted message store.
//
// Requirements:
//   - Seq is 1-based and gap-free per conversation, in insertion order
//   - CreatedAt never decreases within a conversation (clamped to the previous message)
//   - No deduplication; every Append persists a new message
type Backend interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	List(ctx context.Context, conversationID string, order Order) (Cursor, error)
	Latest(ctx context.Context, conversationID string) (Message, bool, error)
	CountUnread(ctx context.Context, conversationID, viewerID string) (int, error)
	MarkRead(ctx context.Context, conversationID, viewerID string) (int, error)
	Name() string
	Close() error
}

// Cursor is a single-pass sequence of messages.
//
//	for cur.Next() { m := cur.Message() }
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	Next() bool
	Message() Message
	Err() error
	Close()
}

// sliceCursor iterates a snapshot taken at List time.
type sliceCursor struct {
	msgs []Message
	pos  int
	cur  Message
}

func newSliceCursor(msgs []Message) *sliceCursor {
	return &sliceCursor{msgs: msgs}
}

func (c *sliceCursor) Next() bool {
	if c.pos >= len(c.msgs) {
		return false
	}
	c.cur = c.msgs[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) Message() Message { return c.cur }
func (c *sliceCursor) Err() error       { return nil }
func (c *sliceCursor) Close()           { c.pos = len(c.msgs) }

// Collect drains cur into a slice and closes it.
func Collect(cur Cursor) ([]Message, error) {
	defer cur.Close()
	var out []Message
	for cur.Next() {
		out = append(out, cur.Message())
	}
	return out, cur.Err()
}

// Store is the message store used by the rest of the core. It validates input,
// tags backend failures as ErrPersistence and signals the change feed after
// every successful write.
type Store struct {
	backend Backend
	feed    ChangeFeed
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore composes a backend with a change feed.
func NewStore(backend Backend, feed ChangeFeed, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.New("messaging: nil backend")
	}
	if feed == nil {
		return nil, errors.New("messaging: nil change feed")
	}
	s := &Store{
		backend: backend,
		feed:    feed,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// BackendName reports the storage backend in use.
func (s *Store) BackendName() string { return s.backend.Name() }

// Close closes the feed and the backend.
func (s *Store) Close() error {
	return errors.Join(s.feed.Close(), s.backend.Close())
}

// Append persists one message. Validation happens before any I/O.
func (s *Store) Append(ctx context.Context, in AppendInput) (Message, error) {
	if _, _, err := SplitConversationID(in.ConversationID); err != nil {
		return Message{}, err
	}
	if _, err := Counterpart(in.ConversationID, in.SenderID); err != nil {
		return Message{}, opErr("append", ErrInvalidParticipants, "sender not in conversation", nil)
	}
	body, err := NormalizeBody(in.Body)
	if err != nil {
		return Message{}, err
	}
	in.Body = body
	if in.Now.IsZero() {
		in.Now = s.now().UTC()
	}

	msg, err := s.backend.Append(ctx, in)
	if err != nil {
		s.log.Error("message.append.fail",
			"conversation_id", in.ConversationID,
			"sender_id", in.SenderID,
			"backend", s.backend.Name(),
			"err", err,
		)
		return Message{}, persistErr("append", err)
	}
	s.metrics.messageAppended(s.backend.Name())

	s.log.Debug("message.append",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"sender_id", msg.SenderID,
	)
	s.publish(ctx, msg.ConversationID)
	return msg, nil
}

// publish signals watchers. The write already happened, so a failure is only logged.
func (s *Store) publish(ctx context.Context, conversationID string) {
	if err := s.feed.Publish(ctx, conversationID); err != nil {
		s.log.Warn("feed.publish.fail", "conversation_id", conversationID, "err", err)
	}
}

// ListByConversation returns the conversation in ascending (CreatedAt, Seq) order.
func (s *Store) ListByConversation(ctx context.Context, conversationID string) (Cursor, error) {
	return s.list(ctx, conversationID, Ascending)
}

// ListRecentByConversation returns the conversation newest first.
func (s *Store) ListRecentByConversation(ctx context.Context, conversationID string) (Cursor, error) {
	return s.list(ctx, conversationID, Descending)
}

func (s *Store) list(ctx context.Context, conversationID string, order Order) (Cursor, error) {
	if _, _, err := SplitConversationID(conversationID); err != nil {
		return nil, err
	}
	cur, err := s.backend.List(ctx, conversationID, order)
	if err != nil {
		return nil, persistErr("list", err)
	}
	return &persistCursor{Cursor: cur}, nil
}

// Snapshot reads the whole conversation in ascending order.
func (s *Store) Snapshot(ctx context.Context, conversationID string) ([]Message, error) {
	cur, err := s.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return Collect(cur)
}

// Latest returns the most recent message, if any.
func (s *Store) Latest(ctx context.Context, conversationID string) (Message, bool, error) {
	if _, _, err := SplitConversationID(conversationID); err != nil {
		return Message{}, false, err
	}
	m, ok, err := s.backend.Latest(ctx, conversationID)
	if err != nil {
		return Message{}, false, persistErr("latest", err)
	}
	return m, ok, nil
}

// Watch registers for change signals on conversationID.
func (s *Store) Watch(conversationID string) (Watcher, error) {
	if _, _, err := SplitConversationID(conversationID); err != nil {
		return nil, err
	}
	w, err := s.feed.Watch(conversationID)
	if err != nil {
		return nil, opErr("watch", ErrSubscription, "", err)
	}
	return w, nil
}

// persistCursor tags iteration errors as ErrPersistence.
type persistCursor struct {
	Cursor
}

func (c *persistCursor) Err() error {
	return persistErr("list", c.Cursor.Err())
}
