package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleBackend is an embedded Backend for single-node deployments.
//
// Key layout (lexicographic order == insertion order):
//
//	c:<conversation_id>:m:<seq %020d> -> JSON Message
//
// Writes are serialized by one mutex; seq and the last timestamp per
// conversation are cached after the first touch.
type PebbleBackend struct {
	db  *pebble.DB
	own bool

	mu    sync.Mutex
	heads map[string]pebbleHead
}

type pebbleHead struct {
	seq  int64
	last time.Time
}

// PebbleOption configures OpenPebbleBackend.
type PebbleOption func(*pebble.Options)

// WithPebbleFS sets the filesystem (vfs.NewMem() in tests).
func WithPebbleFS(fs vfs.FS) PebbleOption {
	return func(o *pebble.Options) { o.FS = fs }
}

// OpenPebbleBackend opens (or creates) a pebble database at dir.
func OpenPebbleBackend(dir string, opts ...PebbleOption) (*PebbleBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("messaging: empty pebble dir")
	}
	po := &pebble.Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(po)
		}
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	b := NewPebbleBackend(db)
	b.own = true
	return b, nil
}

// NewPebbleBackend wraps an already open database. Close does not close db.
func NewPebbleBackend(db *pebble.DB) *PebbleBackend {
	return &PebbleBackend{
		db:    db,
		heads: make(map[string]pebbleHead),
	}
}

func (s *PebbleBackend) Name() string { return "pebble" }

// Close closes the database when the backend opened it.
func (s *PebbleBackend) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

func convPrefix(conversationID string) []byte {
	return []byte("c:" + conversationID + ":m:")
}

// convUpper is the exclusive upper bound of convPrefix (':' + 1 == ';').
func convUpper(conversationID string) []byte {
	return []byte("c:" + conversationID + ":m;")
}

func messageKey(conversationID string, seq int64) []byte {
	return []byte(fmt.Sprintf("c:%s:m:%020d", conversationID, seq))
}

func parseMessageSeq(key []byte) (int64, error) {
	i := strings.LastIndexByte(string(key), ':')
	if i < 0 {
		return 0, fmt.Errorf("malformed key %q", key)
	}
	return strconv.ParseInt(string(key[i+1:]), 10, 64)
}

func (s *PebbleBackend) iter(conversationID string) (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: convPrefix(conversationID),
		UpperBound: convUpper(conversationID),
	})
}

// head loads the cached seq/timestamp for a conversation. Caller holds s.mu.
func (s *PebbleBackend) head(conversationID string) (pebbleHead, error) {
	if h, ok := s.heads[conversationID]; ok {
		return h, nil
	}
	m, ok, err := s.latest(conversationID)
	if err != nil {
		return pebbleHead{}, err
	}
	var h pebbleHead
	if ok {
		h = pebbleHead{seq: m.Seq, last: m.CreatedAt}
	}
	s.heads[conversationID] = h
	return h, nil
}

// Append writes the next seq for the conversation with a synced write.
func (s *PebbleBackend) Append(ctx context.Context, in AppendInput) (Message, error) {
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

	h, err := s.head(in.ConversationID)
	if err != nil {
		return Message{}, err
	}
	if now.Before(h.last) {
		now = h.last
	}
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            h.seq + 1,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Body:           in.Body,
		CreatedAt:      now,
		BroadcastID:    in.BroadcastID,
	}
	v, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	if err := s.db.Set(messageKey(msg.ConversationID, msg.Seq), v, pebble.Sync); err != nil {
		return Message{}, fmt.Errorf("pebble set: %w", err)
	}
	s.heads[in.ConversationID] = pebbleHead{seq: msg.Seq, last: now}
	return msg, nil
}

// List returns a lazy cursor over a point-in-time view of the conversation.
func (s *PebbleBackend) List(ctx context.Context, conversationID string, order Order) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := s.iter(conversationID)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return &pebbleCursor{it: it, desc: order == Descending}, nil
}

func (s *PebbleBackend) Latest(ctx context.Context, conversationID string) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}
	return s.latest(conversationID)
}

func (s *PebbleBackend) latest(conversationID string) (Message, bool, error) {
	it, err := s.iter(conversationID)
	if err != nil {
		return Message{}, false, fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()

	if !it.Last() {
		return Message{}, false, it.Error()
	}
	var m Message
	if err := json.Unmarshal(it.Value(), &m); err != nil {
		return Message{}, false, fmt.Errorf("decode %q: %w", it.Key(), err)
	}
	return m, true, nil
}

func (s *PebbleBackend) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	cur, err := s.List(ctx, conversationID, Ascending)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	n := 0
	for cur.Next() {
		m := cur.Message()
		if m.SenderID != viewerID && !m.Read {
			n++
		}
	}
	return n, cur.Err()
}

// MarkRead rewrites unread counterpart messages in one synced batch.
func (s *PebbleBackend) MarkRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.iter(conversationID)
	if err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	n := 0
	for it.First(); it.Valid(); it.Next() {
		var m Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return 0, fmt.Errorf("decode %q: %w", it.Key(), err)
		}
		if m.SenderID == viewerID || m.Read {
			continue
		}
		m.Read = true
		v, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		if err := batch.Set(append([]byte(nil), it.Key()...), v, nil); err != nil {
			return 0, err
		}
		n++
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("pebble commit: %w", err)
	}
	return n, nil
}

type pebbleCursor struct {
	it      *pebble.Iterator
	desc    bool
	started bool
	closed  bool
	cur     Message
	err     error
}

func (c *pebbleCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	var ok bool
	switch {
	case !c.started && c.desc:
		ok = c.it.Last()
	case !c.started:
		ok = c.it.First()
	case c.desc:
		ok = c.it.Prev()
	default:
		ok = c.it.Next()
	}
	c.started = true
	if !ok {
		c.err = c.it.Error()
		return false
	}

	var m Message
	if err := json.Unmarshal(c.it.Value(), &m); err != nil {
		c.err = fmt.Errorf("decode %q: %w", c.it.Key(), err)
		return false
	}
	if seq, err := parseMessageSeq(c.it.Key()); err == nil {
		m.Seq = seq
	}
	c.cur = m
	return true
}

func (c *pebbleCursor) Message() Message { return c.cur }
func (c *pebbleCursor) Err() error       { return c.err }

func (c *pebbleCursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.it.Close(); err != nil && c.err == nil {
		c.err = err
	}
}
