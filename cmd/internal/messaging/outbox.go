package messaging

import (
	"sync"
	"time"

	"coachhub/cmd/identity"
)

// SendState is the state of one direct send.
//
//	Composing -> Pending -> Committed | RolledBack
type SendState int

const (
	Composing SendState = iota
	Pending
	Committed
	RolledBack
)

func (s SendState) String() string {
	switch s {
	case Composing:
		return "composing"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// OptimisticMessage is a client-local stub shown before the append returns.
type OptimisticMessage struct {
	TempID         string    `json:"temp_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	State          SendState `json:"-"`

	// Persisted is set once the append returned.
	Persisted *Message `json:"-"`

	afterSeq int64
}

// Entry is one rendered row: a persisted message or an outstanding optimistic one.
type Entry struct {
	Message Message `json:"message"`
	TempID  string  `json:"temp_id,omitempty"`
	Pending bool    `json:"pending"`
}

// Outbox holds the optimistic messages of one viewer in one conversation.
type Outbox struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries []*OptimisticMessage
	lastSeq int64
}

// NewOutbox constructs an Outbox. window bounds the time distance for reconciliation.
func NewOutbox(window time.Duration) *Outbox {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Outbox{window: window, now: time.Now}
}

// Stage records a Pending entry.
func (o *Outbox) Stage(conversationID string, sender identity.Participant, body string) OptimisticMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	e := &OptimisticMessage{
		TempID:         NewTempID(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.DisplayName,
		Body:           body,
		CreatedAt:      o.now().UTC(),
		State:          Pending,
		afterSeq:       o.lastSeq,
	}
	o.entries = append(o.entries, e)
	return *e
}

// Commit marks tempID as persisted. The entry stays until a snapshot supersedes it.
func (o *Outbox) Commit(tempID string, msg Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, e := range o.entries {
		if e.TempID == tempID && e.State == Pending {
			e.State = Committed
			m := msg
			e.Persisted = &m
			return true
		}
	}
	return false
}

// Rollback removes tempID and returns the removed entry.
func (o *Outbox) Rollback(tempID string) (OptimisticMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.entries {
		if e.TempID == tempID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			e.State = RolledBack
			return *e, true
		}
	}
	return OptimisticMessage{}, false
}

// Outstanding returns a copy of the entries not yet superseded.
func (o *Outbox) Outstanding() []OptimisticMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]OptimisticMessage, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, *e)
	}
	return out
}

// Merge reconciles outstanding entries against an authoritative snapshot and
// returns the rows to render. An entry is superseded by a persisted message
// with the same sender and body, created within the match window, and newer
// than anything seen when the entry was staged. Each persisted message
// supersedes at most one entry.
func (o *Outbox) Merge(snapshot []Message) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	rows := make([]Entry, 0, len(snapshot)+len(o.entries))
	for _, m := range snapshot {
		rows = append(rows, Entry{Message: m})
	}

	claimed := make(map[int]bool, len(o.entries))
	kept := o.entries[:0]
	for _, e := range o.entries {
		if i := o.match(e, snapshot, claimed); i >= 0 {
			claimed[i] = true
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(o.entries); i++ {
		o.entries[i] = nil
	}
	o.entries = kept

	if n := len(snapshot); n > 0 && snapshot[n-1].Seq > o.lastSeq {
		o.lastSeq = snapshot[n-1].Seq
	}

	for _, e := range o.entries {
		if e.Persisted != nil {
			rows = append(rows, Entry{Message: *e.Persisted, TempID: e.TempID})
			continue
		}
		rows = append(rows, Entry{
			Message: Message{
				ID:             e.TempID,
				ConversationID: e.ConversationID,
				SenderID:       e.SenderID,
				SenderName:     e.SenderName,
				Body:           e.Body,
				CreatedAt:      e.CreatedAt,
			},
			TempID:  e.TempID,
			Pending: true,
		})
	}
	return rows
}

func (o *Outbox) match(e *OptimisticMessage, snapshot []Message, claimed map[int]bool) int {
	for i, m := range snapshot {
		if claimed[i] {
			continue
		}
		if e.Persisted != nil && m.ID == e.Persisted.ID {
			return i
		}
	}
	for i, m := range snapshot {
		if claimed[i] || m.Seq <= e.afterSeq {
			continue
		}
		if m.SenderID != e.SenderID || m.Body != e.Body {
			continue
		}
		d := m.CreatedAt.Sub(e.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= o.window {
			return i
		}
	}
	return -1
}
