package messaging

import (
	"context"
	"fmt"
	"sync"

	"coachhub/cmd/identity"
)

// ConversationView is what one viewer has open with one counterpart: the live
// subscription, the optimistic outbox and the draft input.
type ConversationView struct {
	Viewer         identity.Actor
	Counterpart    identity.Participant
	ConversationID string

	core   *Core
	sub    *Subscription
	outbox *Outbox

	mu    sync.Mutex
	draft string
	last  []Message
}

// OpenView authorizes the counterpart, marks the conversation read for the
// viewer and subscribes to it.
func (c *Core) OpenView(ctx context.Context, viewer identity.Actor, counterpartID string) (*ConversationView, error) {
	counterpartID = identity.NormalizeParticipantID(counterpartID)
	convID, err := ResolveConversationID(viewer.ID, counterpartID)
	if err != nil {
		return nil, err
	}
	cp, err := c.counterpart(ctx, viewer.ID, counterpartID)
	if err != nil {
		return nil, err
	}

	// Mark first so the initial snapshot already carries the read flags.
	if _, err := c.Reads.MarkAllRead(ctx, convID, viewer.ID); err != nil {
		return nil, err
	}
	sub, err := c.Live.Subscribe(ctx, convID)
	if err != nil {
		return nil, err
	}

	return &ConversationView{
		Viewer:         viewer,
		Counterpart:    cp,
		ConversationID: convID,
		core:           c,
		sub:            sub,
		outbox:         NewOutbox(c.opts.MatchWindow),
	}, nil
}

// counterpart looks up id in the viewer's roster.
func (c *Core) counterpart(ctx context.Context, viewerID, id string) (identity.Participant, error) {
	set, err := c.Roster.Counterparts(ctx, viewerID)
	if err != nil {
		return identity.Participant{}, opErr("open", ErrPersistence, "roster lookup", err)
	}
	for _, p := range set {
		if p.ID == id {
			return p, nil
		}
	}
	return identity.Participant{}, opErr("open", ErrForbidden, fmt.Sprintf("%q is not in the roster", id), nil)
}

// Snapshots is the live stream for this conversation.
func (v *ConversationView) Snapshots() <-chan []Message { return v.sub.Snapshots() }

// Done is closed when the underlying subscription ends.
func (v *ConversationView) Done() <-chan struct{} { return v.sub.Done() }

// Err reports a subscription failure, or nil.
func (v *ConversationView) Err() error { return v.sub.Err() }

// SetDraft replaces the draft input.
func (v *ConversationView) SetDraft(text string) {
	v.mu.Lock()
	v.draft = text
	v.mu.Unlock()
}

// Draft returns the draft input.
func (v *ConversationView) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Submit sends the draft. The draft is cleared up front and restored if the
// send fails and nothing new was typed meanwhile.
func (v *ConversationView) Submit(ctx context.Context, onPending PendingFunc) (Message, error) {
	v.mu.Lock()
	text := v.draft
	v.draft = ""
	v.mu.Unlock()

	msg, err := v.core.Pipeline.Send(ctx, v.Viewer, v.Counterpart.ID, text, v.outbox, onPending)
	if err != nil {
		v.mu.Lock()
		if v.draft == "" {
			v.draft = text
		}
		v.mu.Unlock()
		return Message{}, err
	}
	return msg, nil
}

// Apply records a snapshot from the stream, acknowledges counterpart messages
// that arrived while the view is open, and returns the merged rows.
func (v *ConversationView) Apply(ctx context.Context, snapshot []Message) ([]Entry, error) {
	v.mu.Lock()
	v.last = snapshot
	v.mu.Unlock()

	for _, m := range snapshot {
		if m.SenderID != v.Viewer.ID && !m.Read {
			if _, err := v.core.Reads.MarkAllRead(ctx, v.ConversationID, v.Viewer.ID); err != nil {
				return v.Render(), err
			}
			break
		}
	}
	return v.Render(), nil
}

// Render merges the last snapshot with outstanding optimistic entries.
func (v *ConversationView) Render() []Entry {
	v.mu.Lock()
	snap := v.last
	v.mu.Unlock()
	return v.outbox.Merge(snap)
}

// Outstanding returns optimistic entries not yet superseded.
func (v *ConversationView) Outstanding() []OptimisticMessage { return v.outbox.Outstanding() }

// Close releases the subscription. Safe to call more than once.
func (v *ConversationView) Close() { v.sub.Unsubscribe() }
