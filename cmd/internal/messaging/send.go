package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coachhub/cmd/identity"

	"golang.org/x/sync/errgroup"
)

// broadcastParallelism bounds concurrent per-recipient appends.
const broadcastParallelism = 32

// Pipeline accepts direct and broadcast sends.
type Pipeline struct {
	store  *Store
	roster identity.Roster
	log    *slog.Logger
	now    func() time.Time
}

// NewPipeline constructs a Pipeline. Recipients are authorized against roster.
func NewPipeline(store *Store, roster identity.Roster) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("messaging: nil store")
	}
	if roster == nil {
		return nil, errors.New("messaging: nil roster")
	}
	return &Pipeline{
		store:  store,
		roster: roster,
		log:    store.log,
		now:    store.now,
	}, nil
}

// PendingFunc observes an optimistic entry before its append is issued.
type PendingFunc func(OptimisticMessage)

// Send appends one message from -> toID.
//
// With a non-nil outbox a Pending entry is staged and handed to onPending
// before the append. On success the entry is marked Committed and left for
// the next snapshot to supersede; on failure it is removed and the error is
// returned. Nothing is retried.
func (p *Pipeline) Send(ctx context.Context, from identity.Actor, toID, body string, ob *Outbox, onPending PendingFunc) (Message, error) {
	msg, err := p.send(ctx, from, toID, body, ob, onPending)
	p.store.metrics.send("direct", err)
	return msg, err
}

func (p *Pipeline) send(ctx context.Context, from identity.Actor, toID, body string, ob *Outbox, onPending PendingFunc) (Message, error) {
	body, err := NormalizeBody(body)
	if err != nil {
		return Message{}, err
	}
	toID = identity.NormalizeParticipantID(toID)
	convID, err := ResolveConversationID(from.ID, toID)
	if err != nil {
		return Message{}, err
	}
	if err := p.authorize(ctx, from, []string{toID}); err != nil {
		return Message{}, err
	}

	var staged OptimisticMessage
	if ob != nil {
		staged = ob.Stage(convID, from.Participant, body)
		if onPending != nil {
			onPending(staged)
		}
	}

	msg, err := p.store.Append(ctx, AppendInput{
		ConversationID: convID,
		SenderID:       from.ID,
		SenderName:     from.DisplayName,
		Body:           body,
	})
	if err != nil {
		if ob != nil {
			ob.Rollback(staged.TempID)
			p.store.metrics.rollback()
			p.log.Warn("send.rollback",
				"conversation_id", convID,
				"sender_id", from.ID,
				"temp_id", staged.TempID,
				"err", err,
			)
		}
		return Message{}, err
	}
	if ob != nil {
		ob.Commit(staged.TempID, msg)
	}
	return msg, nil
}

// BroadcastReport is the aggregate outcome of SendToMany. Recipient order
// follows the request.
type BroadcastReport struct {
	BroadcastID string            `json:"broadcast_id"`
	Succeeded   []string          `json:"succeeded"`
	Failed      []string          `json:"failed"`
	Errors      map[string]string `json:"errors,omitempty"`
	Messages    []Message         `json:"-"`
}

// OK reports whether every recipient received the message.
func (r BroadcastReport) OK() bool { return len(r.Failed) == 0 }

// SendToMany appends the same body to every recipient's conversation,
// concurrently. Only trainers may broadcast. Appends that succeeded are kept
// when others fail; the report names both sets and the error has kind
// ErrPartialDelivery.
func (p *Pipeline) SendToMany(ctx context.Context, from identity.Actor, toIDs []string, body string) (BroadcastReport, error) {
	rep, err := p.sendToMany(ctx, from, toIDs, body)
	p.store.metrics.send("broadcast", err)
	return rep, err
}

func (p *Pipeline) sendToMany(ctx context.Context, from identity.Actor, toIDs []string, body string) (BroadcastReport, error) {
	body, err := NormalizeBody(body)
	if err != nil {
		return BroadcastReport{}, err
	}
	if !from.IsTrainer() {
		return BroadcastReport{}, opErr("send_to_many", ErrForbidden, "only trainers may broadcast", nil)
	}

	recipients := dedupeIDs(toIDs)
	switch {
	case len(recipients) == 0:
		return BroadcastReport{}, opErr("send_to_many", ErrValidation, "no recipients", nil)
	case len(recipients) > MaxBroadcastRecipients:
		return BroadcastReport{}, opErr("send_to_many", ErrValidation,
			fmt.Sprintf("too many recipients: max=%d", MaxBroadcastRecipients), nil)
	}

	convIDs := make([]string, len(recipients))
	for i, id := range recipients {
		convID, err := ResolveConversationID(from.ID, id)
		if err != nil {
			return BroadcastReport{}, err
		}
		convIDs[i] = convID
	}
	if err := p.authorize(ctx, from, recipients); err != nil {
		return BroadcastReport{}, err
	}

	broadcastID, err := NewBroadcastID(p.now())
	if err != nil {
		return BroadcastReport{}, opErr("send_to_many", ErrPersistence, "broadcast id", err)
	}

	msgs := make([]Message, len(recipients))
	errs := make([]error, len(recipients))

	// Failures are collected per recipient; no recipient cancels another.
	var g errgroup.Group
	g.SetLimit(broadcastParallelism)
	for i := range recipients {
		g.Go(func() error {
			msgs[i], errs[i] = p.store.Append(ctx, AppendInput{
				ConversationID: convIDs[i],
				SenderID:       from.ID,
				SenderName:     from.DisplayName,
				Body:           body,
				BroadcastID:    broadcastID,
			})
			return nil
		})
	}
	_ = g.Wait()

	rep := BroadcastReport{
		BroadcastID: broadcastID,
		Succeeded:   make([]string, 0, len(recipients)),
		Failed:      []string{},
	}
	var failed []error
	for i, id := range recipients {
		if errs[i] != nil {
			rep.Failed = append(rep.Failed, id)
			if rep.Errors == nil {
				rep.Errors = make(map[string]string)
			}
			rep.Errors[id] = errs[i].Error()
			failed = append(failed, errs[i])
			continue
		}
		rep.Succeeded = append(rep.Succeeded, id)
		rep.Messages = append(rep.Messages, msgs[i])
	}
	p.store.metrics.broadcastRecipients(len(rep.Succeeded), len(rep.Failed))

	if len(failed) > 0 {
		p.log.Warn("broadcast.partial",
			"broadcast_id", broadcastID,
			"sender_id", from.ID,
			"succeeded", len(rep.Succeeded),
			"failed", len(rep.Failed),
		)
		return rep, opErr("send_to_many", ErrPartialDelivery,
			fmt.Sprintf("%d of %d recipients failed", len(rep.Failed), len(recipients)),
			errors.Join(failed...))
	}

	p.log.Info("broadcast.sent",
		"broadcast_id", broadcastID,
		"sender_id", from.ID,
		"recipients", len(recipients),
	)
	return rep, nil
}

// authorize checks every id is in the sender's roster.
func (p *Pipeline) authorize(ctx context.Context, from identity.Actor, ids []string) error {
	counterparts, err := p.roster.Counterparts(ctx, from.ID)
	if err != nil {
		return opErr("authorize", ErrPersistence, "roster lookup", err)
	}
	for _, id := range ids {
		if !identity.Contains(counterparts, id) {
			return opErr("authorize", ErrForbidden, fmt.Sprintf("%q is not in the roster", id), nil)
		}
	}
	return nil
}

func dedupeIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = identity.NormalizeParticipantID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
