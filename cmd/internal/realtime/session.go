package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/internal/messaging"
	v1 "coachhub/shared/contracts/messaging/v1"

	"github.com/coder/websocket"
)

var errUnauthenticated = errors.New("hello required")

// wsError is a protocol-level failure with a fixed wire code.
type wsError struct {
	code string
	msg  string
}

func (e *wsError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &wsError{code: v1.CodeBadRequest, msg: fmt.Sprintf(format, args...)}
}

// errorCode maps an error to the wire code and the message shown to the peer.
func errorCode(err error) (string, string) {
	var we *wsError
	switch {
	case errors.As(err, &we):
		return we.code, we.msg
	case messaging.IsValidation(err), messaging.IsInvalidParticipants(err):
		return v1.CodeBadRequest, err.Error()
	case messaging.IsForbidden(err):
		return v1.CodeForbidden, err.Error()
	case messaging.IsPersistence(err), messaging.IsSubscription(err):
		return v1.CodeUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return v1.CodeUnavailable, "operation timed out"
	default:
		return v1.CodeInternal, "internal error"
	}
}

// session is the per-connection state. Handlers run on the read loop;
// forwarders run on their own goroutines and only enqueue.
type session struct {
	ctx    context.Context
	g      *WSGateway
	client *Client
	kill   func(websocket.StatusCode, string)

	preauth *identity.Actor
	actor   identity.Actor
	authed  bool

	mu     sync.Mutex
	view   *messaging.ConversationView
	inbox  *messaging.DirectoryWatch
	search *messaging.SearchSession
	closed bool
	wg     sync.WaitGroup
}

func newSession(ctx context.Context, g *WSGateway, client *Client, preauth *identity.Actor) *session {
	return &session{ctx: ctx, g: g, client: client, preauth: preauth}
}

func (s *session) participantID() string {
	if !s.authed {
		return ""
	}
	return s.actor.ID
}

func (s *session) dispatch(env v1.Envelope) error {
	if env.Type == v1.TypeHello {
		return s.onHello(env)
	}
	if !s.authed {
		return errUnauthenticated
	}

	switch env.Type {
	case v1.TypeConversationOpen:
		return s.onOpen(env)
	case v1.TypeConversationClose:
		s.closeView()
		return nil
	case v1.TypeMessageSend:
		return s.onMessageSend(env)
	case v1.TypeBroadcastSend:
		return s.onBroadcast(env)
	case v1.TypeMarkRead:
		return s.onMarkRead()
	case v1.TypeInboxSubscribe:
		return s.onInboxSubscribe()
	case v1.TypeSearchUpdate:
		return s.onSearchUpdate(env)
	default:
		return badRequest("unsupported type: %s", env.Type)
	}
}

// ---- handlers ----

func (s *session) onHello(env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("%w: invalid payload", errUnauthenticated)
		}
	}

	var actor identity.Actor
	switch raw := strings.TrimSpace(p.Token); {
	case raw != "":
		a, err := s.g.auth.Verify(raw)
		if err != nil {
			s.g.log.Info("ws.hello.reject", "session_id", s.client.SessionID, "err", err)
			return fmt.Errorf("%w: invalid token", errUnauthenticated)
		}
		actor = a
	case s.preauth != nil:
		actor = *s.preauth
	default:
		return fmt.Errorf("%w: missing token", errUnauthenticated)
	}

	if s.authed && actor.ID != s.actor.ID {
		return fmt.Errorf("%w: session already bound to another participant", errUnauthenticated)
	}
	s.actor = actor
	s.authed = true

	s.g.log.Info("ws.hello", "session_id", s.client.SessionID, "participant_id", actor.ID, "role", actor.Role)
	if !s.send(v1.TypeHelloAck, "", v1.HelloAckPayload{
		SessionID:   s.client.SessionID,
		Participant: wireActor(actor),
	}) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

func (s *session) onOpen(env v1.Envelope) error {
	var p v1.ConversationOpenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	if strings.TrimSpace(p.CounterpartID) == "" {
		return badRequest("missing counterpart_id")
	}

	// Subscriptions live for the connection, so they take the session ctx.
	view, err := s.g.core.OpenView(s.ctx, s.actor, p.CounterpartID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		view.Close()
		return nil
	}
	prev := s.view
	s.view = view
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	go s.forwardView(view)
	return nil
}

func (s *session) onMessageSend(env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	view := s.currentView()
	if view == nil {
		return badRequest("open a conversation first")
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.OpTimeout)
	defer cancel()

	var tempID string
	view.SetDraft(p.Text)
	msg, err := view.Submit(ctx, func(om messaging.OptimisticMessage) {
		tempID = om.TempID
		s.send(v1.TypeMessagePending, om.ConversationID, v1.MessagePendingPayload{
			TempID:  om.TempID,
			Message: wireOptimistic(om),
		})
	})
	if err != nil {
		code, text := errorCode(err)
		s.send(v1.TypeMessageRolledBack, view.ConversationID, v1.MessageRolledBackPayload{
			TempID: tempID,
			Draft:  view.Draft(),
			Error:  v1.ErrorPayload{Code: code, Message: text},
		})
		return nil
	}

	if !s.send(v1.TypeMessageAck, msg.ConversationID, v1.MessageAckPayload{
		TempID:  tempID,
		Message: wireMessage(msg),
	}) {
		return errors.New("backpressure: message_ack")
	}
	return nil
}

func (s *session) onBroadcast(env v1.Envelope) error {
	var p v1.BroadcastSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return badRequest("invalid payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.OpTimeout)
	defer cancel()

	report, err := s.g.core.Pipeline.SendToMany(ctx, s.actor, p.RecipientIDs, p.Text)
	if err != nil && !messaging.IsPartialDelivery(err) {
		return err
	}
	if !s.send(v1.TypeBroadcastReport, "", wireReport(report)) {
		return errors.New("backpressure: broadcast_report")
	}
	return nil
}

func (s *session) onMarkRead() error {
	view := s.currentView()
	if view == nil {
		return badRequest("open a conversation first")
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.OpTimeout)
	defer cancel()
	_, err := s.g.core.Reads.MarkAllRead(ctx, view.ConversationID, s.actor.ID)
	return err
}

func (s *session) onInboxSubscribe() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.OpTimeout)
	counterparts, err := s.g.core.Roster.Counterparts(ctx, s.actor.ID)
	cancel()
	if err != nil {
		return &wsError{code: v1.CodeUnavailable, msg: "roster lookup failed"}
	}

	watch, err := s.g.core.Directory.Watch(s.ctx, s.actor.ID, counterparts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		watch.Stop()
		return nil
	}
	prev := s.inbox
	s.inbox = watch
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	go s.forwardInbox(watch)
	return nil
}

func (s *session) onSearchUpdate(env v1.Envelope) error {
	var p v1.SearchUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return badRequest("invalid payload: %v", err)
	}

	s.mu.Lock()
	search := s.search
	s.mu.Unlock()

	if search == nil {
		ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.OpTimeout)
		counterparts, err := s.g.core.Roster.Counterparts(ctx, s.actor.ID)
		cancel()
		if err != nil {
			return &wsError{code: v1.CodeUnavailable, msg: "roster lookup failed"}
		}
		search = s.g.core.Search.NewSession(s.ctx, s.actor.ID, counterparts, s.g.core.Options().SearchDebounce)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			search.Close()
			return nil
		}
		s.search = search
		s.wg.Add(1)
		s.mu.Unlock()
		go s.forwardSearch(search)
	}

	search.Update(p.Query)
	return nil
}

// ---- forwarders ----

func (s *session) forwardView(view *messaging.ConversationView) {
	defer s.wg.Done()

	for snap := range view.Snapshots() {
		entries, err := view.Apply(s.ctx, snap)
		if err != nil && s.ctx.Err() == nil {
			s.g.log.Warn("ws.view.mark_read.fail", "session_id", s.client.SessionID, "conversation_id", view.ConversationID, "err", err)
		}
		if !s.send(v1.TypeConversationSnapshot, view.ConversationID, v1.ConversationSnapshotPayload{
			ConversationID: view.ConversationID,
			Counterpart:    wireParticipant(view.Counterpart),
			Messages:       wireEntries(entries),
		}) {
			s.backpressure("conversation_snapshot")
			return
		}
	}

	if err := view.Err(); err != nil {
		s.send(v1.TypeSubscriptionLost, view.ConversationID, v1.SubscriptionLostPayload{
			Stream:         "conversation",
			ConversationID: view.ConversationID,
			Message:        err.Error(),
		})
	}
}

func (s *session) forwardInbox(watch *messaging.DirectoryWatch) {
	defer s.wg.Done()

	for list := range watch.Updates() {
		if !s.send(v1.TypeInbox, "", v1.InboxPayload{Summaries: wireSummaries(list)}) {
			s.backpressure("inbox")
			return
		}
	}

	if err := watch.Err(); err != nil {
		s.send(v1.TypeSubscriptionLost, "", v1.SubscriptionLostPayload{
			Stream:  "inbox",
			Message: err.Error(),
		})
	}
}

func (s *session) forwardSearch(search *messaging.SearchSession) {
	defer s.wg.Done()

	for res := range search.Results() {
		ids := res.Matches
		if ids == nil {
			ids = []string{}
		}
		if !s.send(v1.TypeSearchResult, "", v1.SearchResultPayload{Query: res.Query, CounterpartIDs: ids}) {
			s.backpressure("search_result")
			return
		}
	}
}

// backpressure closes a connection whose send queue is full. Streams carry
// full state, so a dropped frame cannot be patched by a later one safely.
func (s *session) backpressure(what string) {
	if s.ctx.Err() != nil {
		return
	}
	s.g.log.Warn("ws.backpressure", "session_id", s.client.SessionID, "frame", what)
	if s.kill != nil {
		s.kill(websocket.StatusPolicyViolation, "backpressure")
	}
}

// ---- lifecycle ----

func (s *session) currentView() *messaging.ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *session) closeView() {
	s.mu.Lock()
	view := s.view
	s.view = nil
	s.mu.Unlock()
	if view != nil {
		view.Close()
	}
}

// stop releases every stream. It does not wait for forwarders, so it is safe
// to call from one of them.
func (s *session) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	view, inbox, search := s.view, s.inbox, s.search
	s.view, s.inbox, s.search = nil, nil, nil
	s.mu.Unlock()

	if view != nil {
		view.Close()
	}
	if inbox != nil {
		inbox.Stop()
	}
	if search != nil {
		search.Close()
	}
}

func (s *session) wait() { s.wg.Wait() }

// ---- send helpers ----

func (s *session) send(typ, convID string, payload any) bool {
	env, err := newEnvelope(typ, convID, payload, time.Now().UTC())
	if err != nil {
		s.g.log.Error("ws.envelope.fail", "session_id", s.client.SessionID, "type", typ, "err", err)
		return false
	}
	return enqueue(s.ctx, s.client, env)
}

func (s *session) sendError(convID, code, msg string) {
	_ = s.send(v1.TypeError, convID, v1.ErrorPayload{Code: code, Message: msg})
}
