// Package v1 defines the CoachHub messaging WebSocket protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol name negotiated on upgrade.
const Subprotocol = "coachhub.messaging.v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the session (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationOpen opens the view of one counterpart (client -> server).
	TypeConversationOpen = "conversation_open"
	// TypeConversationClose closes the open view (client -> server).
	TypeConversationClose = "conversation_close"
	// TypeConversationSnapshot carries the full message list (server -> client).
	TypeConversationSnapshot = "conversation_snapshot"

	// TypeMessageSend sends the draft text to the open counterpart (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessagePending echoes the optimistic entry before persistence (server -> client).
	TypeMessagePending = "message_pending"
	// TypeMessageAck confirms persistence (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageRolledBack retracts an optimistic entry and returns the draft (server -> client).
	TypeMessageRolledBack = "message_rolled_back"

	// TypeBroadcastSend sends one text to many clients (client -> server, trainers only).
	TypeBroadcastSend = "broadcast_send"
	// TypeBroadcastReport is the aggregate result of a broadcast (server -> client).
	TypeBroadcastReport = "broadcast_report"

	// TypeMarkRead acknowledges the open conversation (client -> server).
	TypeMarkRead = "mark_read"

	// TypeInboxSubscribe starts the summary stream (client -> server).
	TypeInboxSubscribe = "inbox_subscribe"
	// TypeInbox carries the full summary list (server -> client).
	TypeInbox = "inbox"

	// TypeSearchUpdate reports the current query text (client -> server).
	TypeSearchUpdate = "search_update"
	// TypeSearchResult carries a debounced result (server -> client).
	TypeSearchResult = "search_result"

	// TypeSubscriptionLost reports a failed live listener (server -> client).
	TypeSubscriptionLost = "subscription_lost"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitzero"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationOpen,
		TypeConversationClose,
		TypeConversationSnapshot,
		TypeMessageSend,
		TypeMessagePending,
		TypeMessageAck,
		TypeMessageRolledBack,
		TypeBroadcastSend,
		TypeBroadcastReport,
		TypeMarkRead,
		TypeInboxSubscribe,
		TypeInbox,
		TypeSearchUpdate,
		TypeSearchResult,
		TypeSubscriptionLost,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// Participant identifies a person on the wire.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// Message is a persisted or pending message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq,omitempty"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
	BroadcastID    string    `json:"broadcast_id,omitempty"`
	Pending        bool      `json:"pending,omitempty"`
}

// HelloPayload carries the bearer token.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload returns the session id and the authenticated participant.
type HelloAckPayload struct {
	SessionID   string      `json:"session_id"`
	Participant Participant `json:"participant"`
}

// ConversationOpenPayload names the counterpart to open.
type ConversationOpenPayload struct {
	CounterpartID string `json:"counterpart_id"`
}

// ConversationSnapshotPayload is the merged view: persisted messages followed
// by outstanding optimistic ones.
type ConversationSnapshotPayload struct {
	ConversationID string      `json:"conversation_id"`
	Counterpart    Participant `json:"counterpart"`
	Messages       []Message   `json:"messages"`
}

// MessageSendPayload is the draft text to send.
type MessageSendPayload struct {
	Text string `json:"text"`
}

// MessagePendingPayload is the optimistic entry.
type MessagePendingPayload struct {
	TempID  string  `json:"temp_id"`
	Message Message `json:"message"`
}

// MessageAckPayload pairs the optimistic id with the persisted message.
type MessageAckPayload struct {
	TempID  string  `json:"temp_id"`
	Message Message `json:"message"`
}

// MessageRolledBackPayload retracts TempID and hands back the draft.
type MessageRolledBackPayload struct {
	TempID string       `json:"temp_id,omitempty"`
	Draft  string       `json:"draft"`
	Error  ErrorPayload `json:"error"`
}

// BroadcastSendPayload requests a broadcast.
type BroadcastSendPayload struct {
	RecipientIDs []string `json:"recipient_ids"`
	Text         string   `json:"text"`
}

// BroadcastReportPayload is the aggregate outcome.
type BroadcastReportPayload struct {
	BroadcastID string            `json:"broadcast_id"`
	Succeeded   []string          `json:"succeeded"`
	Failed      []string          `json:"failed"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// Summary is one inbox row.
type Summary struct {
	Counterpart    Participant `json:"counterpart"`
	ConversationID string      `json:"conversation_id"`
	HasMessages    bool        `json:"has_messages"`
	LastBody       string      `json:"last_body"`
	LastAt         time.Time   `json:"last_at,omitzero"`
	Unread         int         `json:"unread"`
}

// InboxPayload is the full ordered summary list.
type InboxPayload struct {
	Summaries []Summary `json:"summaries"`
}

// SearchUpdatePayload is the current query text.
type SearchUpdatePayload struct {
	Query string `json:"query"`
}

// SearchResultPayload lists counterparts whose history matched Query.
type SearchResultPayload struct {
	Query          string   `json:"query"`
	CounterpartIDs []string `json:"counterpart_ids"`
}

// SubscriptionLostPayload identifies which stream failed.
type SubscriptionLostPayload struct {
	Stream         string `json:"stream"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
