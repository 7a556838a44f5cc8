// Package main provides a CI-friendly WebSocket smoke test for the coachhub gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/hello_ack with a signed participant token
//   - conversation_open snapshot for trainer and client
//   - message_send -> message_pending -> message_ack
//   - live snapshot on the counterpart
//   - mark_read reflected in the inbox stream
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/security/token"
	v1 "coachhub/shared/contracts/messaging/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		trainerID = flag.String("trainer", "t-1", "Trainer participant id (must be in the roster)")
		clientID  = flag.String("client", "c-1", "Client participant id assigned to the trainer")
		text      = flag.String("text", "hello from the smoke test", "Message text to send")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	key, err := token.KeyFromEnv(token.MinKeyBytes)
	if err != nil {
		fatalf("%s: %v", token.KeyEnv, err)
	}
	verifier, err := token.NewVerifier(key)
	if err != nil {
		fatalf("verifier: %v", err)
	}
	trainerTok := mustIssue(verifier, *trainerID, identity.RoleTrainer)
	clientTok := mustIssue(verifier, *clientID, identity.RoleClient)

	root := context.Background()

	a := mustConnect(root, "trainer", *wsURL, *origin, trainerTok, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "client", *wsURL, *origin, clientTok, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: trainer=%s client=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustWrite(root, b, v1.TypeInboxSubscribe, struct{}{}, *timeout)
	b.mustReadUntilType(root, v1.TypeInbox, *timeout, nil)

	convID := mustOpen(root, a, *clientID, *timeout)
	if got := mustOpen(root, b, *trainerID, *timeout); got != convID {
		fatalf("conversation id mismatch: trainer=%q client=%q", convID, got)
	}

	msg := mustSendAndAssertAck(root, a, *text, *timeout)
	mustAssertSnapshotContains(root, b, msg, *timeout)

	mustWrite(root, b, v1.TypeMarkRead, struct{}{}, *timeout)
	mustAssertInboxRead(root, b, convID, *timeout)

	fmt.Printf("OK: trainer=%s client=%s conv_id=%s seq=%d msg_id=%s\n", a.sessionID, b.sessionID, convID, msg.Seq, msg.ID)
}

func mustIssue(v *token.Verifier, id string, role identity.Role) string {
	raw, err := v.Issue(identity.Actor{
		Participant: identity.Participant{ID: id, DisplayName: id},
		Role:        role,
	}, 10*time.Minute)
	if err != nil {
		fatalf("issue token for %s: %v", id, err)
	}
	return raw
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, bearer string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, c, v1.TypeHello, v1.HelloPayload{Token: bearer}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustOpen(parent context.Context, c *smokeClient, counterpartID string, stepTimeout time.Duration) string {
	mustWrite(parent, c, v1.TypeConversationOpen, v1.ConversationOpenPayload{CounterpartID: counterpartID}, stepTimeout)

	skip := map[string]struct{}{v1.TypeInbox: {}}
	env := c.mustReadUntilType(parent, v1.TypeConversationSnapshot, stepTimeout, skip)

	var p v1.ConversationSnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal snapshot payload (%s): %v", c.name, err)
	}
	if p.Counterpart.ID != counterpartID {
		fatalf("snapshot counterpart mismatch (%s): got=%q want=%q", c.name, p.Counterpart.ID, counterpartID)
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		fatalf("snapshot missing conversation_id (%s)", c.name)
	}
	return p.ConversationID
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, text string, stepTimeout time.Duration) v1.Message {
	mustWrite(parent, c, v1.TypeMessageSend, v1.MessageSendPayload{Text: text}, stepTimeout)

	skip := map[string]struct{}{v1.TypeConversationSnapshot: {}}
	pending := c.mustReadUntilType(parent, v1.TypeMessagePending, stepTimeout, skip)

	var pp v1.MessagePendingPayload
	if err := json.Unmarshal(pending.Payload, &pp); err != nil {
		fatalf("unmarshal message_pending payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(pp.TempID) == "" || !pp.Message.Pending {
		fatalf("message_pending malformed (%s): %+v", c.name, pp)
	}

	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.TempID != pp.TempID {
		fatalf("ack temp_id mismatch (%s): got=%q want=%q", c.name, p.TempID, pp.TempID)
	}
	if strings.TrimSpace(p.Message.ID) == "" {
		fatalf("ack missing message id (%s)", c.name)
	}
	if p.Message.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, p.Message.Seq)
	}
	if p.Message.Body != text {
		fatalf("ack body mismatch (%s): got=%q want=%q", c.name, p.Message.Body, text)
	}
	return p.Message
}

func mustAssertSnapshotContains(parent context.Context, c *smokeClient, want v1.Message, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	skip := map[string]struct{}{v1.TypeInbox: {}}
	for {
		env := c.mustReadUntilType(ctx, v1.TypeConversationSnapshot, stepTimeout, skip)

		var p v1.ConversationSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal snapshot payload (%s): %v", c.name, err)
		}
		for _, m := range p.Messages {
			if m.ID == want.ID && m.Seq == want.Seq && m.Body == want.Body && !m.CreatedAt.IsZero() {
				return
			}
		}
	}
}

func mustAssertInboxRead(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	skip := map[string]struct{}{v1.TypeConversationSnapshot: {}}
	for {
		env := c.mustReadUntilType(ctx, v1.TypeInbox, stepTimeout, skip)

		var p v1.InboxPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal inbox payload (%s): %v", c.name, err)
		}
		for _, s := range p.Summaries {
			if s.ConversationID == convID && s.HasMessages && s.Unread == 0 {
				return
			}
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
