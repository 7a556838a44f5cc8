package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/internal/messaging"

	"github.com/go-chi/chi/v5"
)

// Config bounds request handling.
type Config struct {
	MaxBodyBytes int64
	RateLimit    int
	RateWindow   time.Duration
	// HistoryLimit caps ?limit= on message listing.
	HistoryLimit int
}

// DefaultConfig returns the limits used when Config fields are zero.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 128 << 10,
		RateLimit:    300,
		RateWindow:   time.Minute,
		HistoryLimit: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// Handler serves the JSON API over the messaging core.
type Handler struct {
	log  *slog.Logger
	core *messaging.Core
	auth Authenticator
	cfg  Config
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, core *messaging.Core, auth Authenticator, cfg Config) (*Handler, error) {
	if core == nil {
		return nil, errors.New("api: nil core")
	}
	if auth == nil {
		return nil, errors.New("api: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, core: core, auth: auth, cfg: cfg.withDefaults()}, nil
}

// Routes returns the router to mount under /api/v1.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Authenticate(h.auth))
	r.Use(RateLimit(h.cfg.RateLimit, h.cfg.RateWindow))

	r.Get("/inbox", h.handleInbox)
	r.Route("/conversations/{counterpartID}", func(r chi.Router) {
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSend)
		r.Post("/read", h.handleMarkRead)
	})
	r.Post("/broadcasts", h.handleBroadcast)
	r.Get("/search", h.handleSearch)
	return r
}

// ---- request/response models ----

type sendRequest struct {
	Text string `json:"text"`
}

type broadcastRequest struct {
	RecipientIDs []string `json:"recipient_ids"`
	Text         string   `json:"text"`
}

type inboxResponse struct {
	Summaries []messaging.Summary `json:"summaries"`
}

type messagesResponse struct {
	ConversationID string               `json:"conversation_id"`
	Counterpart    identity.Participant `json:"counterpart"`
	Messages       []messaging.Message  `json:"messages"`
}

type markReadResponse struct {
	ConversationID string `json:"conversation_id"`
	Marked         int    `json:"marked"`
}

type searchResponse struct {
	Query          string   `json:"query"`
	CounterpartIDs []string `json:"counterpart_ids"`
}

// ---- handlers ----

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	counterparts, err := h.counterparts(r, actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	list, err := h.core.Directory.Summaries(r.Context(), actor.ID, counterparts)
	if err != nil {
		h.log.Warn("api.inbox.fail", "participant_id", actor.ID, "err", err)
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inboxResponse{Summaries: list})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	cp, convID, err := h.conversation(r, actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	limit := h.cfg.HistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, h.cfg.HistoryLimit)
	}

	var cur messaging.Cursor
	switch order := r.URL.Query().Get("order"); order {
	case "", "asc":
		cur, err = h.core.Store.ListByConversation(r.Context(), convID)
	case "desc":
		cur, err = h.core.Store.ListRecentByConversation(r.Context(), convID)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown order %q", order))
		return
	}
	if err != nil {
		writeCoreError(w, err)
		return
	}
	defer cur.Close()

	msgs := make([]messaging.Message, 0, min(limit, 64))
	for len(msgs) < limit && cur.Next() {
		msgs = append(msgs, cur.Message())
	}
	if err := cur.Err(); err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		ConversationID: convID,
		Counterpart:    cp,
		Messages:       msgs,
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req sendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	msg, err := h.core.Pipeline.Send(r.Context(), actor, chi.URLParam(r, "counterpartID"), req.Text, nil, nil)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	_, convID, err := h.conversation(r, actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	n, err := h.core.Reads.MarkAllRead(r.Context(), convID, actor.ID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{ConversationID: convID, Marked: n})
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req broadcastRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	report, err := h.core.Pipeline.SendToMany(r.Context(), actor, req.RecipientIDs, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, report)
	case messaging.IsPartialDelivery(err):
		writeJSON(w, http.StatusMultiStatus, report)
	default:
		writeCoreError(w, err)
	}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	query := messaging.NormalizeQuery(r.URL.Query().Get("q"))

	counterparts, err := h.counterparts(r, actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	ids, err := h.core.Search.Search(r.Context(), actor.ID, counterparts, query)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "search interrupted")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: query, CounterpartIDs: ids})
}

// ---- helpers ----

func (h *Handler) counterparts(r *http.Request, actor identity.Actor) ([]identity.Participant, error) {
	set, err := h.core.Roster.Counterparts(r.Context(), actor.ID)
	if err != nil {
		h.log.Warn("api.roster.fail", "participant_id", actor.ID, "err", err)
		return nil, fmt.Errorf("%w: roster lookup: %v", messaging.ErrPersistence, err)
	}
	return set, nil
}

// conversation resolves the path counterpart against the actor's roster.
func (h *Handler) conversation(r *http.Request, actor identity.Actor) (identity.Participant, string, error) {
	id := identity.NormalizeParticipantID(chi.URLParam(r, "counterpartID"))
	convID, err := messaging.ResolveConversationID(actor.ID, id)
	if err != nil {
		return identity.Participant{}, "", err
	}
	set, err := h.counterparts(r, actor)
	if err != nil {
		return identity.Participant{}, "", err
	}
	for _, p := range set {
		if p.ID == id {
			return p, convID, nil
		}
	}
	return identity.Participant{}, "", fmt.Errorf("%w: %q is not in the roster", messaging.ErrForbidden, id)
}
