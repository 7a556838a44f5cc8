package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend is a Backend backed by PostgreSQL.
//
// Ownership model:
// - PostgresBackend does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Per-conversation transactional advisory locks serialize appends, so seq
//     is gap-free and created_at is clamped against the previous message.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresBackend behavior.
type PostgresOption func(*PostgresBackend) error

// WithSchema sets the DB schema used by this backend (default: "coachhub").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresBackend) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("messaging: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("messaging: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresBackend constructs a Postgres-backed Backend.
func NewPostgresBackend(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresBackend, error) {
	st := &PostgresBackend{
		pool:   pool,
		schema: "coachhub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messaging: nil pool")
	}
	return st, nil
}

func (s *PostgresBackend) Name() string { return "postgres" }

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresBackend) Close() error { return nil }

// EnsureSchema creates the schema and tables when missing.
func (s *PostgresBackend) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	conversations := pgIdent(s.schema, "conversations")
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + conversations + ` (
		   id            text PRIMARY KEY,
		   participant_a text NOT NULL,
		   participant_b text NOT NULL,
		   created_at    timestamptz NOT NULL DEFAULT now(),
		   CHECK (participant_a < participant_b)
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + cursors + ` (
		   conversation_id text PRIMARY KEY REFERENCES ` + conversations + ` (id),
		   next_seq        bigint NOT NULL DEFAULT 1,
		   last_ts         timestamptz,
		   updated_at      timestamptz NOT NULL DEFAULT now()
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
		   conversation_id text NOT NULL REFERENCES ` + conversations + ` (id),
		   seq             bigint NOT NULL,
		   id              text NOT NULL UNIQUE,
		   sender_id       text NOT NULL,
		   sender_name     text NOT NULL DEFAULT '',
		   body            text NOT NULL,
		   created_at      timestamptz NOT NULL,
		   read            boolean NOT NULL DEFAULT false,
		   broadcast_id    text,
		   PRIMARY KEY (conversation_id, seq)
		 )`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx ON ` + messages + ` (conversation_id, sender_id) WHERE NOT read`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append appends a message with monotonic sequence allocation.
func (s *PostgresBackend) Append(ctx context.Context, in AppendInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("messaging: nil backend")
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, errors.New("invalid input")
	}
	a, b, err := SplitConversationID(in.ConversationID)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// timestamptz stores microseconds.
	now = now.Truncate(time.Microsecond)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, participant_a, participant_b) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		in.ConversationID, a, b,
	); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return Message{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        last_ts = GREATEST(COALESCE(last_ts, $2), $2),
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1), last_ts`,
		in.ConversationID, now,
	).Scan(&seq, &now); err != nil {
		return Message{}, err
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	var broadcastID *string
	if in.BroadcastID != "" {
		broadcastID = &in.BroadcastID
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_id, seq, id, sender_id, sender_name, body, created_at, broadcast_id
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ConversationID, seq, id, in.SenderID, in.SenderName, in.Body, now, broadcastID,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            seq,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Body:           in.Body,
		CreatedAt:      now.UTC(),
		BroadcastID:    in.BroadcastID,
	}, nil
}

const messageColumns = `id, conversation_id, seq, sender_id, sender_name, body, created_at, read, COALESCE(broadcast_id, '')`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt, &m.Read, &m.BroadcastID)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

// List streams rows as the cursor advances.
func (s *PostgresBackend) List(ctx context.Context, conversationID string, order Order) (Cursor, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("messaging: nil backend")
	}
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE conversation_id = $1
		  ORDER BY created_at `+dir+`, seq `+dir,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	return &pgCursor{rows: rows}, nil
}

func (s *PostgresBackend) Latest(ctx context.Context, conversationID string) (Message, bool, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE conversation_id = $1
		  ORDER BY seq DESC
		  LIMIT 1`,
		conversationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

func (s *PostgresBackend) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read`,
		conversationID, viewerID,
	).Scan(&n)
	return n, err
}

func (s *PostgresBackend) MarkRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "messages")+`
		    SET read = true
		  WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read`,
		conversationID, viewerID,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type pgCursor struct {
	rows   pgx.Rows
	cur    Message
	err    error
	closed bool
}

func (c *pgCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}
	m, err := scanMessage(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = m
	return true
}

func (c *pgCursor) Message() Message { return c.cur }
func (c *pgCursor) Err() error       { return c.err }

func (c *pgCursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.rows.Close()
	if err := c.rows.Err(); err != nil && c.err == nil {
		c.err = err
	}
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
