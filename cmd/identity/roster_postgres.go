package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRoster reads trainer/client links from <schema>.trainer_clients joined to <schema>.participants.
//
// PostgresRoster does NOT own the pool.
type PostgresRoster struct {
	pool   *pgxpool.Pool
	schema string
}

// RosterOption configures PostgresRoster behavior.
type RosterOption func(*PostgresRoster) error

// WithRosterSchema sets the DB schema used by the roster (default: "coachhub").
func WithRosterSchema(schema string) RosterOption {
	return func(r *PostgresRoster) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresRoster constructs a roster backed by PostgreSQL.
func NewPostgresRoster(pool *pgxpool.Pool, opts ...RosterOption) (*PostgresRoster, error) {
	r := &PostgresRoster{
		pool:   pool,
		schema: "coachhub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return r, nil
}

// EnsureSchema creates the participants and trainer_clients tables when missing.
func (r *PostgresRoster) EnsureSchema(ctx context.Context) error {
	people := pgx.Identifier{r.schema, "participants"}.Sanitize()
	links := pgx.Identifier{r.schema, "trainer_clients"}.Sanitize()

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{r.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + people + ` (
		   id           text PRIMARY KEY,
		   display_name text NOT NULL,
		   role         text NOT NULL CHECK (role IN ('trainer', 'client'))
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + links + ` (
		   trainer_id text NOT NULL REFERENCES ` + people + ` (id),
		   client_id  text NOT NULL REFERENCES ` + people + ` (id),
		   created_at timestamptz NOT NULL DEFAULT now(),
		   PRIMARY KEY (trainer_id, client_id)
		 )`,
		`CREATE INDEX IF NOT EXISTS trainer_clients_client_idx ON ` + links + ` (client_id)`,
	}
	for _, q := range stmts {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure roster schema: %w", err)
		}
	}
	return nil
}

// Counterparts returns clients for a trainer and trainers for a client.
func (r *PostgresRoster) Counterparts(ctx context.Context, ownerID string) ([]Participant, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("identity: nil roster")
	}
	ownerID = NormalizeParticipantID(ownerID)
	if ownerID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links := pgx.Identifier{r.schema, "trainer_clients"}.Sanitize()
	people := pgx.Identifier{r.schema, "participants"}.Sanitize()

	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.display_name
		   FROM `+links+` l
		   JOIN `+people+` p
		     ON p.id = CASE WHEN l.trainer_id = $1 THEN l.client_id ELSE l.trainer_id END
		  WHERE l.trainer_id = $1 OR l.client_id = $1
		  ORDER BY p.display_name ASC, p.id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("roster query: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
