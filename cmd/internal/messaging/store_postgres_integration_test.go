package messaging

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when COACHHUB_TEST_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresBackend(t *testing.T) {
	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	runBackendSuite(t, func(t *testing.T) Backend {
		schema := "coachhub_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		t.Cleanup(func() { mustDropSchema(t, pool, schema) })

		b, err := NewPostgresBackend(pool, WithSchema(schema))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, b.EnsureSchema(ctx))
		return b
	})
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "  ", "bad-name", "1abc", `x"; DROP`} {
		st := &PostgresBackend{}
		require.Error(t, WithSchema(s)(st), "%q", s)
	}
	st := &PostgresBackend{}
	require.NoError(t, WithSchema("coachhub_dev")(st))
	require.Equal(t, "coachhub_dev", st.schema)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("COACHHUB_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: COACHHUB_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	require.NoError(t, err, "connect postgres")
	require.NoError(t, pool.Ping(ctx), "ping postgres")
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
