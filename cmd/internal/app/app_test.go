package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/internal/realtime"

	"github.com/stretchr/testify/require"
)

const testJWTKey = "0123456789abcdef0123456789abcdef"

const testRoster = `
trainers:
  - id: t-1
    display_name: Coach Kim
    clients:
      - id: c-1
        display_name: Ana
`

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(testRoster), 0o600))

	cfg := Config{
		Store:      StoreMemory,
		Feed:       FeedLocal,
		JWTKey:     testJWTKey,
		RosterFile: rosterPath,
		WS:         realtime.DefaultWSConfig(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func get(t *testing.T, srv *httptest.Server, path, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	code, body := get(t, srv, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok\n", body)

	code, _ = get(t, srv, "/readyz", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv, "/api/v1/inbox", "")
	require.Equal(t, http.StatusUnauthorized, code)

	kim := identity.Actor{Participant: identity.Participant{ID: "t-1", DisplayName: "Coach Kim"}, Role: identity.RoleTrainer}
	raw, err := a.verifier.Issue(kim, time.Minute)
	require.NoError(t, err)

	code, body = get(t, srv, "/api/v1/inbox", raw)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"c-1"`)

	code, body = get(t, srv, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.Contains(body, "go_goroutines"))
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	code, _ := get(t, srv, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestApp_PebbleStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := newTestApp(t, func(c *Config) {
		c.Store = StorePebble
		c.PebbleDir = filepath.Join(dir, "messages")
	})
	require.NotNil(t, a.store)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := map[string]Config{
		"unknown store":     {Store: "floppy", JWTKey: testJWTKey},
		"postgres no db":    {Store: StorePostgres, JWTKey: testJWTKey},
		"nats no url":       {Feed: FeedNATS, JWTKey: testJWTKey},
		"unknown feed":      {Feed: "pigeon", JWTKey: testJWTKey},
		"weak key required": {RequireStrongJWTKey: true, JWTKey: "short"},
	}
	for name, cfg := range cases {
		_, err := New(context.Background(), cfg, log)
		require.Error(t, err, name)
	}
}

func TestNewDBPool_BadURL(t *testing.T) {
	t.Parallel()

	_, err := NewDBPool(context.Background(), Config{DatabaseURL: "postgres://localhost:notaport/coachhub"})
	require.ErrorContains(t, err, "parse COACHHUB_DATABASE_URL")
}
