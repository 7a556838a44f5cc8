package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"coachhub/cmd/security/token"

	"github.com/stretchr/testify/require"
)

func TestEnvCSV(t *testing.T) {
	t.Setenv("COACHHUB_TEST_CSV", " a, ,b ,c")
	require.Equal(t, []string{"a", "b", "c"}, EnvCSV("COACHHUB_TEST_CSV", "x"))

	t.Setenv("COACHHUB_TEST_CSV", "")
	require.Equal(t, []string{"x", "y"}, EnvCSV("COACHHUB_TEST_CSV", "x,y"))
	require.Nil(t, EnvCSV("COACHHUB_TEST_CSV", ""))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, FeedLocal, cfg.Feed)
	require.Equal(t, 300*time.Millisecond, cfg.SearchDebounce)
	require.Equal(t, 2*time.Minute, cfg.MatchWindow)
	require.True(t, cfg.WS.OriginRequired)
	require.Equal(t, 120, cfg.WS.RateEvents)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("COACHHUB_STORE", "pebble")
	t.Setenv("COACHHUB_PEBBLE_DIR", "/tmp/msgs")
	t.Setenv("COACHHUB_FEED", "nats")
	t.Setenv("COACHHUB_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("COACHHUB_SEARCH_DEBOUNCE", "150ms")
	t.Setenv("COACHHUB_DB_MAX_CONNS", "4")
	t.Setenv("COACHHUB_WS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("COACHHUB_WS_RATE_EVENTS", "not-a-number")

	cfg := LoadConfig()
	require.Equal(t, StorePebble, cfg.Store)
	require.Equal(t, "/tmp/msgs", cfg.PebbleDir)
	require.Equal(t, FeedNATS, cfg.Feed)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	require.Equal(t, 150*time.Millisecond, cfg.SearchDebounce)
	require.Equal(t, int32(4), cfg.DBMaxConns)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.WS.AllowedOrigins)
	require.Equal(t, 120, cfg.WS.RateEvents)
}

func TestResolveConfig_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("COACHHUB_HTTP_ADDR=127.0.0.1:9999\nCOACHHUB_LOG_LEVEL=debug\n"), 0o600))

	// Loaded keys land in the process env; register them so they are restored.
	t.Setenv("COACHHUB_HTTP_ADDR", "")
	t.Setenv("COACHHUB_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("COACHHUB_HTTP_ADDR"))
	require.NoError(t, os.Unsetenv("COACHHUB_LOG_LEVEL"))

	cfg, err := ResolveConfig(RunOptions{EnvFile: path, LogLevel: "error"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
	require.Equal(t, "error", cfg.LogLevel)

	_, err = ResolveConfig(RunOptions{EnvFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv(token.KeyEnv, "")

	require.NoError(t, ValidateSecurityConfig(Config{}))

	err := ValidateSecurityConfig(Config{RequireStrongJWTKey: true})
	require.ErrorIs(t, err, token.ErrKeyMissing)

	err = ValidateSecurityConfig(Config{RequireStrongJWTKey: true, JWTKey: "short"})
	require.ErrorIs(t, err, token.ErrKeyTooShort)

	t.Setenv(token.KeyEnv, "0123456789abcdef0123456789abcdef")
	require.NoError(t, ValidateSecurityConfig(Config{RequireStrongJWTKey: true}))
}
