package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrettyHandler_RequestLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	log.Info("http.request",
		"method", "post",
		"path", "/api/v1/broadcasts",
		"status", 207,
		"status_class", "2xx",
		"duration_ms", int64(12),
		"user_agent", "two words",
	)

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "INFO  http.request")
	require.Contains(t, line, "method=POST")
	require.Contains(t, line, "path=/api/v1/broadcasts")
	require.Contains(t, line, "status=207")
	require.Contains(t, line, "class=2xx")
	require.Contains(t, line, "duration=12ms")
	require.Contains(t, line, `user_agent="two words"`)
	require.NotContains(t, line, "\x1b[")
}

func TestPrettyHandler_MessagingAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).With("participant_id", "t-1")
	log.Warn("send.rollback",
		"conversation_id", "c-1_t-1",
		"counterpart_id", "c-1",
		"err", errors.New("persistence failed: backend offline"),
	)

	line := buf.String()
	require.Contains(t, line, "WARN  send.rollback")
	require.Contains(t, line, "pid=t-1")
	require.Contains(t, line, "conv=c-1_t-1")
	require.Contains(t, line, "cp=c-1")
	require.Contains(t, line, `err="persistence failed: backend offline"`)
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).
		With("session_id", "s-9").
		WithGroup("view")
	log.Info("ws.open", "conversation_id", "c-1_t-1", slog.Group("draft", "len", 4))

	line := buf.String()
	require.Contains(t, line, " session_id=s-9")
	require.Contains(t, line, "view.conversation_id=c-1_t-1")
	require.Contains(t, line, "view.draft.len=4")
}

func TestPrettyHandler_LevelFilterAndColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))
	log.Info("hidden")
	require.Empty(t, buf.String())

	log.Error("store.close.fail", "status", 503, "conversation_id", "c-1_t-1")
	line := buf.String()
	require.Contains(t, line, ansiRed+"ERROR"+ansiReset)
	require.Contains(t, line, ansiYellow+ansiBright+"store"+ansiReset)
	require.Contains(t, line, ansiRed+"503"+ansiReset)
	require.Contains(t, line, "conv="+ansiCyan+"c-1_t-1"+ansiReset)
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	n, ok := valueToInt64(slog.StringValue(" 42 "))
	require.True(t, ok)
	require.Equal(t, int64(42), n)

	_, ok = valueToInt64(slog.BoolValue(true))
	require.False(t, ok)
}
