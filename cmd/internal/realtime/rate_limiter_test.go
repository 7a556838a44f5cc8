package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, 3*time.Second)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow(now))
	}
	require.False(t, rl.Allow(now))

	// One token refills per window/limit.
	require.True(t, rl.Allow(now.Add(time.Second)))
	require.False(t, rl.Allow(now.Add(time.Second)))
}
