package realtime

import "time"

const (
	// Max bytes per websocket frame read. Sized for a full broadcast request.
	maxFrameBytes = 128 << 10
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = 1 * time.Second

	maxPingFailures = 3

	// Operations invoked from the read loop get their own deadline so a stuck
	// backend cannot pin the connection.
	defaultOpTimeout = 10 * time.Second
)

// DefaultAllowedOrigins is the allowlist used when none is configured.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
