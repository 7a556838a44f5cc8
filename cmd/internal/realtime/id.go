package realtime

import (
	"time"

	"coachhub/cmd/identity/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by creation time, which keeps log traces readable.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
