package messaging

import (
	"time"

	"coachhub/cmd/identity/ids"

	"github.com/google/uuid"
)

// tempIDPrefix marks client-local ids. Server ids are ULIDs and never carry it.
const tempIDPrefix = "tmp-"

// NewMessageID returns a ULID used as the persisted message id.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewBroadcastID returns a ULID shared by every message of one broadcast send.
func NewBroadcastID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewTempID returns an id for an optimistic message.
func NewTempID() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return tempIDPrefix + u.String()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return len(id) > len(tempIDPrefix) && id[:len(tempIDPrefix)] == tempIDPrefix
}
