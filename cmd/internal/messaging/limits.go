package messaging

import "time"

const (
	// Max message body length (runes).
	MaxBodyChars = 4000

	// Max recipients per broadcast send.
	MaxBroadcastRecipients = 500

	// DefaultSearchDebounce is the quiet period before a search scan runs.
	DefaultSearchDebounce = 300 * time.Millisecond

	// DefaultMatchWindow bounds how far apart an optimistic entry and the
	// persisted message may be in time and still reconcile.
	DefaultMatchWindow = 2 * time.Minute

	// NoMessagesPlaceholder is shown for a counterpart with an empty conversation.
	NoMessagesPlaceholder = "No messages yet"
)
