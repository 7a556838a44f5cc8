package messaging

import (
	"strings"

	"coachhub/cmd/identity"
)

// conversationSep cannot appear in a valid participant id, so the joined form
// splits back into exactly one pair.
const conversationSep = "_"

// ResolveConversationID returns the canonical id for the unordered pair {a, b}.
// The result does not depend on argument order.
func ResolveConversationID(a, b string) (string, error) {
	a = identity.NormalizeParticipantID(a)
	b = identity.NormalizeParticipantID(b)

	if !identity.ValidParticipantID(a) || !identity.ValidParticipantID(b) {
		return "", opErr("resolve", ErrInvalidParticipants, "malformed participant id", nil)
	}
	if a == b {
		return "", opErr("resolve", ErrInvalidParticipants, "self conversation", nil)
	}
	if b < a {
		a, b = b, a
	}
	return a + conversationSep + b, nil
}

// SplitConversationID returns the two participant ids of a canonical id.
func SplitConversationID(conversationID string) (string, string, error) {
	a, b, ok := strings.Cut(conversationID, conversationSep)
	if !ok || !identity.ValidParticipantID(a) || !identity.ValidParticipantID(b) || a >= b {
		return "", "", opErr("split", ErrInvalidParticipants, "not a canonical conversation id", nil)
	}
	return a, b, nil
}

// Counterpart returns the participant in conversationID that is not viewerID.
func Counterpart(conversationID, viewerID string) (string, error) {
	a, b, err := SplitConversationID(conversationID)
	if err != nil {
		return "", err
	}
	switch viewerID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", opErr("counterpart", ErrInvalidParticipants, "viewer not in conversation", nil)
}
