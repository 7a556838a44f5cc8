package identity

import (
	"regexp"
	"strings"
)

// Participant ids are restricted so that they never contain the conversation id
// separator ("_"), the store key separator (":") or a NATS subject token (".").
var participantIDRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,127}$`)

// NormalizeParticipantID trims surrounding whitespace. Ids are case-sensitive.
func NormalizeParticipantID(s string) string {
	return strings.TrimSpace(s)
}

// ValidParticipantID reports whether s is a well-formed participant id.
func ValidParticipantID(s string) bool {
	return participantIDRE.MatchString(s)
}

// NormalizeDisplayName trims and collapses internal whitespace.
func NormalizeDisplayName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
