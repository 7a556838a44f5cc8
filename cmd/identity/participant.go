package identity

import "strings"

// Role is the participant kind as reported by the identity provider.
type Role string

const (
	RoleTrainer Role = "trainer"
	RoleClient  Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTrainer || r == RoleClient
}

// ParseRole maps a free-form role string onto a Role ("" when unknown).
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleTrainer:
		return RoleTrainer
	case RoleClient:
		return RoleClient
	default:
		return ""
	}
}

// Participant is an opaque id plus the display name shown next to messages.
type Participant struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// Actor is the signed-in participant: identity plus role.
type Actor struct {
	Participant
	Role Role `json:"role"`
}

// IsTrainer reports whether the actor may address many clients at once.
func (a Actor) IsTrainer() bool { return a.Role == RoleTrainer }
