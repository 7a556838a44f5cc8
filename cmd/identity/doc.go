// Package identity holds coachhub's participant model and the roster boundary.
//
// The messaging core treats participants as read-only reference data: ids and
// display names come from the identity provider (security/token) and the
// trainer/client relationships come from a Roster.
package identity
