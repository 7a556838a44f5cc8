// Package token implements the identity-provider boundary: HS256 JWTs that carry
// the signed-in participant's id, display name and role.
package token
