package token

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"coachhub/cmd/identity"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// KeyEnv is the env var name for the JWT HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "COACHHUB_JWT_KEY"

	// MinKeyBytes is the minimum secret length enforced in strict mode.
	MinKeyBytes = 32

	issuer = "coachhub"
)

// Claims is the JWT payload. Subject is the participant id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// KeyFromEnv returns the configured key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Verifier issues and verifies actor tokens.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier constructs a Verifier for an HMAC key.
func NewVerifier(key []byte) (*Verifier, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	return &Verifier{key: append([]byte(nil), key...), now: time.Now}, nil
}

// Issue signs a token for actor valid for ttl.
func (v *Verifier) Issue(actor identity.Actor, ttl time.Duration) (string, error) {
	if !identity.ValidParticipantID(actor.ID) {
		return "", fmt.Errorf("issue token: %w: bad participant id", identity.ErrInvalidInput)
	}
	if !actor.Role.Valid() {
		return "", fmt.Errorf("issue token: %w: unknown role %q", identity.ErrInvalidInput, actor.Role)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := v.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: actor.DisplayName,
		Role: string(actor.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Verify parses raw and returns the actor it identifies.
func (v *Verifier) Verify(raw string) (identity.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.Actor{}, ErrInvalidToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !tok.Valid {
		return identity.Actor{}, errors.Join(ErrInvalidToken, err)
	}

	actor := identity.Actor{
		Participant: identity.Participant{
			ID:          identity.NormalizeParticipantID(claims.Subject),
			DisplayName: identity.NormalizeDisplayName(claims.Name),
		},
		Role: identity.ParseRole(claims.Role),
	}
	if !identity.ValidParticipantID(actor.ID) || !actor.Role.Valid() {
		return identity.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <t>" header value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
