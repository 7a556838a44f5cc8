package app

import (
	"errors"
	"fmt"

	"coachhub/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup signing-key policy.
// With COACHHUB_REQUIRE_STRONG_JWT_KEY set, a missing or short key fails startup.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireStrongJWTKey {
		return nil
	}

	// Bytes, not runes: the key is used as raw HMAC input.
	n := len(cfg.JWTKey)
	if n == 0 {
		key, err := token.KeyFromEnv(0)
		if err != nil && !errors.Is(err, token.ErrKeyMissing) {
			return err
		}
		n = len(key)
	}

	switch {
	case n == 0:
		return fmt.Errorf("security policy: COACHHUB_REQUIRE_STRONG_JWT_KEY=true but %s is missing: %w", token.KeyEnv, token.ErrKeyMissing)
	case n < token.MinKeyBytes:
		return fmt.Errorf("security policy: %s is too short (min %d bytes): %w", token.KeyEnv, token.MinKeyBytes, token.ErrKeyTooShort)
	}
	return nil
}
