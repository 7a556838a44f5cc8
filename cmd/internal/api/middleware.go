package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/security/token"

	"github.com/go-chi/httprate"
)

// Authenticator turns a bearer token into the signed-in actor.
type Authenticator interface {
	Verify(raw string) (identity.Actor, error)
}

type ctxKey struct{}

// WithActor returns ctx carrying the authenticated actor.
func WithActor(ctx context.Context, a identity.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(ctx context.Context) (identity.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(identity.Actor)
	return a, ok
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := token.BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			actor, err := auth.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RateLimit limits requests per participant, falling back to the client IP
// for requests that carry no actor.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.FormatInt(int64(window.Seconds()), 10)
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if a, ok := ActorFrom(r.Context()); ok {
				return "participant:" + a.ID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	)
}
