package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotorauth/rotor"
	"github.com/rotorauth/rotor/token"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by [RequireAccess].
func IdentityFromContext(ctx context.Context) (*rotor.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*rotor.Identity)
	return id, ok
}

// RequireAccess guards a handler with access-token verification. The
// verified identity is placed on the request context. Every rejection,
// benign or cascading, looks identical to the caller.
func RequireAccess(engine *rotor.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			tok, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.Verify(r.Context(), tok)
			if err != nil || identity.Mode != token.ModeAccess {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts a token from an Authorization header value. A bare
// token without the Bearer prefix is accepted as-is.
func BearerToken(value string) (string, bool) {
	value = strings.TrimSpace(value)

	const bearer = "bearer"
	if len(value) >= len(bearer) && strings.EqualFold(value[:len(bearer)], bearer) {
		value = strings.TrimSpace(value[len(bearer):])
	}

	if value == "" {
		return "", false
	}
	return value, true
}
