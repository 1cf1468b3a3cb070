package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/arvolo/claimgate/token"
)

// Identity is the caller's authentication state for one request. The zero
// value is an unauthenticated, claimless identity.
type Identity struct {
	Authenticated bool
	Claims        token.ClaimCollection
}

type identityContextKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the request identity. The second result is
// false when no authentication middleware ran.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}

// Authenticate validates the Authorization bearer token on each request and
// installs the resulting Identity in the context. Requests without a token,
// or with an invalid one, proceed unauthenticated. Rejecting them is the
// gate's decision, not this middleware's.
func Authenticate(validator *token.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := &Identity{}
			if raw, ok := bearerToken(r.Header.Get("Authorization")); ok && validator != nil {
				if claims, err := validator.Validate(raw); err == nil {
					id.Authenticated = true
					id.Claims = claims
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = token.DefaultAuthorizationScheme + " "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	raw := value[len(bearer):]
	if raw == "" {
		return "", false
	}
	return raw, true
}
