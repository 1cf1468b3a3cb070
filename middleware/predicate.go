package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/arvolo/claimgate/session"
	"github.com/arvolo/claimgate/token"
)

// SessionPredicateConfig names the claims the session predicate reads off the
// authenticated identity.
type SessionPredicateConfig struct {
	// ClaimerClaimType identifies the claimer UUID claim. Default "claimer".
	ClaimerClaimType string
	// SessionClaimType identifies the session UUID claim. Default "session".
	SessionClaimType string
	// ResourceClaimType identifies the resource claim. Default "aud".
	ResourceClaimType string
}

func (c *SessionPredicateConfig) defaults() {
	if c.ClaimerClaimType == "" {
		c.ClaimerClaimType = "claimer"
	}
	if c.SessionClaimType == "" {
		c.SessionClaimType = "session"
	}
	if c.ResourceClaimType == "" {
		c.ResourceClaimType = token.ClaimTypeAudience
	}
}

// SessionPredicate returns a post-authorization predicate that admits a
// caller only while the (session, claimer, resource) triple from its claims
// is still live in the store. Tokens that outlive their session (evicted by
// the concurrency cap, or expired explicitly) are denied even though the
// signature still verifies.
func SessionPredicate(store *session.Store, cfg SessionPredicateConfig) PostAuthorizeFunc {
	cfg.defaults()
	return func(ctx context.Context, id *Identity, _ *http.Request) (bool, error) {
		claimerRaw, ok := id.Claims.First(cfg.ClaimerClaimType)
		if !ok {
			return false, nil
		}
		sessionRaw, ok := id.Claims.First(cfg.SessionClaimType)
		if !ok {
			return false, nil
		}
		resource, ok := id.Claims.First(cfg.ResourceClaimType)
		if !ok {
			return false, nil
		}

		claimer, err := uuid.Parse(claimerRaw)
		if err != nil {
			return false, nil
		}
		sessionID, err := uuid.Parse(sessionRaw)
		if err != nil {
			return false, nil
		}

		live, err := store.GetSession(ctx, claimer, sessionID, resource)
		if err != nil {
			return false, err
		}
		return live != nil, nil
	}
}
