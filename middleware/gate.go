package middleware

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/arvolo/claimgate"
)

// Fixed response bodies. Internal detail is logged server-side, never echoed.
const (
	bodyNotFound      = "Resource was not found"
	bodyNotAuthorized = "Access to resource was not authorized"
	bodyServerError   = "An error occurred while processing the request"
)

// Annotations are the static authorization markers on an action or its
// containing group.
type Annotations struct {
	AllowAnonymous       bool
	RequireAuthorization bool
}

// RouteMetadata combines the action's annotations with its group's.
type RouteMetadata struct {
	Action Annotations
	Group  Annotations
}

func (m RouteMetadata) allowAnonymous() bool {
	return m.Action.AllowAnonymous || m.Group.AllowAnonymous
}

func (m RouteMetadata) explicitAuthRequired() bool {
	return m.Action.RequireAuthorization || m.Group.RequireAuthorization
}

// MetadataResolver maps a request to its route metadata. A false second
// result means no route or action metadata was resolvable (404).
type MetadataResolver interface {
	Resolve(r *http.Request) (RouteMetadata, bool)
}

// RouteTable is a MetadataResolver over exact "METHOD /path" entries.
type RouteTable map[string]RouteMetadata

// Resolve implements [MetadataResolver].
func (t RouteTable) Resolve(r *http.Request) (RouteMetadata, bool) {
	meta, ok := t[r.Method+" "+r.URL.Path]
	return meta, ok
}

// PostAuthorizeFunc is the caller-supplied predicate consulted after
// authentication succeeds on a guarded route. It may perform I/O (a session
// lookup, a secondary permission check); its boolean result is final. An
// error denies the request.
type PostAuthorizeFunc func(ctx context.Context, id *Identity, r *http.Request) (bool, error)

// Gate is the per-request authorization decision. Construct once and reuse;
// it holds no per-request state.
type Gate struct {
	routes        MetadataResolver
	postAuthorize PostAuthorizeFunc
	log           logr.Logger
	metrics       *claimgate.Metrics
}

// NewGate builds a Gate. postAuthorize may be nil (authenticated callers on
// guarded routes are then authorized outright); metrics may be nil.
func NewGate(routes MetadataResolver, postAuthorize PostAuthorizeFunc, log logr.Logger, metrics *claimgate.Metrics) *Gate {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Gate{routes: routes, postAuthorize: postAuthorize, log: log, metrics: metrics}
}

// Handler runs the gate decision ahead of next:
//
//  1. unresolvable route metadata → 404;
//  2. allow-anonymous anywhere, or no annotations at all → forward
//     (default-open unless explicitly guarded, anonymous always wins);
//  3. explicit auth required: unauthenticated → 401; authenticated with no
//     predicate → forward; otherwise the predicate decides;
//  4. downstream conversion panics are contained and answered with 500.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := g.routes.Resolve(r)
		if !ok {
			respond(w, http.StatusNotFound, bodyNotFound)
			return
		}

		if g.authorized(meta, r) {
			g.metrics.Inc(claimgate.MetricAuthAllowed)
			g.forward(next, w, r)
			return
		}

		g.metrics.Inc(claimgate.MetricAuthDenied)
		respond(w, http.StatusUnauthorized, bodyNotAuthorized)
	})
}

func (g *Gate) authorized(meta RouteMetadata, r *http.Request) bool {
	if meta.allowAnonymous() || !meta.explicitAuthRequired() {
		return true
	}

	id, ok := IdentityFromContext(r.Context())
	if !ok || !id.Authenticated {
		return false
	}
	if g.postAuthorize == nil {
		return true
	}

	allowed, err := g.postAuthorize(r.Context(), id, r)
	if err != nil {
		g.log.Error(err, "post-authorization predicate failed",
			"method", r.Method, "path", r.URL.Path)
		return false
	}
	return allowed
}

// forward hands the request to the next stage behind a containment boundary:
// data-conversion failures inside business logic (malformed JSON decoded into
// the wrong shape, invalid type casts) surface as panics and must not leak
// stack traces to the client.
func (g *Gate) forward(next http.Handler, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			g.metrics.Inc(claimgate.MetricAuthContained)
			g.log.Info("contained downstream failure",
				"method", r.Method, "path", r.URL.Path, "panic", rec)
			respond(w, http.StatusInternalServerError, bodyServerError)
		}
	}()
	next.ServeHTTP(w, r)
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
