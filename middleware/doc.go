// Package middleware wires the token and session layers into an HTTP request
// pipeline.
//
// [Authenticate] parses the Authorization header, validates the bearer token,
// and installs an [Identity] in the request context. [Gate] is the
// authorization decision: it resolves the route's annotations, lets anonymous
// and unannotated routes through, demands an authenticated identity on
// explicitly guarded routes, and defers to an optional post-authorization
// predicate for the final say. Downstream conversion panics are contained at
// the gate boundary and answered with a generic 500 so internals never reach
// the client.
package middleware
