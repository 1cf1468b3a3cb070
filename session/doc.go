// Package session tracks active sessions per claimer, session, and resource
// in a shared Redis, enforcing a cap on concurrent sessions per claimer.
//
// Keys follow the wire format shared by every deployment using the store:
//
//	claim:{yyyyMMddHHmmss}:{session-uuid}:{claimer-uuid}:{resource}
//
// with the bearer token as the value and a TTL equal to the token lifetime.
// The timestamp segment sorts lexically in chronological order, which is what
// makes oldest-first eviction a plain table.sort in Lua.
//
// Every operation executes as a single server-side Lua script so the
// read-modify-write sequences (refresh-or-evict-then-write in particular) are
// indivisible with respect to concurrent callers on any service instance.
// Correctness never depends on application-level locking.
package session
