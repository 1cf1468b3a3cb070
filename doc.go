// Package claimgate provides the session and authorization core for JWT-secured
// services: a Redis-backed session store with a per-claimer concurrency cap,
// a token issuance/validation pipeline driven by pluggable key sources, and an
// HTTP authorization gate.
//
// The package is designed for concurrent server workloads: every component is
// safe to share across goroutines after construction. The session store's
// correctness under concurrent logins relies on server-side Lua scripts, not
// application locks, so multiple service instances may share one Redis.
//
// # Architecture boundaries
//
// claimgate (this package) is the shared surface: settings lookup, the error
// taxonomy, and metrics counters. Domain logic lives in subpackages:
//
//   - keys: resolves signing/encrypting key material from certificate files,
//     certificate store directories, or a symmetric secret.
//   - token: issues, encodes, decodes, and validates bearer tokens.
//   - session: the capped concurrent-session store.
//   - middleware: HTTP authentication and the authorization gate.
//
// # What this package must NOT do
//
//   - Import any subpackage (subpackages import claimgate, never the reverse).
//   - Perform I/O. Settings are read from memory; LoadSettings is the single
//     file-touching helper and runs at startup only.
package claimgate
