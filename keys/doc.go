// Package keys resolves the signing and encrypting key material used by the
// token pipeline. A [Resolver] walks a fixed source order (X.509 certificate
// file, certificate store directories, symmetric secret) and keeps the first
// source that yields a usable key. Resolution happens once, at construction;
// the resolved material is immutable and safe to share across requests.
//
// Cryptographic failures while loading a candidate are logged and treated as
// "source unavailable": resolution falls through to the next tier. A failing
// symmetric tier has nothing below it, so the resolver ends up with no key
// and callers must check [Resolver.Resolved] before issuing tokens.
package keys
