// Package token issues and validates bearer tokens and converts between an
// authenticated identity's claim collection and strongly-typed claim sets.
//
// Claim sets avoid runtime reflection: each type describes itself through an
// explicit field table ([ClaimSet.Fields]) mapping claim-type strings to
// typed getters and setters. [WebClaims] is the base set (issued-at,
// expires-at, not-before, roles); application claim sets embed it and append
// their own fields.
//
// [Issuer.CreateToken] signs (and, when encrypting credentials are present,
// encrypts) a token from subject claims. [Validator.Validate] reverses the
// pipeline for inbound bearer tokens.
package token
