package token

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arvolo/claimgate"
)

// Standard claim types the issuer always recomputes, plus the role type.
const (
	ClaimTypeTokenID   = "jti"
	ClaimTypeIssuer    = "iss"
	ClaimTypeAudience  = "aud"
	ClaimTypeIssuedAt  = "iat"
	ClaimTypeNotBefore = "nbf"
	ClaimTypeExpiresAt = "exp"
	RoleClaimType      = "roles"
)

// Claim is one (claim type, value) pair.
type Claim struct {
	Type  string
	Value string
}

// ClaimCollection is the flat, possibly multi-valued claim list exposed by an
// authenticated identity.
type ClaimCollection []Claim

// First returns the value of the first claim with the given type.
func (c ClaimCollection) First(claimType string) (string, bool) {
	for _, cl := range c {
		if cl.Type == claimType {
			return cl.Value, true
		}
	}
	return "", false
}

// Values returns every value carried under the given claim type.
func (c ClaimCollection) Values(claimType string) []string {
	var out []string
	for _, cl := range c {
		if cl.Type == claimType {
			out = append(out, cl.Value)
		}
	}
	return out
}

// RoleSet is an order-insensitive set of role names.
type RoleSet map[string]struct{}

// Add inserts a role name.
func (r RoleSet) Add(name string) {
	if name != "" {
		r[name] = struct{}{}
	}
}

// Has reports membership.
func (r RoleSet) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// List returns the role names sorted for stable output.
func (r RoleSet) List() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Field describes one externally-tagged claim-set field: its claim type,
// whether decoding requires it, whether encoding omits it from the outbound
// subject claims, and closures binding it to concrete storage.
type Field struct {
	ClaimType       string
	Required        bool
	OmitFromSubject bool
	// Get returns the field's natural string form and whether it is set.
	Get func() (string, bool)
	// Set parses raw into the field. Nil marks an unsupported field type.
	Set func(raw string) error
}

// ClaimSet is implemented by every decodable/encodable claim-set type.
// Embedding [WebClaims] provides Base and Roles; implementations override
// Fields to append their own entries to the base table.
type ClaimSet interface {
	Fields() []Field
	Base() *WebClaims
}

// WebClaims is the base claim set: the three standard timestamps plus roles.
type WebClaims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time

	roles RoleSet
}

// Base returns the receiver, giving embedders the [ClaimSet] contract.
func (c *WebClaims) Base() *WebClaims { return c }

// Roles returns the mutable role set, allocating it on first use.
func (c *WebClaims) Roles() RoleSet {
	if c.roles == nil {
		c.roles = RoleSet{}
	}
	return c.roles
}

// Fields returns the base field table. Embedders append to this slice.
func (c *WebClaims) Fields() []Field {
	return []Field{
		TimeField(ClaimTypeIssuedAt, false, &c.IssuedAt),
		TimeField(ClaimTypeExpiresAt, false, &c.ExpiresAt),
		TimeField(ClaimTypeNotBefore, false, &c.NotBefore),
	}
}

// Decode fills target from the identity's claim collection. Every required
// field must be present or decoding fails; absent optional fields keep their
// defaults. Role-type claims are collected into the target's role set.
func Decode(claims ClaimCollection, target ClaimSet) error {
	for _, f := range target.Fields() {
		raw, ok := claims.First(f.ClaimType)
		if !ok {
			if f.Required {
				return fmt.Errorf("%w: required claim %q missing", claimgate.ErrInvalidOperation, f.ClaimType)
			}
			continue
		}
		if f.Set == nil {
			return fmt.Errorf("%w: claim %q has no supported field type", claimgate.ErrInvalidOperation, f.ClaimType)
		}
		if err := f.Set(raw); err != nil {
			return fmt.Errorf("%w: claim %q: %v", claimgate.ErrInvalidOperation, f.ClaimType, err)
		}
	}

	roles := target.Base().Roles()
	for _, name := range claims.Values(RoleClaimType) {
		roles.Add(name)
	}
	return nil
}

// Encode turns a populated claim set into outbound subject claims plus the
// role list for the issuer. Fields tagged omit-from-subject and fields with
// empty values are skipped.
//
// Issuance constraints: an ExpiresAt already in the past is refused; a
// NotBefore that is unset or precedes IssuedAt is forced to IssuedAt.
func Encode(cs ClaimSet, now time.Time) ([]Claim, []string, error) {
	base := cs.Base()
	if !base.ExpiresAt.IsZero() && base.ExpiresAt.Before(now) {
		return nil, nil, fmt.Errorf("%w: claim set already expired at %s",
			claimgate.ErrInvalidOperation, base.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if base.NotBefore.IsZero() || base.NotBefore.Before(base.IssuedAt) {
		base.NotBefore = base.IssuedAt
	}

	var out []Claim
	for _, f := range cs.Fields() {
		if f.OmitFromSubject || f.Get == nil {
			continue
		}
		if v, ok := f.Get(); ok {
			out = append(out, Claim{Type: f.ClaimType, Value: v})
		}
	}
	return out, base.Roles().List(), nil
}

// Field constructors for the supported value kinds. Derived claim sets use
// these to build their tables without reflection.

func StringField(claimType string, required bool, v *string) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return *v, *v != ""
		},
		Set: func(raw string) error {
			*v = raw
			return nil
		},
	}
}

func UUIDField(claimType string, required bool, v *uuid.UUID) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return v.String(), *v != uuid.Nil
		},
		Set: func(raw string) error {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return err
			}
			*v = parsed
			return nil
		},
	}
}

func Int32Field(claimType string, required bool, v *int32) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return strconv.FormatInt(int64(*v), 10), *v != 0
		},
		Set: func(raw string) error {
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return err
			}
			*v = int32(n)
			return nil
		},
	}
}

func Int64Field(claimType string, required bool, v *int64) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return strconv.FormatInt(*v, 10), *v != 0
		},
		Set: func(raw string) error {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return err
			}
			*v = n
			return nil
		},
	}
}

func Uint32Field(claimType string, required bool, v *uint32) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return strconv.FormatUint(uint64(*v), 10), *v != 0
		},
		Set: func(raw string) error {
			n, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return err
			}
			*v = uint32(n)
			return nil
		},
	}
}

func Uint64Field(claimType string, required bool, v *uint64) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return strconv.FormatUint(*v, 10), *v != 0
		},
		Set: func(raw string) error {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return err
			}
			*v = n
			return nil
		},
	}
}

func BoolField(claimType string, required bool, v *bool) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			return strconv.FormatBool(*v), *v
		},
		Set: func(raw string) error {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return err
			}
			*v = b
			return nil
		},
	}
}

// TimeField stores instants in the JWT numeric-date form (Unix seconds) and
// accepts RFC 3339 on decode as well.
func TimeField(claimType string, required bool, v *time.Time) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			if v.IsZero() {
				return "", false
			}
			return strconv.FormatInt(v.Unix(), 10), true
		},
		Set: func(raw string) error {
			parsed, err := parseTimeClaim(raw)
			if err != nil {
				return err
			}
			*v = parsed
			return nil
		},
	}
}

// TimeOffsetField stores instants as RFC 3339 so the original UTC offset
// survives the round trip.
func TimeOffsetField(claimType string, required bool, v *time.Time) Field {
	return Field{
		ClaimType: claimType,
		Required:  required,
		Get: func() (string, bool) {
			if v.IsZero() {
				return "", false
			}
			return v.Format(time.RFC3339Nano), true
		},
		Set: func(raw string) error {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return err
			}
			*v = parsed
			return nil
		},
	}
}

func parseTimeClaim(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Unix(int64(f), 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
