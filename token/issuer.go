package token

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arvolo/claimgate"
	"github.com/arvolo/claimgate/keys"
)

// DefaultAuthorizationScheme is the prefix used for Authorization headers.
const DefaultAuthorizationScheme = "Bearer"

// MaxExpiry is the absolute expiration ceiling: the signed 32-bit Unix
// timestamp limit, 2038-01-19T03:14:07Z. Requested expirations beyond it are
// clamped and the caller observes the clamped value.
var MaxExpiry = time.Date(2038, time.January, 19, 3, 14, 7, 0, time.UTC)

// TokenRequest carries everything CreateToken needs. SubjectClaims and
// Signing are required; the rest is optional.
type TokenRequest struct {
	// Expiration is the requested token lifetime; zero means the token
	// carries no exp claim.
	Expiration time.Duration
	// SubjectClaims is the ordered (claimType, value) list to embed. The
	// standard types jti/iss/aud/iat/nbf/exp are always recomputed; caller
	// values for them are discarded.
	SubjectClaims []Claim
	Signing       *keys.SigningCredentials
	Roles         []string
	Encrypting    *keys.EncryptingCredentials
	Issuer        string
	Audience      string
}

// IssuedToken is the result of CreateToken.
type IssuedToken struct {
	// Value is the canonical compact serialization (JWS, or JWE when
	// encryption was requested).
	Value     string
	TokenID   string
	TokenType string
	IssuedAt  time.Time
	// ExpiresAt is zero when no expiration was requested.
	ExpiresAt time.Time
	// Expiration is the effective lifetime after ceiling clamping.
	Expiration time.Duration
}

// Authorization renders the token as an HTTP Authorization-style value with
// the given scheme prefix; an empty prefix yields the bare token.
func (t *IssuedToken) Authorization(prefix string) string {
	if prefix == "" {
		return t.Value
	}
	return prefix + " " + t.Value
}

// Issuer builds signed, optionally encrypted tokens. Stateless apart from
// metrics; safe for concurrent use.
type Issuer struct {
	metrics *claimgate.Metrics
	now     func() time.Time
}

// NewIssuer returns an Issuer. metrics may be nil.
func NewIssuer(metrics *claimgate.Metrics) *Issuer {
	return &Issuer{metrics: metrics, now: time.Now}
}

// CreateToken issues a token per the request. Pure computation: no I/O. The
// jti claim and the timestamps make output non-deterministic by design.
func (i *Issuer) CreateToken(req TokenRequest) (*IssuedToken, error) {
	if len(req.SubjectClaims) == 0 {
		return nil, fmt.Errorf("%w: subject claims are required", claimgate.ErrArgument)
	}
	if req.Signing == nil || req.Signing.Key == nil {
		return nil, fmt.Errorf("%w: signing credentials are required", claimgate.ErrArgument)
	}

	method := jwt.GetSigningMethod(req.Signing.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("%w: unknown signature algorithm %q", claimgate.ErrArgument, req.Signing.Algorithm)
	}

	issuedAt := i.now().UTC().Truncate(time.Second)

	var expiresAt time.Time
	expiration := req.Expiration
	if expiration > 0 {
		expiresAt = issuedAt.Add(expiration)
		if expiresAt.After(MaxExpiry) {
			expiresAt = MaxExpiry
			expiration = expiresAt.Sub(issuedAt)
		}
	}

	tokenID := uuid.NewString()

	claims := jwt.MapClaims{}
	for _, c := range req.SubjectClaims {
		switch c.Type {
		case ClaimTypeTokenID, ClaimTypeIssuer, ClaimTypeAudience,
			ClaimTypeIssuedAt, ClaimTypeNotBefore, ClaimTypeExpiresAt:
			// Recomputed below; caller-supplied values are discarded.
		default:
			claims[c.Type] = c.Value
		}
	}
	claims[ClaimTypeTokenID] = tokenID
	claims[ClaimTypeIssuedAt] = jwt.NewNumericDate(issuedAt)
	claims[ClaimTypeNotBefore] = jwt.NewNumericDate(issuedAt)
	if req.Issuer != "" {
		claims[ClaimTypeIssuer] = req.Issuer
	}
	if req.Audience != "" {
		claims[ClaimTypeAudience] = req.Audience
	}
	if !expiresAt.IsZero() {
		claims[ClaimTypeExpiresAt] = jwt.NewNumericDate(expiresAt)
	}
	if len(req.Roles) > 0 {
		claims[RoleClaimType] = req.Roles
	}

	tok := jwt.NewWithClaims(method, claims)
	if kid := req.Signing.Key.KeyID(); kid != "" {
		tok.Header["kid"] = kid
	}

	signed, err := tok.SignedString(req.Signing.Key.SigningMaterial())
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	value := signed
	if req.Encrypting != nil {
		value, err = encryptToken(signed, req.Encrypting)
		if err != nil {
			return nil, err
		}
	}

	i.metrics.Inc(claimgate.MetricTokenIssued)

	return &IssuedToken{
		Value:      value,
		TokenID:    tokenID,
		TokenType:  DefaultAuthorizationScheme,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Expiration: expiration,
	}, nil
}

// encryptToken wraps a compact JWS in a compact JWE (nested JWT).
func encryptToken(signed string, creds *keys.EncryptingCredentials) (string, error) {
	encrypter, err := jose.NewEncrypter(
		jose.ContentEncryption(creds.ContentEncryption),
		jose.Recipient{
			Algorithm: jose.KeyAlgorithm(creds.KeyWrapAlgorithm),
			Key:       encryptionKey(creds),
		},
		(&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("build encrypter: %w", err)
	}

	obj, err := encrypter.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	out, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize encrypted token: %w", err)
	}
	return out, nil
}

// encryptionKey picks the wrap key: the certificate's public key for RSA key
// wrap, the derived symmetric key-encryption key otherwise.
func encryptionKey(creds *keys.EncryptingCredentials) any {
	if creds.KeyWrapAlgorithm == keys.WrapRSAOAEP256 {
		return creds.Key.Certificate().PublicKey
	}
	return creds.Key.Secret()
}
