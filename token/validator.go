package token

import (
	"fmt"
	"strconv"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/arvolo/claimgate"
	"github.com/arvolo/claimgate/keys"
)

// ValidatorConfig tunes inbound token validation. Zero values disable the
// corresponding check.
type ValidatorConfig struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Validator verifies bearer tokens produced by [Issuer.CreateToken]:
// decrypts the JWE layer when encrypting credentials are configured, then
// verifies the signature with the resolved key, pinning the algorithm.
type Validator struct {
	signing    *keys.SigningCredentials
	encrypting *keys.EncryptingCredentials
	cfg        ValidatorConfig
	metrics    *claimgate.Metrics
}

// NewValidator builds a Validator from resolved credentials. A nil signing
// credential (resolution yielded no key) is rejected here so every caller
// gets the null check the resolver itself does not perform.
func NewValidator(
	signing *keys.SigningCredentials,
	encrypting *keys.EncryptingCredentials,
	cfg ValidatorConfig,
	metrics *claimgate.Metrics,
) (*Validator, error) {
	if signing == nil || signing.Key == nil {
		return nil, claimgate.ErrNoKeyResolved
	}
	return &Validator{signing: signing, encrypting: encrypting, cfg: cfg, metrics: metrics}, nil
}

// Validate checks raw and returns its claim collection. Multi-valued claims
// (audience, roles) expand to one entry per value.
func (v *Validator) Validate(raw string) (ClaimCollection, error) {
	compact := raw
	if v.encrypting != nil {
		inner, err := v.decrypt(raw)
		if err != nil {
			v.metrics.Inc(claimgate.MetricTokenRejected)
			return nil, err
		}
		compact = inner
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.signing.Algorithm}),
	}
	if v.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.cfg.Leeway))
	}
	if v.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(v.cfg.Audience))
	}

	parser := jwt.NewParser(options...)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(compact, claims, func(t *jwt.Token) (any, error) {
		return v.signing.Key.VerificationMaterial(), nil
	})
	if err != nil {
		v.metrics.Inc(claimgate.MetricTokenRejected)
		return nil, err
	}

	return collectClaims(claims), nil
}

func (v *Validator) decrypt(raw string) (string, error) {
	obj, err := jose.ParseEncrypted(raw,
		[]jose.KeyAlgorithm{jose.KeyAlgorithm(v.encrypting.KeyWrapAlgorithm)},
		[]jose.ContentEncryption{jose.ContentEncryption(v.encrypting.ContentEncryption)},
	)
	if err != nil {
		return "", fmt.Errorf("parse encrypted token: %w", err)
	}
	plaintext, err := obj.Decrypt(decryptionKey(v.encrypting))
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(plaintext), nil
}

// decryptionKey picks the unwrap key: the certificate's private key for RSA
// key wrap, the symmetric key-encryption key otherwise.
func decryptionKey(creds *keys.EncryptingCredentials) any {
	if creds.KeyWrapAlgorithm == keys.WrapRSAOAEP256 {
		return creds.Key.SigningMaterial()
	}
	return creds.Key.Secret()
}

// collectClaims flattens parsed JWT claims into the string-typed collection
// the codec and the authorization gate consume.
func collectClaims(claims jwt.MapClaims) ClaimCollection {
	out := make(ClaimCollection, 0, len(claims))
	for claimType, value := range claims {
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				out = append(out, Claim{Type: claimType, Value: claimValueString(item)})
			}
		default:
			out = append(out, Claim{Type: claimType, Value: claimValueString(v)})
		}
	}
	return out
}

func claimValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
