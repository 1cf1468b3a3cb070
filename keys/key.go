package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
)

// Signature algorithm identifiers (JWS "alg" values).
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
	AlgEdDSA = "EdDSA"
)

// Key-wrap algorithm identifiers (JWE "alg" values).
const (
	WrapA128KW     = "A128KW"
	WrapA192KW     = "A192KW"
	WrapA256KW     = "A256KW"
	WrapRSAOAEP256 = "RSA-OAEP-256"
)

// Content-encryption algorithm identifiers (JWE "enc" values).
const (
	EncA256CBCHS512 = "A256CBC-HS512"
)

// SecurityKey is an opaque key handle produced by resolution. For symmetric
// keys the material is the secret byte string; for certificate-backed keys it
// is the certificate's private key.
type SecurityKey struct {
	secret     []byte
	signer     crypto.Signer
	cert       *x509.Certificate
	keyID      string
	asymmetric bool
	x509Backed bool
}

// IsAsymmetric reports whether the key is public/private key material.
func (k *SecurityKey) IsAsymmetric() bool { return k.asymmetric }

// IsX509 reports whether the key is backed by an X.509 certificate.
func (k *SecurityKey) IsX509() bool { return k.x509Backed }

// KeyID returns the key identifier carried in token headers, or "".
func (k *SecurityKey) KeyID() string { return k.keyID }

// Certificate returns the backing certificate, or nil for symmetric keys.
func (k *SecurityKey) Certificate() *x509.Certificate { return k.cert }

// SigningMaterial returns what the JWS layer signs with: the secret bytes for
// symmetric keys, the private key otherwise.
func (k *SecurityKey) SigningMaterial() any {
	if !k.asymmetric {
		return k.secret
	}
	return k.signer
}

// VerificationMaterial returns what the JWS layer verifies with: the secret
// bytes for symmetric keys, the public key otherwise.
func (k *SecurityKey) VerificationMaterial() any {
	if !k.asymmetric {
		return k.secret
	}
	return k.signer.Public()
}

// Secret returns the raw symmetric secret, or nil for asymmetric keys.
func (k *SecurityKey) Secret() []byte { return k.secret }

func newSymmetricKey(secret []byte, keyID string) *SecurityKey {
	return &SecurityKey{secret: secret, keyID: keyID}
}

func newCertificateKey(cert *x509.Certificate, signer crypto.Signer) *SecurityKey {
	return &SecurityKey{
		signer:     signer,
		cert:       cert,
		keyID:      certificateKeyID(cert),
		asymmetric: true,
		x509Backed: true,
	}
}

func certificateKeyID(cert *x509.Certificate) string {
	if len(cert.SubjectKeyId) > 0 {
		return hex.EncodeToString(cert.SubjectKeyId)
	}
	return cert.SerialNumber.Text(16)
}

// signatureAlgorithmFor picks the JWS algorithm matching the private key type.
func signatureAlgorithmFor(signer crypto.Signer) (string, bool) {
	switch key := signer.(type) {
	case *rsa.PrivateKey:
		return AlgRS256, true
	case *ecdsa.PrivateKey:
		switch key.Curve {
		case elliptic.P256():
			return AlgES256, true
		case elliptic.P384():
			return AlgES384, true
		case elliptic.P521():
			return AlgES512, true
		}
		return "", false
	case ed25519.PrivateKey:
		return AlgEdDSA, true
	}
	return "", false
}

// SigningCredentials pairs a resolved key with the signature algorithm to use.
type SigningCredentials struct {
	Key       *SecurityKey
	Algorithm string
}

// EncryptingCredentials pairs a resolved key with the JWE key-wrap and
// content-encryption algorithms. A nil *EncryptingCredentials means tokens
// are signed but not encrypted.
type EncryptingCredentials struct {
	Key               *SecurityKey
	KeyWrapAlgorithm  string
	ContentEncryption string
}
