package keys

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
)

// Defaults for the symmetric tier.
const (
	DefaultSymmetricSignatureAlgorithm = AlgHS512
	DefaultKeyWrapAlgorithm            = WrapA256KW
	DefaultContentEncryption           = EncA256CBCHS512
)

type symmetricConfig struct {
	secret             string
	signatureAlgorithm string
	keyWrapAlgorithm   string
	keyIdentifier      string
}

// buildSymmetric constructs the symmetric key and both credential sets. Any
// construction failure (unsupported algorithm name) is returned to the caller,
// which treats it as a terminal failure: there is no tier below this one.
func buildSymmetric(cfg symmetricConfig) (*SecurityKey, *SigningCredentials, *EncryptingCredentials, error) {
	sigAlg := cfg.signatureAlgorithm
	if sigAlg == "" {
		sigAlg = DefaultSymmetricSignatureAlgorithm
	}
	switch sigAlg {
	case AlgHS256, AlgHS384, AlgHS512:
	default:
		return nil, nil, nil, fmt.Errorf("unsupported symmetric signature algorithm %q", sigAlg)
	}

	wrapAlg := cfg.keyWrapAlgorithm
	if wrapAlg == "" {
		wrapAlg = DefaultKeyWrapAlgorithm
	}
	kekSize, ok := kekSizeFor(wrapAlg)
	if !ok {
		return nil, nil, nil, fmt.Errorf("unsupported key wrap algorithm %q", wrapAlg)
	}

	key := newSymmetricKey([]byte(cfg.secret), cfg.keyIdentifier)
	kek := newSymmetricKey(deriveKEK([]byte(cfg.secret), kekSize), cfg.keyIdentifier)

	signing := &SigningCredentials{Key: key, Algorithm: sigAlg}
	encrypting := &EncryptingCredentials{
		Key:               kek,
		KeyWrapAlgorithm:  wrapAlg,
		ContentEncryption: DefaultContentEncryption,
	}
	return key, signing, encrypting, nil
}

func kekSizeFor(wrapAlg string) (int, bool) {
	switch wrapAlg {
	case WrapA128KW:
		return 16, true
	case WrapA192KW:
		return 24, true
	case WrapA256KW:
		return 32, true
	}
	return 0, false
}

// deriveKEK maps an arbitrary-length secret onto a key-wrap key of the exact
// size the wrap algorithm demands. A secret that already has the right length
// is used as-is for interoperability; anything else goes through a digest.
func deriveKEK(secret []byte, size int) []byte {
	if len(secret) == size {
		out := make([]byte, size)
		copy(out, secret)
		return out
	}
	switch size {
	case 16, 24:
		sum := sha256.Sum256(secret)
		return sum[:size]
	default:
		sum := sha512.Sum512(secret)
		return sum[:size]
	}
}
