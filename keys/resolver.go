package keys

import (
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/arvolo/claimgate"
)

// Configuration key suffixes looked up under the resolver's prefix.
const (
	settingCertFilename = "X509Certificate.Filename"
	settingCertPassword = "X509Certificate.Password"
	settingCertSubject  = "X509Certificate.Subject"
	settingCertSKI      = "X509Certificate.SubjectKeyIdentifier"
	settingCertDN       = "X509Certificate.SubjectDistinguishedName"
	settingCertSerial   = "X509Certificate.SerialNumber"
	settingCertStores   = "X509Certificate.StorePaths"
	settingSymKey       = "Symmetric.Key"
	settingSymSigAlg    = "Symmetric.SignatureAlgorithm"
	settingSymKeyID     = "Symmetric.KeyIdentifier"
	settingSymWrapAlg   = "Symmetric.Algorithm"
)

// defaultStorePaths stands in for the platform certificate stores: PEM
// bundles dropped into these directories are searched by the store tier.
var defaultStorePaths = []string{"/etc/ssl/certs"}

// Resolver holds the outcome of the one-time key resolution for a
// configuration prefix such as "Jwt.Signing.". Construct once at startup and
// share; the resolved material never changes afterwards.
type Resolver struct {
	key        *SecurityKey
	signing    *SigningCredentials
	encrypting *EncryptingCredentials
	log        logr.Logger
}

// NewResolver resolves key material for the given prefix. Source order is
// fixed: certificate file, certificate store, symmetric secret. The first
// source that yields a usable key wins. Failures are logged on log and never
// returned; check [Resolver.Resolved] for the outcome.
func NewResolver(settings claimgate.Settings, prefix string, log logr.Logger) *Resolver {
	r := &Resolver{log: resolveLogger(log).WithValues("prefix", prefix)}
	r.resolve(settings, prefix)
	return r
}

func resolveLogger(log logr.Logger) logr.Logger {
	if log.GetSink() == nil {
		return logr.Discard()
	}
	return log
}

func (r *Resolver) resolve(settings claimgate.Settings, prefix string) {
	if r.fromCertificateFile(settings, prefix) {
		return
	}
	if r.fromCertificateStore(settings, prefix) {
		return
	}
	r.fromSymmetric(settings, prefix)
}

func (r *Resolver) fromCertificateFile(settings claimgate.Settings, prefix string) bool {
	filename, ok := settings.Get(prefix + settingCertFilename)
	if !ok {
		return false
	}
	password, _ := settings.Get(prefix + settingCertPassword)

	id, err := loadCertificateFile(filename, password)
	if err != nil {
		r.log.Error(err, "certificate file source unavailable", "filename", filename)
		return false
	}
	return r.adoptCertificate(id)
}

func (r *Resolver) fromCertificateStore(settings claimgate.Settings, prefix string) bool {
	criteria := storeCriteria{}
	criteria.subject, _ = settings.Get(prefix + settingCertSubject)
	criteria.subjectKeyID, _ = settings.Get(prefix + settingCertSKI)
	criteria.distinguishedName, _ = settings.Get(prefix + settingCertDN)
	criteria.serialNumber, _ = settings.Get(prefix + settingCertSerial)
	if !criteria.configured() {
		return false
	}

	dirs := defaultStorePaths
	if raw, ok := settings.Get(prefix + settingCertStores); ok {
		dirs = splitPaths(raw)
	}

	id, err := searchCertificateStores(dirs, criteria, time.Now())
	if err != nil {
		r.log.Error(err, "certificate store source unavailable")
		return false
	}
	return r.adoptCertificate(id)
}

func (r *Resolver) adoptCertificate(id *certIdentity) bool {
	alg, ok := signatureAlgorithmFor(id.signer)
	if !ok {
		r.log.Info("certificate key type unsupported for signing, skipping source",
			"subject", id.cert.Subject.String())
		return false
	}

	key := newCertificateKey(id.cert, id.signer)
	r.key = key
	r.signing = &SigningCredentials{Key: key, Algorithm: alg}
	if alg == AlgRS256 {
		r.encrypting = &EncryptingCredentials{
			Key:               key,
			KeyWrapAlgorithm:  WrapRSAOAEP256,
			ContentEncryption: DefaultContentEncryption,
		}
	}
	return true
}

func (r *Resolver) fromSymmetric(settings claimgate.Settings, prefix string) {
	secret, ok := settings.Get(prefix + settingSymKey)
	if !ok {
		return
	}

	cfg := symmetricConfig{secret: secret}
	cfg.signatureAlgorithm, _ = settings.Get(prefix + settingSymSigAlg)
	cfg.keyWrapAlgorithm, _ = settings.Get(prefix + settingSymWrapAlg)
	cfg.keyIdentifier, _ = settings.Get(prefix + settingSymKeyID)

	key, signing, encrypting, err := buildSymmetric(cfg)
	if err != nil {
		// Last tier: nothing to fall through to, resolution ends keyless.
		r.log.Error(err, "symmetric key construction failed")
		return
	}
	r.key = key
	r.signing = signing
	r.encrypting = encrypting
}

// Resolved reports whether any source yielded a key.
func (r *Resolver) Resolved() bool { return r.key != nil }

// Key returns the resolved key, or nil when resolution found none.
func (r *Resolver) Key() *SecurityKey { return r.key }

// SigningCredentials returns ready-to-use signing credentials, or nil.
func (r *Resolver) SigningCredentials() *SigningCredentials { return r.signing }

// EncryptingCredentials returns ready-to-use encrypting credentials, or nil
// when no encryption was configured or resolved.
func (r *Resolver) EncryptingCredentials() *EncryptingCredentials { return r.encrypting }

func splitPaths(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
