package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/arvolo/claimgate"
)

// writeCertPEM generates a self-signed certificate plus key and writes both
// as PEM blocks into a single file, the shape the store tier scans for.
func writeCertPEM(t *testing.T, path, commonName string, notBefore, notAfter time.Time, useRSA bool) {
	t.Helper()

	var (
		pub     any
		keyDER  []byte
		signKey any
	)
	if useRSA {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate rsa key: %v", err)
		}
		pub, signKey = &key.PublicKey, key
		keyDER, err = x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("marshal key: %v", err)
		}
	} else {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("generate ec key: %v", err)
		}
		pub, signKey = &key.PublicKey, key
		keyDER, err = x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("marshal key: %v", err)
		}
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<60))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		SubjectKeyId: []byte(commonName),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, signKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		t.Fatalf("encode key: %v", err)
	}
}

func TestSymmetricOnlyResolvesWithDefaults(t *testing.T) {
	settings := claimgate.MapSettings{
		"Jwt.Signing.Symmetric.Key": "a fairly long shared secret value",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected symmetric resolution to succeed")
	}
	key := r.Key()
	if key.IsAsymmetric() || key.IsX509() {
		t.Fatalf("symmetric key mis-tagged: asymmetric=%v x509=%v", key.IsAsymmetric(), key.IsX509())
	}

	signing := r.SigningCredentials()
	if signing == nil || signing.Algorithm != AlgHS512 {
		t.Fatalf("expected default %s signing credentials, got %+v", AlgHS512, signing)
	}
	encrypting := r.EncryptingCredentials()
	if encrypting == nil {
		t.Fatal("expected encrypting credentials for symmetric tier")
	}
	if encrypting.KeyWrapAlgorithm != WrapA256KW || encrypting.ContentEncryption != EncA256CBCHS512 {
		t.Fatalf("unexpected encryption defaults: %+v", encrypting)
	}
	if len(encrypting.Key.Secret()) != 32 {
		t.Fatalf("expected 32-byte key-wrap key, got %d", len(encrypting.Key.Secret()))
	}
}

func TestSymmetricKeyIdentifierCarried(t *testing.T) {
	settings := claimgate.MapSettings{
		"Jwt.Signing.Symmetric.Key":           "secret",
		"Jwt.Signing.Symmetric.KeyIdentifier": "sym-1",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})
	if !r.Resolved() || r.Key().KeyID() != "sym-1" {
		t.Fatalf("expected key id sym-1, got %+v", r.Key())
	}
}

func TestSymmetricConstructionFailureYieldsNoKey(t *testing.T) {
	settings := claimgate.MapSettings{
		"Jwt.Signing.Symmetric.Key":                "secret",
		"Jwt.Signing.Symmetric.SignatureAlgorithm": "HS999",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})
	if r.Resolved() {
		t.Fatal("expected no key when symmetric construction fails")
	}
	if r.SigningCredentials() != nil || r.EncryptingCredentials() != nil {
		t.Fatal("expected nil credentials when resolution yields no key")
	}
}

func TestNothingConfiguredYieldsNoKey(t *testing.T) {
	r := NewResolver(claimgate.MapSettings{}, "Jwt.Signing.", logr.Logger{})
	if r.Resolved() {
		t.Fatal("expected no key with no sources configured")
	}
}

func TestCertificateFileWinsOverSymmetric(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "signing.pem")
	now := time.Now()
	writeCertPEM(t, certPath, "claimgate-signing", now.Add(-time.Hour), now.Add(24*time.Hour), false)

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.Filename": certPath,
		"Jwt.Signing.Symmetric.Key":            "fallback-secret",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected certificate file resolution")
	}
	key := r.Key()
	if !key.IsAsymmetric() || !key.IsX509() {
		t.Fatalf("certificate key mis-tagged: asymmetric=%v x509=%v", key.IsAsymmetric(), key.IsX509())
	}
	if r.SigningCredentials().Algorithm != AlgES256 {
		t.Fatalf("expected ES256 for P-256 key, got %s", r.SigningCredentials().Algorithm)
	}
	// EC keys cannot key-wrap with the supported algorithms.
	if r.EncryptingCredentials() != nil {
		t.Fatal("expected no encrypting credentials for an EC certificate")
	}
}

func TestRSACertificateGetsEncryptingCredentials(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "signing.pem")
	now := time.Now()
	writeCertPEM(t, certPath, "claimgate-rsa", now.Add(-time.Hour), now.Add(24*time.Hour), true)

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.Filename": certPath,
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() || r.SigningCredentials().Algorithm != AlgRS256 {
		t.Fatalf("expected RS256 resolution, got %+v", r.SigningCredentials())
	}
	encrypting := r.EncryptingCredentials()
	if encrypting == nil || encrypting.KeyWrapAlgorithm != WrapRSAOAEP256 {
		t.Fatalf("expected RSA-OAEP-256 encrypting credentials, got %+v", encrypting)
	}
}

func TestUnreadableCertificateFileFallsThrough(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(certPath, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.Filename": certPath,
		"Jwt.Signing.Symmetric.Key":            "fallback-secret",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected fall-through to symmetric")
	}
	if r.Key().IsAsymmetric() {
		t.Fatal("expected the symmetric fallback key")
	}
}

func TestStoreSearchPicksLatestNotBefore(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeCertPEM(t, filepath.Join(dir, "old.pem"), "store-match", now.Add(-48*time.Hour), now.Add(24*time.Hour), false)
	writeCertPEM(t, filepath.Join(dir, "new.pem"), "store-match", now.Add(-time.Hour), now.Add(24*time.Hour), false)
	// Expired despite the latest NotBefore: must be skipped.
	writeCertPEM(t, filepath.Join(dir, "expired.pem"), "store-match", now.Add(-30*time.Minute), now.Add(-time.Minute), false)
	// Different subject: never a candidate.
	writeCertPEM(t, filepath.Join(dir, "other.pem"), "unrelated", now.Add(-time.Minute), now.Add(24*time.Hour), false)

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.Subject":    "store-match",
		"Jwt.Signing.X509Certificate.StorePaths": dir,
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected store resolution")
	}
	cert := r.Key().Certificate()
	if cert == nil || !cert.NotBefore.After(now.Add(-2*time.Hour)) {
		t.Fatalf("expected the newest unexpired certificate, got NotBefore=%v", cert.NotBefore)
	}
}

func TestStoreSearchBySerialNumber(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeCertPEM(t, filepath.Join(dir, "serial.pem"), "by-serial", now.Add(-time.Hour), now.Add(24*time.Hour), false)

	data, err := os.ReadFile(filepath.Join(dir, "serial.pem"))
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	id, err := decodePEMIdentity(data)
	if err != nil {
		t.Fatalf("decode cert: %v", err)
	}

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.SerialNumber": id.cert.SerialNumber.Text(16),
		"Jwt.Signing.X509Certificate.StorePaths":   dir,
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})
	if !r.Resolved() {
		t.Fatal("expected serial-number store resolution")
	}
}

func TestStoreSearchBySubjectKeyIdentifier(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeCertPEM(t, filepath.Join(dir, "ski.pem"), "by-ski", now.Add(-time.Hour), now.Add(24*time.Hour), false)
	writeCertPEM(t, filepath.Join(dir, "decoy.pem"), "decoy", now.Add(-time.Minute), now.Add(24*time.Hour), false)

	// Configured SKIs arrive colon-delimited and upper-case; the lookup must
	// normalize both.
	raw := hex.EncodeToString([]byte("by-ski"))
	var delimited []string
	for i := 0; i < len(raw); i += 2 {
		delimited = append(delimited, strings.ToUpper(raw[i:i+2]))
	}

	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.SubjectKeyIdentifier": strings.Join(delimited, ":"),
		"Jwt.Signing.X509Certificate.StorePaths":           dir,
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected subject-key-identifier store resolution")
	}
	cert := r.Key().Certificate()
	if cert == nil || cert.Subject.CommonName != "by-ski" {
		t.Fatalf("wrong certificate selected: %+v", cert)
	}
}

func TestStoreSearchByDistinguishedName(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeCertPEM(t, filepath.Join(dir, "dn.pem"), "dn-match", now.Add(-time.Hour), now.Add(24*time.Hour), false)
	writeCertPEM(t, filepath.Join(dir, "decoy.pem"), "dn-match-longer", now.Add(-time.Minute), now.Add(24*time.Hour), false)

	settings := claimgate.MapSettings{
		// Full-DN compare is case-insensitive but exact: the decoy's longer
		// CN must not match.
		"Jwt.Signing.X509Certificate.SubjectDistinguishedName": "cn=DN-Match",
		"Jwt.Signing.X509Certificate.StorePaths":               dir,
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})

	if !r.Resolved() {
		t.Fatal("expected distinguished-name store resolution")
	}
	cert := r.Key().Certificate()
	if cert == nil || cert.Subject.CommonName != "dn-match" {
		t.Fatalf("wrong certificate selected: %+v", cert)
	}
}

func TestStoreMissFallsThroughToSymmetric(t *testing.T) {
	settings := claimgate.MapSettings{
		"Jwt.Signing.X509Certificate.Subject":    "nothing-matches-this",
		"Jwt.Signing.X509Certificate.StorePaths": t.TempDir(),
		"Jwt.Signing.Symmetric.Key":              "fallback-secret",
	}
	r := NewResolver(settings, "Jwt.Signing.", logr.Logger{})
	if !r.Resolved() || r.Key().IsAsymmetric() {
		t.Fatal("expected fall-through to the symmetric tier")
	}
}
