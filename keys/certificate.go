package keys

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

var errNoPrivateKey = errors.New("certificate has no private key")

// certIdentity is one certificate candidate together with its private key.
type certIdentity struct {
	cert   *x509.Certificate
	signer crypto.Signer
}

// loadCertificateFile reads a certificate plus private key from path. PKCS#12
// is tried first (the configured password applies there); PEM files carrying
// CERTIFICATE and private-key blocks are accepted as well.
func loadCertificateFile(path, password string) (*certIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}

	if id, err := decodePKCS12(data, password); err == nil {
		return id, nil
	}

	id, err := decodePEMIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("decode certificate file %s: %w", filepath.Base(path), err)
	}
	return id, nil
}

func decodePKCS12(data []byte, password string) (*certIdentity, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, err
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, errNoPrivateKey
	}
	return &certIdentity{cert: cert, signer: signer}, nil
}

func decodePEMIdentity(data []byte) (*certIdentity, error) {
	var cert *x509.Certificate
	var signer crypto.Signer

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			if cert != nil {
				continue
			}
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, err
			}
			cert = parsed
		default:
			if signer != nil {
				continue
			}
			parsed, err := parsePrivateKey(block.Bytes)
			if err == nil {
				signer = parsed
			}
		}
	}

	if cert == nil {
		return nil, errors.New("no certificate block")
	}
	if signer == nil {
		return nil, errNoPrivateKey
	}
	return &certIdentity{cert: cert, signer: signer}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, errors.New("unsupported private key type")
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("unparsable private key")
}

// storeCriteria holds the configured certificate-store search attributes.
// At least one must be set for the store tier to be considered configured.
type storeCriteria struct {
	subject           string
	subjectKeyID      string
	distinguishedName string
	serialNumber      string
}

func (c storeCriteria) configured() bool {
	return c.subject != "" || c.subjectKeyID != "" || c.distinguishedName != "" || c.serialNumber != ""
}

func (c storeCriteria) matches(cert *x509.Certificate) bool {
	if c.subject != "" && strings.Contains(cert.Subject.String(), c.subject) {
		return true
	}
	if c.subjectKeyID != "" {
		want, err := hex.DecodeString(strings.ReplaceAll(c.subjectKeyID, ":", ""))
		if err == nil && len(want) > 0 && bytes.Equal(want, cert.SubjectKeyId) {
			return true
		}
	}
	if c.distinguishedName != "" && strings.EqualFold(cert.Subject.String(), c.distinguishedName) {
		return true
	}
	if c.serialNumber != "" && strings.EqualFold(strings.TrimLeft(c.serialNumber, "0"), cert.SerialNumber.Text(16)) {
		return true
	}
	return false
}

// searchCertificateStores walks every store directory, collects all matching
// certificates that carry a private key, and selects the not-yet-expired
// candidate with the latest NotBefore.
func searchCertificateStores(dirs []string, criteria storeCriteria, now time.Time) (*certIdentity, error) {
	var best *certIdentity

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			// Missing store directories are skipped, not fatal.
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			id, err := decodePEMIdentity(data)
			if err != nil {
				continue
			}
			if !criteria.matches(id.cert) {
				continue
			}
			if now.After(id.cert.NotAfter) {
				continue
			}
			if best == nil || id.cert.NotBefore.After(best.cert.NotBefore) {
				best = id
			}
		}
	}

	if best == nil {
		return nil, errors.New("no matching certificate in configured stores")
	}
	return best, nil
}
