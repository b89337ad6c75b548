package session

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
)

const certValidity = 365 * 24 * time.Hour

// mtlsBundle is the set of files generated for a session's mTLS mount, per
// spec.md section 4.5: a CA, a leaf server cert, and its RSA key.
type mtlsBundle struct {
	dir string
}

// generateMTLSBundle writes ca.crt/server.crt/server.key 0600 under
// <certBase>/<sessionID>, either real certs signed by a fresh CA or
// textual placeholders when placeholderMode is set. On any error,
// partial files are removed before the error is returned — standard
// library x509/rsa is the right tool for certificate issuance here; no
// pack dependency does this more idiomatically (see DESIGN.md).
func generateMTLSBundle(certBase, sessionID string, placeholderMode bool) (*mtlsBundle, *store.MTLSCertRef, error) {
	dir := filepath.Join(certBase, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, "creating cert directory", err)
	}

	caPath := filepath.Join(dir, "ca.crt")
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	if placeholderMode {
		if err := writePlaceholders(caPath, certPath, keyPath); err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return &mtlsBundle{dir: dir}, &store.MTLSCertRef{
			Kind: "placeholder", CAPath: caPath, CertPath: certPath, KeyPath: keyPath,
		}, nil
	}

	if err := writeRealBundle(caPath, certPath, keyPath); err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}

	return &mtlsBundle{dir: dir}, &store.MTLSCertRef{
		Kind: "file-bundle", CAPath: caPath, CertPath: certPath, KeyPath: keyPath,
	}, nil
}

func writePlaceholders(caPath, certPath, keyPath string) error {
	for _, p := range []string{caPath, certPath, keyPath} {
		if err := os.WriteFile(p, []byte("placeholder\n"), 0o600); err != nil {
			return errs.Wrap(errs.KindInternal, "writing placeholder cert file", err)
		}
	}
	return nil
}

func writeRealBundle(caPath, certPath, keyPath string) error {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "generating CA key", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mcp-fleet session CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(certValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "creating CA certificate", err)
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "generating leaf key", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "mcp-fleet session"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caTemplate, &leafKey.PublicKey, caKey)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "creating leaf certificate", err)
	}

	if err := writePEM(caPath, "CERTIFICATE", caDER); err != nil {
		return err
	}
	if err := writePEM(certPath, "CERTIFICATE", leafDER); err != nil {
		return err
	}
	keyDER := x509.MarshalPKCS1PrivateKey(leafKey)
	if err := writePEM(keyPath, "RSA PRIVATE KEY", keyDER); err != nil {
		return err
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "opening cert file", err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
