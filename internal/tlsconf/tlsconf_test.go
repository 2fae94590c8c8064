package tlsconf

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmitroKihtenko/cap-grpc/internal/config"
)

func writeSelfSignedCert(t *testing.T, dir, prefix string) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "cap-grpc-test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, prefix+"-cert.pem")
	keyPath = filepath.Join(dir, prefix+"-key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestCredentialsNilReturnsNil(t *testing.T) {
	creds, err := Credentials(nil)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestCredentialsLoadsKeyPair(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "server")

	creds, err := Credentials(&config.CertificatesConfig{Certificate: certPath, KeyFile: keyPath})
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)
}

func TestCredentialsWithRootCertificateRequiresClientAuth(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "server")
	rootPath, _ := writeSelfSignedCert(t, dir, "root")

	creds, err := Credentials(&config.CertificatesConfig{
		Certificate:     certPath,
		KeyFile:         keyPath,
		RootCertificate: rootPath,
	})
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "tls", creds.Info().SecurityProtocol)
}

func TestCredentialsMissingCertificateFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, keyPath := writeSelfSignedCert(t, dir, "server")

	_, err := Credentials(&config.CertificatesConfig{Certificate: filepath.Join(dir, "missing.pem"), KeyFile: keyPath})
	assert.Error(t, err)
}

func TestCredentialsMissingRootCertificateErrors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "server")

	_, err := Credentials(&config.CertificatesConfig{
		Certificate:     certPath,
		KeyFile:         keyPath,
		RootCertificate: filepath.Join(dir, "missing-root.pem"),
	})
	assert.Error(t, err)
}

func TestCredentialsInvalidRootCertificateContentErrors(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSignedCert(t, dir, "server")

	badRoot := filepath.Join(dir, "bad-root.pem")
	require.NoError(t, os.WriteFile(badRoot, []byte("not a cert"), 0o644))

	_, err := Credentials(&config.CertificatesConfig{
		Certificate:     certPath,
		KeyFile:         keyPath,
		RootCertificate: badRoot,
	})
	assert.Error(t, err)
}
