// Package tlsconf builds server-side TLS configuration from the
// certificate/key/root-certificate material in a socket's configuration
// (§6 "Wire": "a root certificate implies required mutual authentication").
// Treated as an external-collaborator concern (§1), implemented on the
// standard library since no example repo wraps TLS bundle loading in a
// third-party library — grpc/credentials itself expects a stdlib
// *tls.Config.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"google.golang.org/grpc/credentials"

	"github.com/DmitroKihtenko/cap-grpc/internal/config"
	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// Credentials builds grpc transport credentials for one socket. Returns
// nil, nil for a plaintext socket (no certificates configured).
func Credentials(cert *config.CertificatesConfig) (credentials.TransportCredentials, error) {
	if cert == nil {
		return nil, nil
	}

	keyPair, err := tls.LoadX509KeyPair(cert.Certificate, cert.KeyFile)
	if err != nil {
		return nil, mockerr.New(mockerr.KindConfigLoad, "LoadX509KeyPair", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{keyPair}}

	if cert.RootCertificate != "" {
		rootPEM, err := os.ReadFile(cert.RootCertificate)
		if err != nil {
			return nil, mockerr.New(mockerr.KindConfigLoad, "ReadRootCertificate", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(rootPEM) {
			return nil, mockerr.Newf(mockerr.KindConfigLoad, "ReadRootCertificate", "no certificates found in %q", cert.RootCertificate)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(tlsCfg), nil
}
