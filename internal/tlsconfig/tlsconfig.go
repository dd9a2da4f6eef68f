// Package tlsconfig builds client TLS configurations from PEM files.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ErrIncompleteKeyPair is returned when only one of the client certificate and key is set.
var ErrIncompleteKeyPair = errors.New("both TLS cert and key files must be provided for mTLS")

// Files names the PEM files of a client TLS setup. Every field is optional.
type Files struct {
	// CAFile replaces the system roots for server verification.
	CAFile string
	// CertFile and KeyFile enable mTLS and must be set together.
	CertFile string
	KeyFile  string
	// ServerName overrides the name verified against the server certificate.
	ServerName string
	// InsecureSkipVerify disables server verification. Tests only.
	InsecureSkipVerify bool
}

// Client returns a TLS 1.2+ client configuration for f.
func (f Files) Client() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         f.ServerName,
		InsecureSkipVerify: f.InsecureSkipVerify, // #nosec G402
	}

	if f.CAFile != "" {
		pemData, err := os.ReadFile(f.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	if (f.CertFile == "") != (f.KeyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if f.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
