// Package handshake drives one DTLS server session per client through
// in-memory buffers instead of a socket, so the engine can feed it datagrams
// and drain ciphertext and decrypted SCTP packets on its own schedule.
package handshake

import (
	"crypto"
	_ "crypto/sha256" // registers crypto.SHA256 for the fingerprint helper
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Certificate is the engine's DTLS identity and the fingerprint advertised
// in SDP answers.
type Certificate struct {
	TLS tls.Certificate
	// Fingerprint is the SHA-256 digest of the DER certificate as uppercase,
	// colon-separated hex.
	Fingerprint string
}

// GenerateCertificate creates a fresh self-signed certificate.
func GenerateCertificate() (*Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("failed to generate certificate: empty chain")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	fp, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint certificate: %w", err)
	}

	return &Certificate{TLS: cert, Fingerprint: strings.ToUpper(fp)}, nil
}
