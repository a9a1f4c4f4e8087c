// Package tls builds the STARTTLS configuration for the SMTP listener, either
// from certificate files or from an in-memory self-signed certificate.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Mode reports where the certificate came from.
type Mode string

const (
	ModeFile       Mode = "file"
	ModeSelfSigned Mode = "self-signed"
)

// selfSignedValidity is the lifetime of generated certificates.
const selfSignedValidity = 365 * 24 * time.Hour

// GenerateSelfSignedCert generates an in-memory ECDSA P-256 self-signed
// certificate. The first host is the common name; every host becomes a SAN,
// as an IP address when it parses as one. localhost and 127.0.0.1 are
// always included.
func GenerateSelfSignedCert(hosts ...string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	hosts = append(hosts, "localhost", "127.0.0.1")
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: hosts[0]},
		NotBefore:             now,
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	addSANs(template, hosts)

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}
	return &cert, nil
}

func addSANs(template *x509.Certificate, hosts []string) {
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
}

// LoadOrGenerateTLS loads the key pair from certFile and keyFile, or
// generates a self-signed certificate for hostname when either path is
// empty. The returned config requires TLS 1.2 or later.
func LoadOrGenerateTLS(certFile, keyFile, hostname string) (*tls.Config, Mode, error) {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return serverConfig(cert), ModeFile, nil
	}

	var hosts []string
	if hostname != "" {
		hosts = append(hosts, hostname)
	}
	cert, err := GenerateSelfSignedCert(hosts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate self-signed cert: %w", err)
	}
	return serverConfig(*cert), ModeSelfSigned, nil
}

func serverConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}
