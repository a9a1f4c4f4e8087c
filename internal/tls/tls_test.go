package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func leafOf(t *testing.T, cert *standardtls.Certificate) *x509.Certificate {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return leaf
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf := leafOf(t, cert)

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if !slices.Contains(leaf.DNSNames, "localhost") {
		t.Errorf("DNS SANs: %v does not contain localhost", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("IP SANs: got %v, want [127.0.0.1]", leaf.IPAddresses)
	}

	validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
	expectedDuration := 365 * 24 * time.Hour
	if validDuration < expectedDuration-time.Hour || validDuration > expectedDuration+time.Hour {
		t.Errorf("validity duration: got %v, want approximately %v", validDuration, expectedDuration)
	}

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if ecKey.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
	}
	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("issuer CN %q does not match subject CN %q", leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}
}

func TestGenerateSelfSignedCert_Hosts(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("mail.example.com", "10.0.0.5", "localhost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf := leafOf(t, cert)

	if leaf.Subject.CommonName != "mail.example.com" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "mail.example.com")
	}
	if want := []string{"mail.example.com", "localhost"}; !slices.Equal(leaf.DNSNames, want) {
		t.Errorf("DNS SANs: got %v, want %v", leaf.DNSNames, want)
	}
	if len(leaf.IPAddresses) != 2 {
		t.Errorf("IP SANs: got %v, want 10.0.0.5 and 127.0.0.1", leaf.IPAddresses)
	}
}

func TestLoadOrGenerateTLS_SelfSigned(t *testing.T) {
	t.Parallel()

	tlsConfig, mode, err := LoadOrGenerateTLS("", "", "mx.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != ModeSelfSigned {
		t.Errorf("mode: got %q, want %q", mode, ModeSelfSigned)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Fatalf("Certificates: got %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", tlsConfig.MinVersion, standardtls.VersionTLS12)
	}
	if cn := leafOf(t, &tlsConfig.Certificates[0]).Subject.CommonName; cn != "mx.test" {
		t.Errorf("CN: got %q, want %q", cn, "mx.test")
	}
}

func TestLoadOrGenerateTLS_FromFiles(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert("files.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("private key type %T, want *ecdsa.PrivateKey", cert.PrivateKey)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}

	tlsConfig, mode, err := LoadOrGenerateTLS(certFile, keyFile, "ignored.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode != ModeFile {
		t.Errorf("mode: got %q, want %q", mode, ModeFile)
	}
	if cn := leafOf(t, &tlsConfig.Certificates[0]).Subject.CommonName; cn != "files.test" {
		t.Errorf("CN: got %q, want certificate from file", cn)
	}
}

func TestLoadOrGenerateTLS_FileNotFound(t *testing.T) {
	t.Parallel()

	_, _, err := LoadOrGenerateTLS("/nonexistent/cert.pem", "/nonexistent/key.pem", "")
	if err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
}
