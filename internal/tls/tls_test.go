package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClientConfig(t *testing.T) {
	t.Parallel()

	cfg := ClientConfig("smtp.example.com")
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("server name: got %q", cfg.ServerName)
	}
	if cfg.MinVersion != stdtls.VersionTLS12 {
		t.Errorf("min version: got %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.InsecureSkipVerify {
		t.Error("verification must not be disabled")
	}
}

func TestClientConfigWithCA(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, caPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ClientConfigWithCA("smtp.example.com", path)
	if err != nil {
		t.Fatalf("ClientConfigWithCA: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("expected a private root pool")
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("server name: got %q", cfg.ServerName)
	}
}

func TestClientConfigWithCA_EmptyPath(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfigWithCA("smtp.example.com", "")
	if err != nil {
		t.Fatalf("ClientConfigWithCA: %v", err)
	}
	if cfg.RootCAs != nil {
		t.Error("empty path must fall back to the system trust store")
	}
}

func TestClientConfigWithCA_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := ClientConfigWithCA("smtp.example.com", filepath.Join(t.TempDir(), "nope.pem")); err == nil {
		t.Fatal("expected an error for a missing CA file")
	}
}

func TestClientConfigWithCA_BadPEM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ClientConfigWithCA("smtp.example.com", path); err == nil {
		t.Fatal("expected an error for a PEM file without certificates")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("certificate chain is empty")
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}

	if parsed.Subject.CommonName != "localhost" {
		t.Errorf("common name: got %q", parsed.Subject.CommonName)
	}
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Errorf("hostname localhost: %v", err)
	}
	if err := parsed.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("hostname 127.0.0.1: %v", err)
	}
	if time.Now().After(parsed.NotAfter) || time.Now().Before(parsed.NotBefore) {
		t.Error("certificate is not currently valid")
	}
}
