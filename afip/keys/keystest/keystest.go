// Package keystest generates throwaway certificates and keys for tests.
package keystest

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

	"github.com/youmark/pkcs8"
)

// Pair is a self-signed certificate and its key written to disk.
type Pair struct {
	Cert     *x509.Certificate
	Key      *rsa.PrivateKey
	CertPath string
	KeyPath  string
}

// NewPair writes "<name>.crt" and "<name>.key" (PKCS#1) into dir.
func NewPair(t testing.TB, dir, name string) Pair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   name,
			SerialNumber: "CUIT 27239676931",
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	p := Pair{
		Cert:     cert,
		Key:      key,
		CertPath: filepath.Join(dir, name+".crt"),
		KeyPath:  filepath.Join(dir, name+".key"),
	}
	write(t, p.CertPath, "CERTIFICATE", der)
	write(t, p.KeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	return p
}

// WriteEncryptedKey stores key as an encrypted PKCS#8 PEM file and returns its path.
func WriteEncryptedKey(t testing.TB, dir, name string, key *rsa.PrivateKey, password []byte) string {
	t.Helper()
	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	path := filepath.Join(dir, name)
	write(t, path, "ENCRYPTED PRIVATE KEY", der)
	return path
}

func write(t testing.TB, path, typ string, der []byte) {
	t.Helper()
	b := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
