package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/go-faster/errors"
	"github.com/youmark/pkcs8"
)

// ErrKeyMismatch means the certificate was not issued for the given private key.
var ErrKeyMismatch = errors.New("certificate public key does not match private key")

// LoadSignerFromFile ładuje klucz prywatny z pliku PEM i zwraca crypto.Signer.
func LoadSignerFromFile(path string, password []byte) (crypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return LoadSignerFromPEM(b, password)
}

// LoadSignerFromPEM accepts the first private key block found: PKCS#1 ("RSA PRIVATE KEY"),
// SEC 1 ("EC PRIVATE KEY"), PKCS#8 ("PRIVATE KEY") or encrypted PKCS#8.
func LoadSignerFromPEM(pemBytes []byte, password []byte) (crypto.Signer, error) {
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}

		var (
			keyAny any
			err    error
		)
		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(password) == 0 {
				return nil, errors.New("password is required for ENCRYPTED PRIVATE KEY")
			}
			keyAny, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
			if err != nil {
				return nil, errors.Wrap(err, "decrypt PKCS#8 encrypted private key")
			}
		case "PRIVATE KEY":
			keyAny, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(err, "parse PKCS#8 private key")
			}
		case "RSA PRIVATE KEY":
			keyAny, err = x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(err, "parse PKCS#1 private key")
			}
		case "EC PRIVATE KEY":
			keyAny, err = x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(err, "parse EC private key")
			}
		default:
			continue
		}

		switch k := keyAny.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, errors.Errorf("unsupported key type: %T (expected RSA or ECDSA)", keyAny)
		}
	}

	return nil, errors.New("no private key block found in PEM")
}

func LoadCertificateFromFile(path string) (*x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cert file")
	}
	return LoadCertificate(b)
}

// LoadCertificate parses a PEM or DER encoded X.509 certificate.
func LoadCertificate(certBytes []byte) (*x509.Certificate, error) {
	// PEM?
	if block, _ := pem.Decode(certBytes); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, errors.Errorf("unexpected PEM block: %s", block.Type)
		}
		certBytes = block.Bytes
	}

	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse x509")
	}
	return cert, nil
}

type publicKeyEqualer interface {
	Equal(x crypto.PublicKey) bool
}

// CheckPair verifies that cert carries the public half of key.
func CheckPair(cert *x509.Certificate, key crypto.Signer) error {
	pub, ok := key.Public().(publicKeyEqualer)
	if !ok {
		return errors.Errorf("unsupported public key type: %T", key.Public())
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

// LoadPair loads a certificate and its private key and checks that they belong together.
func LoadPair(certPath, keyPath string, password []byte) (*x509.Certificate, crypto.Signer, error) {
	cert, err := LoadCertificateFromFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	key, err := LoadSignerFromFile(keyPath, password)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckPair(cert, key); err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}
