package wsaa

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/keys"
	"github.com/go-faster/errors"
	"go.mozilla.org/pkcs7"
)

// Signer produces a DER encoded CMS SignedData with document attached,
// signed with the identity's key and certificate.
type Signer interface {
	Sign(ctx context.Context, id afip.Identity, document []byte) ([]byte, error)
}

// NativeSigner signs in-process.
type NativeSigner struct{}

func (NativeSigner) Sign(_ context.Context, id afip.Identity, document []byte) ([]byte, error) {
	cert, key, err := keys.LoadPair(id.CertificatePath, id.KeyPath, id.KeyPassword)
	if err != nil {
		return nil, err
	}

	sd, err := pkcs7.NewSignedData(document)
	if err != nil {
		return nil, errors.Wrap(err, "init signed data")
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, errors.Wrap(err, "add signer")
	}
	der, err := sd.Finish()
	if err != nil {
		return nil, errors.Wrap(err, "finish signed data")
	}
	return der, nil
}

// OpenSSLSigner runs `openssl cms -sign`. The document is written to a uniquely
// named temporary file that is removed before Sign returns.
type OpenSSLSigner struct {
	// Binary defaults to "openssl".
	Binary string
	// TempDir defaults to os.TempDir().
	TempDir string
}

func (s *OpenSSLSigner) Sign(ctx context.Context, id afip.Identity, document []byte) ([]byte, error) {
	bin := s.Binary
	if bin == "" {
		bin = "openssl"
	}

	f, err := os.CreateTemp(s.TempDir, "tra-*.xml")
	if err != nil {
		return nil, errors.Wrap(err, "create TRA file")
	}
	path := f.Name()
	logger.WithField("tra_path", path).Debug("Created temp file for TRA")

	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WithField("tra_path", path).Warnf("could not remove TRA file: %v", rmErr)
		}
	}()

	if _, err := f.Write(document); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write TRA file")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "close TRA file")
	}

	args := []string{
		"cms", "-sign", "-in", path,
		"-signer", id.CertificatePath, "-inkey", id.KeyPath,
		"-nodetach", "-outform", "der",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	if len(id.KeyPassword) > 0 {
		cmd.Args = append(cmd.Args, "-passin", "stdin")
		cmd.Stdin = bytes.NewReader(id.KeyPassword)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = "no diagnostic output"
		}
		return nil, errors.Errorf("%s cms -sign: %v: %s", bin, err, diag)
	}
	if stdout.Len() == 0 {
		return nil, errors.Errorf("%s cms -sign produced no output", bin)
	}
	return stdout.Bytes(), nil
}
