package wsaa

import (
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/go-afip-client/afip"
	"github.com/alapierre/go-afip-client/afip/keys/keystest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
)

var signedAt = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func identity(p keystest.Pair) afip.Identity {
	return afip.Identity{Cuit: "27239676931", CertificatePath: p.CertPath, KeyPath: p.KeyPath}
}

func TestNativeSigner_Sign(t *testing.T) {
	p := keystest.NewPair(t, t.TempDir(), "facturacion27239676931")
	doc := []byte("<loginTicketRequest/>")

	der, err := NativeSigner{}.Sign(context.Background(), identity(p), doc)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())
	assert.Equal(t, doc, p7.Content)
	require.Len(t, p7.Certificates, 1)
	assert.Equal(t, p.Cert.SerialNumber, p7.Certificates[0].SerialNumber)
}

func TestTicketSigner_Native(t *testing.T) {
	p := keystest.NewPair(t, t.TempDir(), "facturacion27239676931")
	ts := NewTicketSigner(NativeSigner{}, WithClock(clockwork.NewFakeClockAt(signedAt)))

	env, err := ts.Sign(context.Background(), identity(p))
	require.NoError(t, err)

	assert.Equal(t, "27239676931", env.Cuit)
	assert.NotContains(t, env.CMS, "\n")
	assert.NotContains(t, env.CMS, "\r")
	assert.Equal(t, signedAt.Unix(), env.Request.UniqueID)
	assert.Equal(t, signedAt.Add(TicketWindow), env.Request.ExpiresAt)

	der, err := base64.StdEncoding.DecodeString(env.CMS)
	require.NoError(t, err)
	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	assert.Contains(t, string(p7.Content), "<generationTime>2025-01-15T12:00:00.000Z</generationTime>")
	assert.Contains(t, string(p7.Content), "<expirationTime>2025-01-15T12:10:00.000Z</expirationTime>")
}

func TestTicketSigner_MismatchedPair(t *testing.T) {
	dir := t.TempDir()
	a := keystest.NewPair(t, dir, "a")
	b := keystest.NewPair(t, dir, "b")
	id := afip.Identity{Cuit: "27239676931", CertificatePath: a.CertPath, KeyPath: b.KeyPath}

	env, err := NewTicketSigner(NativeSigner{}).Sign(context.Background(), id)
	assert.Nil(t, env)
	assert.ErrorIs(t, err, afip.ErrSigningFailure)
	assert.Contains(t, err.Error(), "does not match")
}

func TestTicketSigner_MissingFiles(t *testing.T) {
	id := afip.Identity{Cuit: "27239676931", CertificatePath: "/nonexistent/a.crt", KeyPath: "/nonexistent/a.key"}

	env, err := NewTicketSigner(NativeSigner{}).Sign(context.Background(), id)
	assert.Nil(t, env)
	assert.ErrorIs(t, err, afip.ErrSigningFailure)
}

type emptySigner struct{}

func (emptySigner) Sign(context.Context, afip.Identity, []byte) ([]byte, error) { return nil, nil }

func TestTicketSigner_EmptyOutput(t *testing.T) {
	env, err := NewTicketSigner(emptySigner{}).Sign(context.Background(), afip.Identity{Cuit: "27239676931"})
	assert.Nil(t, env)
	assert.ErrorIs(t, err, afip.ErrSigningFailure)
}

func requireOpenSSL(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("openssl")
	if err != nil {
		t.Skip("openssl not found on PATH - skipping")
	}
	return bin
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "transient TRA file left behind")
}

func TestOpenSSLSigner_Sign(t *testing.T) {
	bin := requireOpenSSL(t)
	p := keystest.NewPair(t, t.TempDir(), "facturacion27239676931")
	tmp := t.TempDir()

	ts := NewTicketSigner(&OpenSSLSigner{Binary: bin, TempDir: tmp}, WithClock(clockwork.NewFakeClockAt(signedAt)))
	env, err := ts.Sign(context.Background(), identity(p))
	require.NoError(t, err)
	assertEmptyDir(t, tmp)

	der, err := base64.StdEncoding.DecodeString(env.CMS)
	require.NoError(t, err)
	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	require.NoError(t, p7.Verify())
	assert.Contains(t, string(p7.Content), "<uniqueId>1736942400</uniqueId>")
}

func TestOpenSSLSigner_EncryptedKey(t *testing.T) {
	bin := requireOpenSSL(t)
	dir := t.TempDir()
	p := keystest.NewPair(t, dir, "enc")
	keyPath := keystest.WriteEncryptedKey(t, dir, "enc-pkcs8.key", p.Key, []byte("alamakota"))
	tmp := t.TempDir()

	id := afip.Identity{Cuit: "27239676931", CertificatePath: p.CertPath, KeyPath: keyPath, KeyPassword: []byte("alamakota")}
	env, err := NewTicketSigner(&OpenSSLSigner{Binary: bin, TempDir: tmp}).Sign(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, env.CMS)
	assertEmptyDir(t, tmp)
}

func TestOpenSSLSigner_MismatchedPair(t *testing.T) {
	bin := requireOpenSSL(t)
	dir := t.TempDir()
	a := keystest.NewPair(t, dir, "a")
	b := keystest.NewPair(t, dir, "b")
	tmp := t.TempDir()

	id := afip.Identity{Cuit: "27239676931", CertificatePath: a.CertPath, KeyPath: b.KeyPath}
	env, err := NewTicketSigner(&OpenSSLSigner{Binary: bin, TempDir: tmp}).Sign(context.Background(), id)
	assert.Nil(t, env)
	require.ErrorIs(t, err, afip.ErrSigningFailure)
	assert.Contains(t, err.Error(), "cms -sign")
	assertEmptyDir(t, tmp)
}

func TestOpenSSLSigner_FailingToolCleansUp(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not found on PATH - skipping")
	}
	tmp := t.TempDir()

	_, err = (&OpenSSLSigner{Binary: bin, TempDir: tmp}).Sign(context.Background(), afip.Identity{}, []byte("<x/>"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no diagnostic output"))
	assertEmptyDir(t, tmp)
}

func TestOpenSSLSigner_ConcurrentCallsUseOwnFiles(t *testing.T) {
	bin := requireOpenSSL(t)
	p := keystest.NewPair(t, t.TempDir(), "facturacion27239676931")
	tmp := t.TempDir()
	s := &OpenSSLSigner{Binary: bin, TempDir: tmp}

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := NewTicketSigner(s).Sign(context.Background(), identity(p))
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
	assertEmptyDir(t, tmp)
}
