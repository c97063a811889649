package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// TestCredential is a freshly generated signing identity for tests: a
// self-signed certificate over a new RSA key, packaged as PKCS#12.
type TestCredential struct {
	Key      *rsa.PrivateKey
	Cert     *x509.Certificate
	Bundle   []byte
	Password string
	TaxID    string
}

// NewSigningBundle generates a signing identity whose certificate subject
// serial carries the tax identifier in the national "HR<oib>" form.
func NewSigningBundle(t *testing.T, taxID string, notBefore, notAfter time.Time) *TestCredential {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "TEST OBRT " + taxID,
			SerialNumber: "HR" + taxID,
			Organization: []string{"Test Obrt d.o.o."},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	const password = "test-bundle-password"
	bundle, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)

	return &TestCredential{
		Key:      key,
		Cert:     cert,
		Bundle:   bundle,
		Password: password,
		TaxID:    taxID,
	}
}
