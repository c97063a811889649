// Package certstore owns signing credential material: PKCS#12 parsing, the
// process-lifetime credential cache, validity checks, and credential
// lifecycle (rotation, active selection).
package certstore

import (
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"time"
)

// SigningCredential is one organization's fiscal identity. Immutable once
// parsed; rotation replaces the whole value, never mutates it.
type SigningCredential struct {
	ID          string
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	CAChain     []*x509.Certificate
	Issuer      string
	Serial      string
	NotBefore   time.Time
	NotAfter    time.Time
}

// TaxID extracts the issuer's tax identifier (OIB) from the certificate
// subject. National CA certificates carry it in the subject serial number
// as "HR<oib>"; older profiles put the bare OIB there.
func (c *SigningCredential) TaxID() string {
	sn := c.Certificate.Subject.SerialNumber
	return strings.TrimPrefix(sn, "HR")
}

// ValidAt reports whether the credential's validity window covers t.
func (c *SigningCredential) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}
