package certstore

import (
	"crypto/rsa"
	"errors"
	"sync"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	dErrors "fiskal/pkg/domain-errors"
)

// Sentinel parse failures. Handlers and the lifecycle manager branch on
// these; dErrors codes carry them to the HTTP surface.
var (
	ErrInvalidPassword    = errors.New("certstore: incorrect bundle password")
	ErrNoPrivateKey       = errors.New("certstore: bundle has no usable private key")
	ErrNoCertificate      = errors.New("certstore: bundle has no certificate")
	ErrMalformedContainer = errors.New("certstore: malformed PKCS#12 container")
)

// Store caches parsed credentials for the process lifetime, keyed by
// credential ID. Credentials are immutable after load; concurrent readers
// never block each other.
type Store struct {
	mu    sync.RWMutex
	creds map[string]*SigningCredential
}

// New constructs an empty credential store.
func New() *Store {
	return &Store{creds: make(map[string]*SigningCredential)}
}

// Load parses a PKCS#12 bundle and caches the result under id. Re-loading
// the same bytes is idempotent: the first successfully cached credential
// wins and is returned.
func (s *Store) Load(id string, bundle []byte, password string) (*SigningCredential, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential id is required")
	}

	s.mu.RLock()
	if cred, ok := s.creds[id]; ok {
		s.mu.RUnlock()
		return cred, nil
	}
	s.mu.RUnlock()

	cred, err := parseBundle(id, bundle, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.creds[id]; ok {
		return existing, nil
	}
	s.creds[id] = cred
	return cred, nil
}

// Get returns a previously loaded credential.
func (s *Store) Get(id string) (*SigningCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cred, ok := s.creds[id]; ok {
		return cred, nil
	}
	return nil, dErrors.Newf(dErrors.CodeCertificateNotFound, "credential %q not loaded", id)
}

// Evict removes a credential from the cache, for rotation where the stored
// bundle under an ID was replaced.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
}

// RequireValidAt is the expiry gate: it fails with CertificateExpired when
// t is outside the credential's validity window. Callers invoke it before
// any cryptographic operation.
func RequireValidAt(cred *SigningCredential, t time.Time) error {
	if cred == nil {
		return dErrors.New(dErrors.CodeCertificateNotFound, "credential is required")
	}
	if !cred.ValidAt(t) {
		return dErrors.Newf(dErrors.CodeCertificateExpired,
			"credential %q not valid at %s (window %s .. %s)",
			cred.ID, t.Format(time.RFC3339),
			cred.NotBefore.Format(time.RFC3339), cred.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func parseBundle(id string, bundle []byte, password string) (*SigningCredential, error) {
	if len(bundle) == 0 {
		return nil, dErrors.Wrap(ErrMalformedContainer, dErrors.CodeCertificateInvalid, "empty bundle")
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(bundle, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, dErrors.Wrap(ErrInvalidPassword, dErrors.CodeCertificateInvalid, "decrypt bundle")
		}
		return nil, dErrors.Wrap(ErrMalformedContainer, dErrors.CodeCertificateInvalid, err.Error())
	}
	if cert == nil {
		return nil, dErrors.Wrap(ErrNoCertificate, dErrors.CodeCertificateInvalid, "parse bundle")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, dErrors.Wrap(ErrNoPrivateKey, dErrors.CodeCertificateInvalid, "only RSA private keys are supported")
	}

	return &SigningCredential{
		ID:          id,
		PrivateKey:  rsaKey,
		Certificate: cert,
		CAChain:     caCerts,
		Issuer:      cert.Issuer.String(),
		Serial:      cert.SerialNumber.String(),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}, nil
}
