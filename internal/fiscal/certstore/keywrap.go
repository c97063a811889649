package certstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	dErrors "fiskal/pkg/domain-errors"
)

const (
	wrapSaltLen    = 16
	wrapIterations = 210_000
	wrapKeyLen     = 32
)

// KeyWrapper encrypts credential bundles for storage. Bundles are decrypted
// only inside this package; the rest of the pipeline never sees key material
// at rest.
type KeyWrapper struct {
	master []byte
}

// NewKeyWrapper derives the wrapper from the configured master passphrase.
func NewKeyWrapper(master string) (*KeyWrapper, error) {
	if master == "" {
		return nil, fmt.Errorf("credential master key is required")
	}
	return &KeyWrapper{master: []byte(master)}, nil
}

// Seal encrypts plaintext with AES-256-GCM under a PBKDF2-derived key.
// Output layout: salt || nonce || ciphertext.
func (w *KeyWrapper) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, wrapSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := w.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a sealed bundle.
func (w *KeyWrapper) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < wrapSaltLen {
		return nil, dErrors.New(dErrors.CodeCertificateInvalid, "sealed bundle too short")
	}
	salt, rest := sealed[:wrapSaltLen], sealed[wrapSaltLen:]

	gcm, err := w.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, dErrors.New(dErrors.CodeCertificateInvalid, "sealed bundle too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCertificateInvalid, "decrypt stored bundle")
	}
	return plaintext, nil
}

func (w *KeyWrapper) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(w.master, salt, wrapIterations, wrapKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
