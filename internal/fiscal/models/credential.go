package models

import "time"

// CredentialRecord is the durable form of a registered signing credential.
// The PKCS#12 bundle and its password are sealed at rest; only the
// certificate store decrypts them.
type CredentialRecord struct {
	ID             string    `json:"id"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
	SealedBundle   []byte    `json:"-"`
	SealedPassword []byte    `json:"-"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
