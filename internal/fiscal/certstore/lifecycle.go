package certstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/requestcontext"
)

// RecordStore persists credential records. Implementations live under
// internal/fiscal/store/credential.
type RecordStore interface {
	Put(ctx context.Context, rec *models.CredentialRecord) error
	Get(ctx context.Context, id string) (*models.CredentialRecord, error)
	List(ctx context.Context) ([]*models.CredentialRecord, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// Manager tracks registered credentials and selects the one current for new
// signing. Historical receipts keep the credential ID they were signed
// with; the manager never rewrites them.
type Manager struct {
	records RecordStore
	store   *Store
	wrapper *KeyWrapper
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs a credential lifecycle manager.
func NewManager(records RecordStore, store *Store, wrapper *KeyWrapper, opts ...ManagerOption) (*Manager, error) {
	if records == nil {
		return nil, fmt.Errorf("credential record store is required")
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if wrapper == nil {
		return nil, fmt.Errorf("key wrapper is required")
	}
	m := &Manager{records: records, store: store, wrapper: wrapper, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Register parses a PKCS#12 bundle, seals it, and persists the record as
// active. Registering under an existing ID replaces the stored bundle
// wholesale and evicts the cached parse.
func (m *Manager) Register(ctx context.Context, id string, bundle []byte, password string) (*SigningCredential, error) {
	cred, err := parseBundle(id, bundle, password)
	if err != nil {
		return nil, err
	}

	sealedBundle, err := m.wrapper.Seal(bundle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal credential bundle")
	}
	sealedPassword, err := m.wrapper.Seal([]byte(password))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal credential password")
	}

	now := requestcontext.Now(ctx)
	rec := &models.CredentialRecord{
		ID:             id,
		NotBefore:      cred.NotBefore,
		NotAfter:       cred.NotAfter,
		SealedBundle:   sealedBundle,
		SealedPassword: sealedPassword,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.records.Put(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist credential record")
	}

	m.store.Evict(id)
	if _, err := m.store.Load(id, bundle, password); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "credential registered",
		"credential_id", id,
		"not_before", cred.NotBefore,
		"not_after", cred.NotAfter,
	)
	return cred, nil
}

// Deactivate retires a credential from new-signing selection. The parsed
// credential stays cached so historical verification keeps working.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	if err := m.records.SetActive(ctx, id, false); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "deactivate credential")
	}
	m.logger.InfoContext(ctx, "credential deactivated", "credential_id", id)
	return nil
}

// ActiveFor selects the credential current for the device at the given
// instant: active, validity window covering at, latest NotBefore winning
// when rotation overlaps. No silent fallback to an expired credential; a
// miss is a hard stop.
func (m *Manager) ActiveFor(ctx context.Context, device models.PosDevice, at time.Time) (*SigningCredential, error) {
	recs, err := m.records.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list credential records")
	}

	var best *models.CredentialRecord
	for _, rec := range recs {
		if !rec.Active || at.Before(rec.NotBefore) || at.After(rec.NotAfter) {
			continue
		}
		if best == nil || rec.NotBefore.After(best.NotBefore) {
			best = rec
		}
	}
	if best == nil {
		return nil, dErrors.Newf(dErrors.CodeCertificateNotFound,
			"no active credential for device %s/%s at %s",
			device.PremiseCode, device.DeviceCode, at.Format(time.RFC3339))
	}

	return m.load(best)
}

// CredentialByID loads a specific registered credential, active or not.
// Retries and historical verification use the credential a receipt was
// originally signed with.
func (m *Manager) CredentialByID(ctx context.Context, id string) (*SigningCredential, error) {
	if cred, err := m.store.Get(id); err == nil {
		return cred, nil
	}
	rec, err := m.records.Get(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCertificateNotFound, "load credential record")
	}
	if rec == nil {
		return nil, dErrors.Newf(dErrors.CodeCertificateNotFound, "credential %q is not registered", id)
	}
	return m.load(rec)
}

func (m *Manager) load(rec *models.CredentialRecord) (*SigningCredential, error) {
	if cred, err := m.store.Get(rec.ID); err == nil {
		return cred, nil
	}
	bundle, err := m.wrapper.Open(rec.SealedBundle)
	if err != nil {
		return nil, err
	}
	password, err := m.wrapper.Open(rec.SealedPassword)
	if err != nil {
		return nil, err
	}
	return m.store.Load(rec.ID, bundle, string(password))
}
