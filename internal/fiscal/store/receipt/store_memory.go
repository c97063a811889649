package receipt

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

type deviceKey struct {
	premise string
	device  string
}

// InMemoryStore keeps receipts in process memory. Used by unit suites and
// single-node deployments without Postgres.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts map[uuid.UUID]models.FiscalReceipt
	lastSeq  map[deviceKey]uint64
}

// New constructs an empty in-memory receipt store.
func New() *InMemoryStore {
	return &InMemoryStore{
		receipts: make(map[uuid.UUID]models.FiscalReceipt),
		lastSeq:  make(map[deviceKey]uint64),
	}
}

// Create persists a new receipt and advances the device's sequence
// watermark. Out-of-order or duplicate sequence numbers are rejected, never
// silently accepted.
func (s *InMemoryStore) Create(_ context.Context, r *models.FiscalReceipt) error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "receipt is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.ID]; exists {
		return dErrors.Newf(dErrors.CodeBadRequest, "receipt %s already exists", r.ID)
	}
	key := deviceKey{premise: r.PremiseCode, device: r.DeviceCode}
	if r.Sequence <= s.lastSeq[key] {
		return dErrors.Newf(dErrors.CodeSequenceConflict,
			"sequence %d not greater than last accepted %d for device %s/%s",
			r.Sequence, s.lastSeq[key], r.PremiseCode, r.DeviceCode)
	}

	s.receipts[r.ID] = *r
	s.lastSeq[key] = r.Sequence
	return nil
}

// Get returns a copy of the stored receipt.
func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*models.FiscalReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "receipt %s not found", id)
	}
	return &r, nil
}

// Update persists mutable receipt fields. Sequence and issuance timestamp
// are immutable once assigned; the stored values win.
func (s *InMemoryStore) Update(_ context.Context, r *models.FiscalReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.receipts[r.ID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "receipt %s not found", r.ID)
	}
	r.Sequence = stored.Sequence
	r.IssuedAt = stored.IssuedAt
	s.receipts[r.ID] = *r
	return nil
}

// LastSequence returns the device's highest accepted sequence number.
func (s *InMemoryStore) LastSequence(_ context.Context, premise, device string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq[deviceKey{premise: premise, device: device}], nil
}
