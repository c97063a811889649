package device

import (
	"context"
	"sync"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

type key struct {
	premise string
	device  string
}

// InMemoryStore keeps POS device configuration in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	devices map[key]models.PosDevice
}

// New constructs an empty in-memory device store.
func New() *InMemoryStore {
	return &InMemoryStore{devices: make(map[key]models.PosDevice)}
}

func (s *InMemoryStore) Get(_ context.Context, premise, device string) (*models.PosDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.devices[key{premise: premise, device: device}]; ok {
		return &d, nil
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "device %s/%s not registered", premise, device)
}

func (s *InMemoryStore) Put(_ context.Context, d *models.PosDevice) error {
	if d == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "device is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[key{premise: d.PremiseCode, device: d.DeviceCode}] = *d
	return nil
}
