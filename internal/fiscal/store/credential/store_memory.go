package credential

import (
	"context"
	"sync"
	"time"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// InMemoryStore keeps credential records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.CredentialRecord
}

// New constructs an empty in-memory credential record store.
func New() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.CredentialRecord)}
}

func (s *InMemoryStore) Put(_ context.Context, rec *models.CredentialRecord) error {
	if rec == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "credential record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CredentialRecord, 0, len(s.records))
	for _, rec := range s.records {
		copied := rec
		out = append(out, &copied)
	}
	return out, nil
}

func (s *InMemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "credential %q not registered", id)
	}
	rec.Active = active
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
	return nil
}
