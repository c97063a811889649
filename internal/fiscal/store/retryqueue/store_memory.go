package retryqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// InMemoryStore keeps retry entries in process memory, keyed by receipt ID.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]models.RetryQueueEntry
}

// New constructs an empty in-memory retry queue store.
func New() *InMemoryStore {
	return &InMemoryStore{entries: make(map[uuid.UUID]models.RetryQueueEntry)}
}

func (s *InMemoryStore) Upsert(_ context.Context, e *models.RetryQueueEntry) error {
	if e == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "retry entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ReceiptID] = *e
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, receiptID uuid.UUID) (*models.RetryQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[receiptID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *InMemoryStore) Remove(_ context.Context, receiptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, receiptID)
	return nil
}

func (s *InMemoryStore) MarkExhausted(_ context.Context, receiptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[receiptID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "retry entry for receipt %s not found", receiptID)
	}
	e.Exhausted = true
	e.UpdatedAt = time.Now()
	s.entries[receiptID] = e
	return nil
}

func (s *InMemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*models.RetryQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*models.RetryQueueEntry, 0)
	for _, e := range s.entries {
		if e.Exhausted || e.NextAttemptAt.After(now) {
			continue
		}
		copied := e
		due = append(due, &copied)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) List(_ context.Context, includeExhausted bool) ([]*models.RetryQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RetryQueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Exhausted && !includeExhausted {
			continue
		}
		copied := e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}
