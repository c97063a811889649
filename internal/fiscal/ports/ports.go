// Package ports declares the storage interfaces the pipeline consumes.
// Implementations live under internal/fiscal/store.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
)

// ReceiptStore persists fiscal receipts. Records persist indefinitely for
// audit; Update never touches Sequence or IssuedAt.
type ReceiptStore interface {
	Create(ctx context.Context, r *models.FiscalReceipt) error
	Get(ctx context.Context, id uuid.UUID) (*models.FiscalReceipt, error)
	Update(ctx context.Context, r *models.FiscalReceipt) error

	// LastSequence returns the highest accepted sequence number for a
	// device, zero when the device has no receipts.
	LastSequence(ctx context.Context, premise, device string) (uint64, error)
}

// RetryQueueStore persists retry queue entries keyed by receipt ID.
type RetryQueueStore interface {
	Upsert(ctx context.Context, e *models.RetryQueueEntry) error
	Get(ctx context.Context, receiptID uuid.UUID) (*models.RetryQueueEntry, error)
	Remove(ctx context.Context, receiptID uuid.UUID) error
	MarkExhausted(ctx context.Context, receiptID uuid.UUID) error

	// ListDue returns non-exhausted entries whose NextAttemptAt is at or
	// before now, oldest first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.RetryQueueEntry, error)

	// List returns all entries, optionally including exhausted ones.
	List(ctx context.Context, includeExhausted bool) ([]*models.RetryQueueEntry, error)
}

// DeviceStore reads registered POS device configuration.
type DeviceStore interface {
	Get(ctx context.Context, premise, device string) (*models.PosDevice, error)
	Put(ctx context.Context, d *models.PosDevice) error
}
