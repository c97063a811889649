package submit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	platformredis "fiskal/internal/platform/redis"
)

// ReceiptLocker serializes submission attempts per receipt. Two attempts
// for the same receipt must never run concurrently; attempts for different
// receipts are independent.
type ReceiptLocker interface {
	// TryAcquire claims the receipt, returning false when another attempt
	// holds it. Release must be called iff the claim succeeded.
	TryAcquire(ctx context.Context, receiptID uuid.UUID) (bool, error)
	Release(ctx context.Context, receiptID uuid.UUID) error
}

// MemoryLocker is the single-process locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

// NewMemoryLocker constructs an in-process receipt locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]struct{})}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, receiptID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[receiptID]; taken {
		return false, nil
	}
	l.held[receiptID] = struct{}{}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, receiptID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, receiptID)
	return nil
}

// RedisLocker serializes attempts across processes with SET NX claims.
// The TTL bounds how long a crashed holder blocks a receipt.
type RedisLocker struct {
	client *platformredis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed receipt locker.
func NewRedisLocker(client *platformredis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) key(receiptID uuid.UUID) string {
	return "fiskal:submit-lock:" + receiptID.String()
}

func (l *RedisLocker) TryAcquire(ctx context.Context, receiptID uuid.UUID) (bool, error) {
	return l.client.SetNX(ctx, l.key(receiptID), "1", l.ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, receiptID uuid.UUID) error {
	return l.client.Del(ctx, l.key(receiptID)).Err()
}
