package retryqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// PostgresStore persists retry queue entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed retry queue store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, e *models.RetryQueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (
			id, receipt_id, attempt_count, next_attempt_at, last_error,
			exhausted, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (receipt_id) DO UPDATE SET
			attempt_count = $3, next_attempt_at = $4, last_error = $5,
			exhausted = $6, updated_at = $8`,
		e.ID, e.ReceiptID, e.AttemptCount, e.NextAttemptAt, e.LastError,
		e.Exhausted, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert retry entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, receiptID uuid.UUID) (*models.RetryQueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_id, attempt_count, next_attempt_at, last_error,
		       exhausted, created_at, updated_at
		FROM retry_queue WHERE receipt_id = $1`, receiptID)

	var e models.RetryQueueEntry
	err := row.Scan(&e.ID, &e.ReceiptID, &e.AttemptCount, &e.NextAttemptAt,
		&e.LastError, &e.Exhausted, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retry entry: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) Remove(ctx context.Context, receiptID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE receipt_id = $1`, receiptID); err != nil {
		return fmt.Errorf("remove retry entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkExhausted(ctx context.Context, receiptID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retry_queue SET exhausted = TRUE, updated_at = NOW()
		WHERE receipt_id = $1`, receiptID)
	if err != nil {
		return fmt.Errorf("mark retry entry exhausted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark retry entry exhausted: %w", err)
	}
	if n == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "retry entry for receipt %s not found", receiptID)
	}
	return nil
}

// ListDue claims due entries with SKIP LOCKED semantics left to the
// per-receipt locker; the ordering here only fixes scan priority.
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.RetryQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_id, attempt_count, next_attempt_at, last_error,
		       exhausted, created_at, updated_at
		FROM retry_queue
		WHERE exhausted = FALSE AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retry entries: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PostgresStore) List(ctx context.Context, includeExhausted bool) ([]*models.RetryQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_id, attempt_count, next_attempt_at, last_error,
		       exhausted, created_at, updated_at
		FROM retry_queue
		WHERE exhausted = FALSE OR $1
		ORDER BY next_attempt_at ASC`, includeExhausted)
	if err != nil {
		return nil, fmt.Errorf("list retry entries: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*models.RetryQueueEntry, error) {
	var out []*models.RetryQueueEntry
	for rows.Next() {
		var e models.RetryQueueEntry
		if err := rows.Scan(&e.ID, &e.ReceiptID, &e.AttemptCount, &e.NextAttemptAt,
			&e.LastError, &e.Exhausted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
