package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// PostgresStore persists receipts in PostgreSQL. Tax and fee lines are
// stored as JSONB; the authority-facing arithmetic is validated before the
// row is written, not by the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed receipt store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.FiscalReceipt) error {
	taxLines, err := json.Marshal(r.TaxLines)
	if err != nil {
		return fmt.Errorf("encode tax lines: %w", err)
	}
	feeLines, err := json.Marshal(r.FeeLines)
	if err != nil {
		return fmt.Errorf("encode fee lines: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create receipt: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The watermark row serializes sequence allocation per device.
	var last uint64
	err = tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM device_sequences
		WHERE premise_code = $1 AND device_code = $2
		FOR UPDATE`, r.PremiseCode, r.DeviceCode).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		last = 0
	case err != nil:
		return fmt.Errorf("read sequence watermark: %w", err)
	}
	if r.Sequence <= last {
		return dErrors.Newf(dErrors.CodeSequenceConflict,
			"sequence %d not greater than last accepted %d for device %s/%s",
			r.Sequence, last, r.PremiseCode, r.DeviceCode)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device_sequences (premise_code, device_code, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (premise_code, device_code) DO UPDATE SET last_sequence = $3`,
		r.PremiseCode, r.DeviceCode, r.Sequence); err != nil {
		return fmt.Errorf("advance sequence watermark: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fiscal_receipts (
			id, credential_id, premise_code, device_code, sequence_number,
			issued_at, total, tax_lines, fee_lines, payment_method,
			protection_code, authority_id, state, rejection_code,
			rejection_message, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.CredentialID, r.PremiseCode, r.DeviceCode, r.Sequence,
		r.IssuedAt, r.Total.String(), taxLines, feeLines, string(r.PaymentMethod),
		r.ProtectionCode, nullString(r.AuthorityID), string(r.State),
		nullString(r.RejectionCode), nullString(r.RejectionMessage),
		r.CreatedAt, r.UpdatedAt); err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.FiscalReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, credential_id, premise_code, device_code, sequence_number,
		       issued_at, total, tax_lines, fee_lines, payment_method,
		       protection_code, authority_id, state, rejection_code,
		       rejection_message, created_at, updated_at
		FROM fiscal_receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "receipt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Update(ctx context.Context, r *models.FiscalReceipt) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fiscal_receipts SET
			protection_code = $2, authority_id = $3, state = $4,
			rejection_code = $5, rejection_message = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, r.ProtectionCode, nullString(r.AuthorityID), string(r.State),
		nullString(r.RejectionCode), nullString(r.RejectionMessage), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	if n == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "receipt %s not found", r.ID)
	}
	return nil
}

func (s *PostgresStore) LastSequence(ctx context.Context, premise, device string) (uint64, error) {
	var last uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM device_sequences
		WHERE premise_code = $1 AND device_code = $2`, premise, device).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence watermark: %w", err)
	}
	return last, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*models.FiscalReceipt, error) {
	var (
		r                     models.FiscalReceipt
		total, payment, state string
		taxLines, feeLines    []byte
		authorityID, rejCode  sql.NullString
		rejMessage            sql.NullString
	)
	if err := row.Scan(&r.ID, &r.CredentialID, &r.PremiseCode, &r.DeviceCode,
		&r.Sequence, &r.IssuedAt, &total, &taxLines, &feeLines, &payment,
		&r.ProtectionCode, &authorityID, &state, &rejCode, &rejMessage,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := r.Total.UnmarshalText([]byte(total)); err != nil {
		return nil, fmt.Errorf("decode total: %w", err)
	}
	if err := json.Unmarshal(taxLines, &r.TaxLines); err != nil {
		return nil, fmt.Errorf("decode tax lines: %w", err)
	}
	if len(feeLines) > 0 {
		if err := json.Unmarshal(feeLines, &r.FeeLines); err != nil {
			return nil, fmt.Errorf("decode fee lines: %w", err)
		}
	}
	r.PaymentMethod = models.PaymentMethod(payment)
	r.State = models.SubmissionState(state)
	r.AuthorityID = authorityID.String
	r.RejectionCode = rejCode.String
	r.RejectionMessage = rejMessage.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
