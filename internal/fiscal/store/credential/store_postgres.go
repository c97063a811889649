package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// PostgresStore persists credential records in PostgreSQL. Bundle and
// password columns hold sealed bytes; decryption happens only in certstore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, rec *models.CredentialRecord) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_credentials (
			id, not_before, not_after, sealed_bundle, sealed_password,
			active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			not_before = $2, not_after = $3, sealed_bundle = $4,
			sealed_password = $5, active = $6, updated_at = $8`,
		rec.ID, rec.NotBefore, rec.NotAfter, rec.SealedBundle, rec.SealedPassword,
		rec.Active, rec.CreatedAt, rec.UpdatedAt); err != nil {
		return fmt.Errorf("put credential record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, not_before, not_after, sealed_bundle, sealed_password,
		       active, created_at, updated_at
		FROM signing_credentials WHERE id = $1`, id)

	var rec models.CredentialRecord
	err := row.Scan(&rec.ID, &rec.NotBefore, &rec.NotAfter, &rec.SealedBundle,
		&rec.SealedPassword, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential record: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, not_before, not_after, sealed_bundle, sealed_password,
		       active, created_at, updated_at
		FROM signing_credentials ORDER BY not_before ASC`)
	if err != nil {
		return nil, fmt.Errorf("list credential records: %w", err)
	}
	defer rows.Close()

	var out []*models.CredentialRecord
	for rows.Next() {
		var rec models.CredentialRecord
		if err := rows.Scan(&rec.ID, &rec.NotBefore, &rec.NotAfter, &rec.SealedBundle,
			&rec.SealedPassword, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signing_credentials SET active = $2, updated_at = NOW()
		WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	if n == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "credential %q not registered", id)
	}
	return nil
}
