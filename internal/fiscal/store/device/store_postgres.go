package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// PostgresStore persists POS device configuration in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed device store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, premise, device string) (*models.PosDevice, error) {
	var d models.PosDevice
	err := s.db.QueryRowContext(ctx, `
		SELECT premise_code, device_code, active
		FROM pos_devices WHERE premise_code = $1 AND device_code = $2`,
		premise, device).Scan(&d.PremiseCode, &d.DeviceCode, &d.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "device %s/%s not registered", premise, device)
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) Put(ctx context.Context, d *models.PosDevice) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_devices (premise_code, device_code, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (premise_code, device_code) DO UPDATE SET active = $3`,
		d.PremiseCode, d.DeviceCode, d.Active); err != nil {
		return fmt.Errorf("put device: %w", err)
	}
	return nil
}
