//go:build integration

// Package containers manages shared testcontainers for integration tests.
// Containers are started once per test binary and reused across suites;
// Ryuk handles teardown.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const schema = `
CREATE TABLE IF NOT EXISTS pos_devices (
	premise_code TEXT NOT NULL,
	device_code  TEXT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (premise_code, device_code)
);

CREATE TABLE IF NOT EXISTS device_sequences (
	premise_code  TEXT NOT NULL,
	device_code   TEXT NOT NULL,
	last_sequence BIGINT NOT NULL,
	PRIMARY KEY (premise_code, device_code)
);

CREATE TABLE IF NOT EXISTS fiscal_receipts (
	id                UUID PRIMARY KEY,
	credential_id     TEXT NOT NULL,
	premise_code      TEXT NOT NULL,
	device_code       TEXT NOT NULL,
	sequence_number   BIGINT NOT NULL,
	issued_at         TIMESTAMPTZ NOT NULL,
	total             NUMERIC(18,2) NOT NULL,
	tax_lines         JSONB NOT NULL,
	fee_lines         JSONB,
	payment_method    TEXT NOT NULL,
	protection_code   TEXT NOT NULL,
	authority_id      TEXT,
	state             TEXT NOT NULL,
	rejection_code    TEXT,
	rejection_message TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (premise_code, device_code, sequence_number)
);

CREATE TABLE IF NOT EXISTS retry_queue (
	id              UUID PRIMARY KEY,
	receipt_id      UUID NOT NULL UNIQUE REFERENCES fiscal_receipts (id),
	attempt_count   INTEGER NOT NULL,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	last_error      TEXT NOT NULL,
	exhausted       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS retry_queue_due_idx
	ON retry_queue (next_attempt_at) WHERE exhausted = FALSE;

CREATE TABLE IF NOT EXISTS signing_credentials (
	id              TEXT PRIMARY KEY,
	not_before      TIMESTAMPTZ NOT NULL,
	not_after       TIMESTAMPTZ NOT NULL,
	sealed_bundle   BYTEA NOT NULL,
	sealed_password BYTEA NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// pipeline schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx,
		fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}

// Manager owns the singleton containers shared across test suites.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetPostgres starts the shared PostgreSQL container on first use and
// returns it with the schema applied.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres != nil {
		return m.postgres
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fiskal_test"),
		tcpostgres.WithUsername("fiskal"),
		tcpostgres.WithPassword("fiskal"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	m.postgres = &PostgresContainer{Container: container, DSN: dsn, DB: db}
	return m.postgres
}
