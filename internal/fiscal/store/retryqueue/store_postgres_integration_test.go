//go:build integration

package retryqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.PostgresContainer
	store     *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.container = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgres(s.container.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.container.TruncateTables(s.ctx,
		"retry_queue", "fiscal_receipts", "device_sequences"))
}

// seedReceipt inserts the referenced receipt row; retry_queue has a foreign
// key on it.
func (s *PostgresStoreSuite) seedReceipt(seq uint64) uuid.UUID {
	id := uuid.New()
	now := time.Now().UTC()
	taxLines, err := json.Marshal([]models.TaxLine{})
	s.Require().NoError(err)
	_, err = s.container.DB.ExecContext(s.ctx, `
		INSERT INTO fiscal_receipts (
			id, credential_id, premise_code, device_code, sequence_number,
			issued_at, total, tax_lines, payment_method, protection_code,
			state, created_at, updated_at
		) VALUES ($1,'pg-cred','POSL1','POS-1',$2,$3,'12.50',$4,'G',
			'e4d909c290d0fb1ca068ffaddf22cbd0','pending_retry',$3,$3)`,
		id, seq, now, taxLines)
	s.Require().NoError(err)
	return id
}

func (s *PostgresStoreSuite) newEntry(receiptID uuid.UUID, due time.Time) *models.RetryQueueEntry {
	now := time.Now().UTC()
	return &models.RetryQueueEntry{
		ID:            uuid.New(),
		ReceiptID:     receiptID,
		AttemptCount:  1,
		NextAttemptAt: due,
		LastError:     "authority unreachable",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *PostgresStoreSuite) TestUpsert() {
	receiptID := s.seedReceipt(1)
	e := s.newEntry(receiptID, time.Now().UTC())
	s.Require().NoError(s.store.Upsert(s.ctx, e))

	s.Run("roundtrip", func() {
		got, err := s.store.Get(s.ctx, receiptID)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(e.ID, got.ID)
		s.Equal(1, got.AttemptCount)
		s.Equal("authority unreachable", got.LastError)
	})

	s.Run("conflict on receipt updates in place", func() {
		e.AttemptCount = 2
		e.LastError = "still unreachable"
		s.Require().NoError(s.store.Upsert(s.ctx, e))

		got, err := s.store.Get(s.ctx, receiptID)
		s.Require().NoError(err)
		s.Equal(2, got.AttemptCount)
		s.Equal("still unreachable", got.LastError)

		var count int
		s.Require().NoError(s.container.DB.QueryRowContext(s.ctx,
			`SELECT COUNT(*) FROM retry_queue`).Scan(&count))
		s.Equal(1, count)
	})

	s.Run("miss returns nil", func() {
		got, err := s.store.Get(s.ctx, uuid.New())
		s.Require().NoError(err)
		s.Nil(got)
	})
}

func (s *PostgresStoreSuite) TestListDue() {
	now := time.Now().UTC()

	early := s.newEntry(s.seedReceipt(1), now.Add(-2*time.Minute))
	late := s.newEntry(s.seedReceipt(2), now.Add(-time.Minute))
	future := s.newEntry(s.seedReceipt(3), now.Add(time.Hour))
	dead := s.newEntry(s.seedReceipt(4), now.Add(-time.Hour))
	dead.Exhausted = true

	for _, e := range []*models.RetryQueueEntry{late, future, early, dead} {
		s.Require().NoError(s.store.Upsert(s.ctx, e))
	}

	s.Run("due entries in attempt order", func() {
		due, err := s.store.ListDue(s.ctx, now, 10)
		s.Require().NoError(err)
		s.Require().Len(due, 2)
		s.Equal(early.ReceiptID, due[0].ReceiptID)
		s.Equal(late.ReceiptID, due[1].ReceiptID)
	})

	s.Run("limit respected", func() {
		due, err := s.store.ListDue(s.ctx, now, 1)
		s.Require().NoError(err)
		s.Require().Len(due, 1)
		s.Equal(early.ReceiptID, due[0].ReceiptID)
	})
}

func (s *PostgresStoreSuite) TestMarkExhaustedAndList() {
	live := s.newEntry(s.seedReceipt(1), time.Now().UTC())
	dying := s.newEntry(s.seedReceipt(2), time.Now().UTC())
	s.Require().NoError(s.store.Upsert(s.ctx, live))
	s.Require().NoError(s.store.Upsert(s.ctx, dying))

	s.Require().NoError(s.store.MarkExhausted(s.ctx, dying.ReceiptID))

	s.Run("exhausted flag set", func() {
		got, err := s.store.Get(s.ctx, dying.ReceiptID)
		s.Require().NoError(err)
		s.True(got.Exhausted)
	})

	s.Run("list excludes exhausted by default", func() {
		out, err := s.store.List(s.ctx, false)
		s.Require().NoError(err)
		s.Require().Len(out, 1)
		s.Equal(live.ReceiptID, out[0].ReceiptID)
	})

	s.Run("list includes exhausted on request", func() {
		out, err := s.store.List(s.ctx, true)
		s.Require().NoError(err)
		s.Len(out, 2)
	})

	s.Run("unknown receipt is not-found", func() {
		err := s.store.MarkExhausted(s.ctx, uuid.New())
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *PostgresStoreSuite) TestRemove() {
	e := s.newEntry(s.seedReceipt(1), time.Now().UTC())
	s.Require().NoError(s.store.Upsert(s.ctx, e))
	s.Require().NoError(s.store.Remove(s.ctx, e.ReceiptID))

	got, err := s.store.Get(s.ctx, e.ReceiptID)
	s.Require().NoError(err)
	s.Nil(got)

	s.NoError(s.store.Remove(s.ctx, uuid.New()))
}
