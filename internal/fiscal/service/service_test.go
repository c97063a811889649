package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/qr"
	"fiskal/internal/fiscal/request"
	"fiskal/internal/fiscal/submit"
	credentialstore "fiskal/internal/fiscal/store/credential"
	devicestore "fiskal/internal/fiscal/store/device"
	receiptstore "fiskal/internal/fiscal/store/receipt"
	retrystore "fiskal/internal/fiscal/store/retryqueue"
	"fiskal/internal/platform/config"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/testutil"
)

const confirmedResponse = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
	`<RacunOdgovor><Jir>test-jir-001</Jir></RacunOdgovor></soapenv:Body></soapenv:Envelope>`

// scriptedSender replays canned authority responses; the last one repeats.
type scriptedSender struct {
	mu        sync.Mutex
	responses []scriptedResponse
	sent      int
}

type scriptedResponse struct {
	status  int
	payload []byte
	err     error
}

func (s *scriptedSender) Send(_ context.Context, _ []byte) (int, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++

	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp.status, resp.payload, resp.err
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	receipts *receiptstore.InMemoryStore
	retries  *retrystore.InMemoryStore
	devices  *devicestore.InMemoryStore
	creds    *certstore.Manager
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.receipts = receiptstore.New()
	s.retries = retrystore.New()
	s.devices = devicestore.New()

	wrapper, err := certstore.NewKeyWrapper("service-test-key")
	s.Require().NoError(err)
	s.creds, err = certstore.NewManager(credentialstore.New(), certstore.New(), wrapper)
	s.Require().NoError(err)

	tc := testutil.NewSigningBundle(s.T(), "12345678901",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err = s.creds.Register(s.ctx, "svc-cred", tc.Bundle, tc.Password)
	s.Require().NoError(err)

	s.Require().NoError(s.devices.Put(s.ctx,
		&models.PosDevice{PremiseCode: "POSL1", DeviceCode: "POS-1", Active: true}))
}

func (s *ServiceSuite) newService(sender submit.Sender) *Service {
	cfg := config.RetryConfig{
		BaseDelay:   30 * time.Second,
		MaxDelay:    time.Hour,
		MaxAttempts: 3,
	}
	client, err := submit.New(sender, s.receipts, s.retries, cfg)
	s.Require().NoError(err)

	svc, err := New(s.receipts, s.retries, s.devices, s.creds,
		request.NewBuilder(), client, qr.New("https://porezna.gov.hr/rn"))
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) issueInput(seq uint64) IssueInput {
	return IssueInput{
		PremiseCode: "POSL1",
		DeviceCode:  "POS-1",
		Sequence:    seq,
		IssuedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Total:       decimal.RequireFromString("12.50"),
		TaxLines: []models.TaxLine{{
			Name:   "PDV",
			Rate:   decimal.RequireFromString("25.00"),
			Base:   decimal.RequireFromString("10.00"),
			Amount: decimal.RequireFromString("2.50"),
		}},
		PaymentMethod: models.PaymentCash,
	}
}

func (s *ServiceSuite) TestIssueReceiptConfirmed() {
	sender := &scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}}
	svc := s.newService(sender)

	result, err := svc.IssueReceipt(s.ctx, s.issueInput(1))
	s.Require().NoError(err)

	s.Equal(models.StateConfirmed, result.State)
	s.Equal("test-jir-001", result.AuthorityID)
	s.Len(result.ProtectionCode, 32)
	s.True(bytes.HasPrefix(result.VerificationImage, []byte("\x89PNG")))

	stored, err := s.receipts.Get(s.ctx, result.ReceiptID)
	s.Require().NoError(err)
	s.Equal(models.StateConfirmed, stored.State)
	s.Equal("test-jir-001", stored.AuthorityID)
}

func (s *ServiceSuite) TestIssueReceiptOffline() {
	sender := &scriptedSender{responses: []scriptedResponse{
		{err: dErrors.New(dErrors.CodeTransport, "authority unreachable")},
	}}
	svc := s.newService(sender)

	// Issuance succeeds offline; the receipt is printable on its
	// protection code alone and confirmation is deferred.
	result, err := svc.IssueReceipt(s.ctx, s.issueInput(1))
	s.Require().NoError(err)

	s.Equal(models.StatePendingRetry, result.State)
	s.Empty(result.AuthorityID)
	s.Len(result.ProtectionCode, 32)
	s.True(bytes.HasPrefix(result.VerificationImage, []byte("\x89PNG")))

	entry, err := s.retries.Get(s.ctx, result.ReceiptID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Equal(1, entry.AttemptCount)
}

func (s *ServiceSuite) TestIssueReceiptUnknownDevice() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	in := s.issueInput(1)
	in.DeviceCode = "POS-9"
	_, err := svc.IssueReceipt(s.ctx, in)
	s.Require().Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestIssueReceiptNoActiveCredential() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	// Outside the credential's validity window no signing is possible and
	// nothing is persisted.
	in := s.issueInput(1)
	in.IssuedAt = time.Date(2100, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := svc.IssueReceipt(s.ctx, in)
	s.Require().Error(err)
	s.Equal(dErrors.CodeCertificateNotFound, dErrors.CodeOf(err))

	entries, err := s.retries.List(s.ctx, true)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *ServiceSuite) TestIssueReceiptSequenceConflict() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	_, err := svc.IssueReceipt(s.ctx, s.issueInput(5))
	s.Require().NoError(err)

	_, err = svc.IssueReceipt(s.ctx, s.issueInput(5))
	s.Require().Error(err)
	s.Equal(dErrors.CodeSequenceConflict, dErrors.CodeOf(err))
}

func (s *ServiceSuite) TestReceiptAndVerificationImage() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	result, err := svc.IssueReceipt(s.ctx, s.issueInput(1))
	s.Require().NoError(err)

	s.Run("receipt lookup", func() {
		receipt, err := svc.Receipt(s.ctx, result.ReceiptID)
		s.Require().NoError(err)
		s.Equal(result.ReceiptID, receipt.ID)
	})

	s.Run("verification image for stored receipt", func() {
		png, err := svc.VerificationImage(s.ctx, result.ReceiptID)
		s.Require().NoError(err)
		s.True(bytes.HasPrefix(png, []byte("\x89PNG")))
	})

	s.Run("unknown receipt is not-found", func() {
		_, err := svc.Receipt(s.ctx, uuid.New())
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestRequeue() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{err: dErrors.New(dErrors.CodeTransport, "authority unreachable")},
	}})

	result, err := svc.IssueReceipt(s.ctx, s.issueInput(1))
	s.Require().NoError(err)

	entry, err := s.retries.Get(s.ctx, result.ReceiptID)
	s.Require().NoError(err)
	s.Require().NotNil(entry)
	s.Require().NoError(s.retries.MarkExhausted(s.ctx, result.ReceiptID))

	requeued, err := svc.Requeue(s.ctx, result.ReceiptID)
	s.Require().NoError(err)
	s.False(requeued.Exhausted)
	s.False(requeued.NextAttemptAt.After(time.Now()))

	s.Run("unknown receipt is not-found", func() {
		_, err := svc.Requeue(s.ctx, uuid.New())
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestRegisterDevice() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	s.Run("valid device", func() {
		err := svc.RegisterDevice(s.ctx, &models.PosDevice{
			PremiseCode: "POSL2", DeviceCode: "POS-7", Active: true,
		})
		s.Require().NoError(err)

		d, err := s.devices.Get(s.ctx, "POSL2", "POS-7")
		s.Require().NoError(err)
		s.True(d.Active)
	})

	s.Run("missing codes rejected", func() {
		err := svc.RegisterDevice(s.ctx, &models.PosDevice{PremiseCode: "POSL2"})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestRegisterCredential() {
	svc := s.newService(&scriptedSender{responses: []scriptedResponse{
		{status: 200, payload: []byte(confirmedResponse)},
	}})

	notBefore := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := testutil.NewSigningBundle(s.T(), "98765432109", notBefore, notAfter)

	rec, err := svc.RegisterCredential(s.ctx, "next-cred", tc.Bundle, tc.Password)
	s.Require().NoError(err)
	s.Equal("next-cred", rec.ID)
	s.True(rec.Active)
	s.WithinDuration(notBefore, rec.NotBefore, time.Minute)
	s.WithinDuration(notAfter, rec.NotAfter, time.Minute)

	s.Run("wrong password rejected", func() {
		_, err := svc.RegisterCredential(s.ctx, "bad-cred", tc.Bundle, "nope")
		s.Require().Error(err)
		s.Equal(dErrors.CodeCertificateInvalid, dErrors.CodeOf(err))
	})
}
