// Package service orchestrates receipt issuance: credential selection,
// protection code computation, document building, submission, and the
// printable verification image.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/metrics"
	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/ports"
	"fiskal/internal/fiscal/qr"
	"fiskal/internal/fiscal/request"
	"fiskal/internal/fiscal/submit"
	"fiskal/internal/fiscal/zki"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/requestcontext"
)

// Service is the pipeline's entry point for the route layer.
type Service struct {
	receipts  ports.ReceiptStore
	retries   ports.RetryQueueStore
	devices   ports.DeviceStore
	creds     *certstore.Manager
	builder   *request.Builder
	submitter *submit.Client
	qr        *qr.Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the issuance service.
func New(receipts ports.ReceiptStore, retries ports.RetryQueueStore, devices ports.DeviceStore, creds *certstore.Manager, builder *request.Builder, submitter *submit.Client, generator *qr.Generator, opts ...Option) (*Service, error) {
	if receipts == nil || retries == nil || devices == nil {
		return nil, fmt.Errorf("receipt, retry, and device stores are required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential manager is required")
	}
	if builder == nil || submitter == nil || generator == nil {
		return nil, fmt.Errorf("builder, submitter, and generator are required")
	}
	s := &Service{
		receipts:  receipts,
		retries:   retries,
		devices:   devices,
		creds:     creds,
		builder:   builder,
		submitter: submitter,
		qr:        generator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueInput is one point-of-sale transaction to fiscalize.
type IssueInput struct {
	PremiseCode   string
	DeviceCode    string
	Sequence      uint64
	IssuedAt      time.Time
	Total         decimal.Decimal
	TaxLines      []models.TaxLine
	FeeLines      []models.FeeLine
	PaymentMethod models.PaymentMethod
	OperatorTaxID string
	WorkSchedule  *request.WorkSchedule
}

// IssueResult is what the route layer needs to print a receipt. The
// protection code and image are always present; the authority identifier
// only after a successful round trip.
type IssueResult struct {
	ReceiptID         uuid.UUID              `json:"receipt_id"`
	ProtectionCode    string                 `json:"protection_code"`
	AuthorityID       string                 `json:"authority_id,omitempty"`
	State             models.SubmissionState `json:"state"`
	VerificationImage []byte                 `json:"verification_image"`
}

// IssueReceipt runs the pipeline. The protection code is computed
// synchronously and never depends on the network; submission is attempted
// synchronously but its failure degrades to a pending retry instead of
// failing issuance. Pre-submission failures persist nothing.
func (s *Service) IssueReceipt(ctx context.Context, in IssueInput) (*IssueResult, error) {
	now := requestcontext.Now(ctx)

	device, err := s.devices.Get(ctx, in.PremiseCode, in.DeviceCode)
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.ActiveFor(ctx, *device, in.IssuedAt)
	if err != nil {
		return nil, err
	}

	receipt := &models.FiscalReceipt{
		ID:            uuid.New(),
		CredentialID:  cred.ID,
		PremiseCode:   in.PremiseCode,
		DeviceCode:    in.DeviceCode,
		Sequence:      in.Sequence,
		IssuedAt:      in.IssuedAt,
		Total:         in.Total,
		TaxLines:      in.TaxLines,
		FeeLines:      in.FeeLines,
		PaymentMethod: in.PaymentMethod,
		State:         models.StateUnsigned,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	code, err := zki.Compute(cred, receipt)
	if err != nil {
		return nil, err
	}
	receipt.ProtectionCode = code

	lastSeq, err := s.receipts.LastSequence(ctx, in.PremiseCode, in.DeviceCode)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read device sequence")
	}

	doc, err := s.builder.Build(request.BuildInput{
		Receipt:              receipt,
		Device:               *device,
		TaxID:                cred.TaxID(),
		ProtectionCode:       code,
		LastAcceptedSequence: lastSeq,
		OperatorTaxID:        in.OperatorTaxID,
		WorkSchedule:         in.WorkSchedule,
	})
	if err != nil {
		return nil, err
	}

	receipt.State = models.StateProtectionCodeComputed
	if err := s.receipts.Create(ctx, receipt); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReceiptsIssued.Inc()
	}

	result, err := s.submitter.Submit(ctx, receipt.ID, doc, cred)
	if err != nil {
		// The receipt is already legally valid via its protection code;
		// a fatal submission-side failure only delays confirmation.
		s.logger.ErrorContext(ctx, "synchronous submission failed",
			"receipt_id", receipt.ID,
			"error", err,
		)
	} else if result.AuthorityID != "" {
		receipt.AuthorityID = result.AuthorityID
		receipt.State = result.State
	} else {
		receipt.State = result.State
	}

	image, err := s.qr.Generate(receipt)
	if err != nil {
		return nil, err
	}

	return &IssueResult{
		ReceiptID:         receipt.ID,
		ProtectionCode:    code,
		AuthorityID:       receipt.AuthorityID,
		State:             receipt.State,
		VerificationImage: image,
	}, nil
}

// Receipt returns the stored receipt.
func (s *Service) Receipt(ctx context.Context, id uuid.UUID) (*models.FiscalReceipt, error) {
	return s.receipts.Get(ctx, id)
}

// VerificationImage renders the printable code for an existing receipt.
func (s *Service) VerificationImage(ctx context.Context, id uuid.UUID) ([]byte, error) {
	receipt, err := s.receipts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.qr.Generate(receipt)
}

// RetryQueue lists retry entries for the operator surface.
func (s *Service) RetryQueue(ctx context.Context, includeExhausted bool) ([]*models.RetryQueueEntry, error) {
	return s.retries.List(ctx, includeExhausted)
}

// Requeue resets an entry (typically an exhausted one) so the reconciler
// picks it up again. Operator-initiated.
func (s *Service) Requeue(ctx context.Context, receiptID uuid.UUID) (*models.RetryQueueEntry, error) {
	entry, err := s.retries.Get(ctx, receiptID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load retry entry")
	}
	if entry == nil {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no retry entry for receipt %s", receiptID)
	}
	now := requestcontext.Now(ctx)
	entry.Exhausted = false
	entry.NextAttemptAt = now
	entry.UpdatedAt = now
	if err := s.retries.Upsert(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "requeue retry entry")
	}
	s.logger.InfoContext(ctx, "retry entry requeued", "receipt_id", receiptID)
	return entry, nil
}

// RegisterDevice upserts a POS device configuration.
func (s *Service) RegisterDevice(ctx context.Context, d *models.PosDevice) error {
	if d == nil || d.PremiseCode == "" || d.DeviceCode == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "premise and device codes are required")
	}
	return s.devices.Put(ctx, d)
}

// RegisterCredential registers a PKCS#12 bundle as the active credential.
func (s *Service) RegisterCredential(ctx context.Context, id string, bundle []byte, password string) (*models.CredentialRecord, error) {
	cred, err := s.creds.Register(ctx, id, bundle, password)
	if err != nil {
		return nil, err
	}
	return &models.CredentialRecord{
		ID:        cred.ID,
		NotBefore: cred.NotBefore,
		NotAfter:  cred.NotAfter,
		Active:    true,
	}, nil
}
