// Package submit owns the authority submission protocol: the signed SOAP
// envelope, the per-receipt state machine, and the offline retry queue.
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fiskal/internal/fiscal/alerts"
	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/metrics"
	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/ports"
	"fiskal/internal/fiscal/request"
	"fiskal/internal/platform/config"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/requestcontext"
)

// ErrSubmissionInProgress reports that another attempt currently holds the
// receipt's claim. Callers back off; the holder will finish the attempt.
var ErrSubmissionInProgress = errors.New("submission already in progress")

// Sender delivers a signed envelope to the authority endpoint. Tests
// substitute a stub; production uses HTTPSender.
type Sender interface {
	Send(ctx context.Context, envelope []byte) (status int, payload []byte, err error)
}

// HTTPSender posts envelopes over HTTP with a bounded timeout. A timeout is
// indistinguishable from any other transport failure: the authority's
// duplicate detection makes retrying safe.
type HTTPSender struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
}

// NewHTTPSender constructs the production sender.
func NewHTTPSender(endpoint string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		timeout:  timeout,
	}
}

func (s *HTTPSender) Send(ctx context.Context, envelope []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeInternal, "build authority request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeTransport, "authority unreachable")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, dErrors.Wrap(err, dErrors.CodeTransport, "read authority response")
	}
	return resp.StatusCode, payload, nil
}

// Result reports the outcome of one submission attempt. Transport failures
// are an outcome, not an error: the receipt is already legally valid via
// its protection code.
type Result struct {
	State       models.SubmissionState
	AuthorityID string
	Rejection   *Greska
	RetryEntry  *models.RetryQueueEntry
	LastError   string
}

// Client submits receipts and drives the submission state machine.
type Client struct {
	sender   Sender
	receipts ports.ReceiptStore
	retries  ports.RetryQueueStore
	locker   ReceiptLocker
	retryCfg config.RetryConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	alerts   *alerts.Publisher
	tracer   trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAlerts sets the operator alert publisher.
func WithAlerts(p *alerts.Publisher) Option {
	return func(c *Client) { c.alerts = p }
}

// WithLocker overrides the per-receipt locker.
func WithLocker(l ReceiptLocker) Option {
	return func(c *Client) { c.locker = l }
}

// New constructs a submission client.
func New(sender Sender, receipts ports.ReceiptStore, retries ports.RetryQueueStore, retryCfg config.RetryConfig, opts ...Option) (*Client, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt store is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry queue store is required")
	}
	c := &Client{
		sender:   sender,
		receipts: receipts,
		retries:  retries,
		locker:   NewMemoryLocker(),
		retryCfg: retryCfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("fiskal/submit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Backoff returns the delay before attempt n (1-based). Growth is
// monotonic and capped.
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.retryCfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.retryCfg.MaxDelay {
			return c.retryCfg.MaxDelay
		}
	}
	if d > c.retryCfg.MaxDelay {
		return c.retryCfg.MaxDelay
	}
	return d
}

// Submit sends the built document for the receipt. The receipt's current
// state is re-read under the per-receipt claim, so a concurrent attempt
// that confirmed it turns this call into a no-op returning the recorded
// authority identifier.
//
// The returned error covers only pre-transport failures (expired
// credential, signing, storage); transport and protocol outcomes are
// reported in Result.
func (c *Client) Submit(ctx context.Context, receiptID uuid.UUID, doc *request.Document, cred *certstore.SigningCredential) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "fiscal.submit",
		trace.WithAttributes(attribute.String("receipt_id", receiptID.String())))
	defer span.End()

	acquired, err := c.locker.TryAcquire(ctx, receiptID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "claim receipt for submission")
	}
	if !acquired {
		return nil, dErrors.Wrap(ErrSubmissionInProgress, dErrors.CodeInternal, fmt.Sprintf("receipt %s", receiptID))
	}
	defer func() {
		if relErr := c.locker.Release(context.WithoutCancel(ctx), receiptID); relErr != nil {
			c.logger.ErrorContext(ctx, "release receipt claim", "receipt_id", receiptID, "error", relErr)
		}
	}()

	receipt, err := c.receipts.Get(ctx, receiptID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load receipt")
	}

	// Idempotence: a confirmed receipt is never resubmitted.
	if receipt.Confirmed() {
		if err := c.retries.Remove(ctx, receipt.ID); err != nil {
			c.logger.WarnContext(ctx, "remove stale retry entry", "receipt_id", receipt.ID, "error", err)
		}
		return &Result{State: models.StateConfirmed, AuthorityID: receipt.AuthorityID}, nil
	}
	if receipt.State == models.StateRejected {
		return &Result{
			State:     models.StateRejected,
			Rejection: &Greska{Code: receipt.RejectionCode, Message: receipt.RejectionMessage},
		}, nil
	}

	now := requestcontext.Now(ctx)

	// Expiry gate before any cryptographic work.
	if err := certstore.RequireValidAt(cred, now); err != nil {
		return nil, err
	}

	attempt := 0
	if entry, err := c.retries.Get(ctx, receipt.ID); err == nil && entry != nil {
		attempt = entry.AttemptCount
	}

	prevState := receipt.State
	if err := c.transition(ctx, receipt, models.StateSubmitting, now); err != nil {
		return nil, err
	}

	doc.Stamp(uuid.NewString(), now)
	if attempt > 0 {
		doc.MarkSubsequentDelivery()
	}

	envelope, err := SignAndWrap(doc, cred)
	if err != nil {
		c.revert(ctx, receipt, prevState, now)
		return nil, err
	}

	start := time.Now()
	status, payload, sendErr := c.sender.Send(ctx, envelope)
	elapsed := time.Since(start).Seconds()

	if sendErr != nil {
		return c.scheduleRetry(ctx, receipt, attempt, now, elapsed, sendErr)
	}

	jir, rejection, parseErr := ParseResponse(payload)
	if parseErr != nil {
		if status >= 200 && status < 300 {
			parseErr = dErrors.Wrap(parseErr, dErrors.CodeTransport, "unparseable success response")
		} else {
			parseErr = dErrors.Wrap(parseErr, dErrors.CodeTransport, fmt.Sprintf("authority returned HTTP %d", status))
		}
		return c.scheduleRetry(ctx, receipt, attempt, now, elapsed, parseErr)
	}

	if jir != "" {
		return c.confirm(ctx, receipt, jir, now, elapsed)
	}
	return c.reject(ctx, receipt, rejection, now, elapsed)
}

func (c *Client) confirm(ctx context.Context, receipt *models.FiscalReceipt, jir string, now time.Time, elapsed float64) (*Result, error) {
	receipt.AuthorityID = jir
	if err := c.transition(ctx, receipt, models.StateConfirmed, now); err != nil {
		return nil, err
	}
	if err := c.retries.Remove(ctx, receipt.ID); err != nil {
		c.logger.WarnContext(ctx, "remove retry entry after confirmation", "receipt_id", receipt.ID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.ObserveSubmission("confirmed", elapsed)
	}
	c.logger.InfoContext(ctx, "receipt confirmed",
		"receipt_id", receipt.ID,
		"authority_id", jir,
	)
	return &Result{State: models.StateConfirmed, AuthorityID: jir}, nil
}

func (c *Client) reject(ctx context.Context, receipt *models.FiscalReceipt, rejection *Greska, now time.Time, elapsed float64) (*Result, error) {
	receipt.RejectionCode = rejection.Code
	receipt.RejectionMessage = rejection.Message
	if err := c.transition(ctx, receipt, models.StateRejected, now); err != nil {
		return nil, err
	}
	if err := c.retries.Remove(ctx, receipt.ID); err != nil {
		c.logger.WarnContext(ctx, "remove retry entry after rejection", "receipt_id", receipt.ID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.ProtocolRejections.Inc()
		c.metrics.ObserveSubmission("rejected", elapsed)
	}
	if c.alerts != nil {
		c.alerts.Publish(ctx, alerts.Alert{
			Kind:      alerts.KindProtocolRejection,
			ReceiptID: receipt.ID,
			Code:      rejection.Code,
			Message:   rejection.Message,
			At:        now,
		})
	}
	c.logger.WarnContext(ctx, "receipt rejected by authority",
		"receipt_id", receipt.ID,
		"code", rejection.Code,
		"message", rejection.Message,
	)
	return &Result{State: models.StateRejected, Rejection: rejection}, nil
}

func (c *Client) scheduleRetry(ctx context.Context, receipt *models.FiscalReceipt, attempt int, now time.Time, elapsed float64, cause error) (*Result, error) {
	if err := c.transition(ctx, receipt, models.StatePendingRetry, now); err != nil {
		return nil, err
	}

	entry := &models.RetryQueueEntry{
		ID:            uuid.New(),
		ReceiptID:     receipt.ID,
		AttemptCount:  attempt + 1,
		NextAttemptAt: now.Add(c.Backoff(attempt + 1)),
		LastError:     cause.Error(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing, err := c.retries.Get(ctx, receipt.ID); err == nil && existing != nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}

	exhausted := entry.AttemptCount >= c.retryCfg.MaxAttempts
	entry.Exhausted = exhausted

	if err := c.retries.Upsert(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist retry entry")
	}

	if c.metrics != nil {
		outcome := "transport_failure"
		if exhausted {
			outcome = "exhausted"
			c.metrics.RetriesExhausted.Inc()
		}
		c.metrics.ObserveSubmission(outcome, elapsed)
	}
	if exhausted && c.alerts != nil {
		c.alerts.Publish(ctx, alerts.Alert{
			Kind:      alerts.KindRetryExhausted,
			ReceiptID: receipt.ID,
			Message:   fmt.Sprintf("submission failed after %d attempts: %v", entry.AttemptCount, cause),
			At:        now,
		})
	}

	c.logger.WarnContext(ctx, "submission failed, receipt pending retry",
		"receipt_id", receipt.ID,
		"attempt", entry.AttemptCount,
		"next_attempt_at", entry.NextAttemptAt,
		"exhausted", exhausted,
		"error", cause,
	)
	return &Result{State: models.StatePendingRetry, RetryEntry: entry, LastError: cause.Error()}, nil
}

func (c *Client) transition(ctx context.Context, receipt *models.FiscalReceipt, next models.SubmissionState, now time.Time) error {
	if !receipt.State.CanTransition(next) {
		return dErrors.Newf(dErrors.CodeInternal,
			"illegal state transition %s -> %s for receipt %s", receipt.State, next, receipt.ID)
	}
	receipt.State = next
	receipt.UpdatedAt = now
	if err := c.receipts.Update(ctx, receipt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist receipt state")
	}
	return nil
}

func (c *Client) revert(ctx context.Context, receipt *models.FiscalReceipt, prev models.SubmissionState, now time.Time) {
	receipt.State = prev
	receipt.UpdatedAt = now
	if err := c.receipts.Update(ctx, receipt); err != nil {
		c.logger.ErrorContext(ctx, "revert receipt state", "receipt_id", receipt.ID, "error", err)
	}
}
