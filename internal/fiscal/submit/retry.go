package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fiskal/internal/fiscal/alerts"
	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/metrics"
	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/ports"
	"fiskal/internal/fiscal/request"
	"fiskal/internal/platform/config"
)

const (
	defaultBatchSize   = 50
	defaultConcurrency = 8
)

// Reconciler periodically re-submits receipts whose retry entries are due.
// The stored protection code is reused as-is; the request document is
// rebuilt deterministically from the stored receipt and only the message
// header and subsequent-delivery flag differ between attempts.
type Reconciler struct {
	client      *Client
	receipts    ports.ReceiptStore
	retries     ports.RetryQueueStore
	devices     ports.DeviceStore
	creds       *certstore.Manager
	builder     *request.Builder
	cfg         config.RetryConfig
	logger      *slog.Logger
	metrics     *metrics.Metrics
	alerts      *alerts.Publisher
	batchSize   int
	concurrency int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the reconciler's logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithReconcilerMetrics sets the pipeline metrics.
func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithReconcilerAlerts sets the operator alert publisher.
func WithReconcilerAlerts(p *alerts.Publisher) ReconcilerOption {
	return func(r *Reconciler) { r.alerts = p }
}

// WithBatch tunes scan batch size and worker fan-out.
func WithBatch(size, concurrency int) ReconcilerOption {
	return func(r *Reconciler) {
		r.batchSize = size
		r.concurrency = concurrency
	}
}

// NewReconciler constructs the background retry worker.
func NewReconciler(client *Client, receipts ports.ReceiptStore, retries ports.RetryQueueStore, devices ports.DeviceStore, creds *certstore.Manager, builder *request.Builder, cfg config.RetryConfig, opts ...ReconcilerOption) (*Reconciler, error) {
	if client == nil {
		return nil, fmt.Errorf("submission client is required")
	}
	if receipts == nil || retries == nil || devices == nil {
		return nil, fmt.Errorf("receipt, retry, and device stores are required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential manager is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("request builder is required")
	}
	r := &Reconciler{
		client:      client,
		receipts:    receipts,
		retries:     retries,
		devices:     devices,
		creds:       creds,
		builder:     builder,
		cfg:         cfg,
		logger:      slog.Default(),
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run scans the retry queue until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce processes one batch of due entries. Exported so tests and the
// operator requeue endpoint can drive a pass synchronously.
func (r *Reconciler) RunOnce(ctx context.Context) {
	// Skip the batch while the authority is unreachable; individual
	// attempts would only burn the attempt budget.
	if err := r.client.Ping(ctx); err != nil {
		r.logger.DebugContext(ctx, "authority unreachable, skipping retry batch", "error", err)
		return
	}

	now := time.Now()
	due, err := r.retries.ListDue(ctx, now, r.batchSize)
	if err != nil {
		r.logger.ErrorContext(ctx, "scan retry queue", "error", err)
		return
	}
	r.updateDepthGauge(ctx)
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, entry := range due {
		g.Go(func() error {
			r.process(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()
	r.updateDepthGauge(ctx)
}

func (r *Reconciler) process(ctx context.Context, entry *models.RetryQueueEntry) {
	receipt, err := r.receipts.Get(ctx, entry.ReceiptID)
	if err != nil {
		r.logger.ErrorContext(ctx, "load receipt for retry", "receipt_id", entry.ReceiptID, "error", err)
		return
	}

	device, err := r.devices.Get(ctx, receipt.PremiseCode, receipt.DeviceCode)
	if err != nil {
		r.exhaust(ctx, entry, fmt.Errorf("device lookup: %w", err))
		return
	}

	cred, err := r.creds.CredentialByID(ctx, receipt.CredentialID)
	if err != nil {
		r.exhaust(ctx, entry, err)
		return
	}

	doc, err := r.builder.Build(request.BuildInput{
		Receipt:              receipt,
		Device:               *device,
		TaxID:                cred.TaxID(),
		ProtectionCode:       receipt.ProtectionCode,
		LastAcceptedSequence: receipt.Sequence - 1,
	})
	if err != nil {
		r.exhaust(ctx, entry, err)
		return
	}

	if _, err := r.client.Submit(ctx, receipt.ID, doc, cred); err != nil {
		if errors.Is(err, ErrSubmissionInProgress) {
			return
		}
		// Fatal pre-transport failure (expired credential, signing):
		// retrying cannot help, surface it to the operator.
		r.exhaust(ctx, entry, err)
	}
}

// exhaust pulls an entry out of the scan loop and alerts the operator.
func (r *Reconciler) exhaust(ctx context.Context, entry *models.RetryQueueEntry, cause error) {
	if err := r.retries.MarkExhausted(ctx, entry.ReceiptID); err != nil {
		r.logger.ErrorContext(ctx, "mark retry entry exhausted", "receipt_id", entry.ReceiptID, "error", err)
	}
	if r.metrics != nil {
		r.metrics.RetriesExhausted.Inc()
	}
	if r.alerts != nil {
		r.alerts.Publish(ctx, alerts.Alert{
			Kind:      alerts.KindRetryExhausted,
			ReceiptID: entry.ReceiptID,
			Message:   cause.Error(),
		})
	}
	r.logger.ErrorContext(ctx, "retry abandoned", "receipt_id", entry.ReceiptID, "error", cause)
}

func (r *Reconciler) updateDepthGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	entries, err := r.retries.List(ctx, false)
	if err != nil {
		return
	}
	r.metrics.RetryQueueDepth.Set(float64(len(entries)))
}
