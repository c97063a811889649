// Package handler wires the fiscalization pipeline onto HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/service"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/platform/httputil"
	"fiskal/pkg/requestcontext"
)

// Handler exposes issuance and operator endpoints.
type Handler struct {
	service    *service.Service
	logger     *slog.Logger
	signingKey string
}

// New constructs a handler with its dependencies.
func New(svc *service.Service, logger *slog.Logger, jwtSigningKey string) *Handler {
	return &Handler{service: svc, logger: logger, signingKey: jwtSigningKey}
}

// Register mounts the pipeline endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/receipts", h.HandleIssue)
	r.Get("/receipts/{id}", h.HandleGetReceipt)
	r.Get("/receipts/{id}/verification.png", h.HandleVerificationImage)

	r.Group(func(r chi.Router) {
		r.Use(RequireOperator(h.signingKey, h.logger))
		r.Get("/retry-queue", h.HandleListRetryQueue)
		r.Post("/retry-queue/{id}/requeue", h.HandleRequeue)
		r.Post("/credentials", h.HandleRegisterCredential)
		r.Post("/devices", h.HandleRegisterDevice)
	})
}

// HandleIssue handles POST /receipts.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, err := httputil.Decode[IssueRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.IssueReceipt(ctx, req.ToInput())
	if err != nil {
		h.logger.ErrorContext(ctx, "receipt issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"premise", req.PremiseCode,
			"device", req.DeviceCode,
			"sequence", req.Sequence,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "receipt issued",
		"request_id", requestcontext.RequestID(ctx),
		"receipt_id", result.ReceiptID,
		"state", result.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// HandleGetReceipt handles GET /receipts/{id}.
func (h *Handler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	receipt, err := h.service.Receipt(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

// HandleVerificationImage handles GET /receipts/{id}/verification.png.
func (h *Handler) HandleVerificationImage(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	png, err := h.service.VerificationImage(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandleListRetryQueue handles GET /retry-queue.
func (h *Handler) HandleListRetryQueue(w http.ResponseWriter, r *http.Request) {
	includeExhausted := r.URL.Query().Get("include_exhausted") == "true"
	entries, err := h.service.RetryQueue(r.Context(), includeExhausted)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleRequeue handles POST /retry-queue/{id}/requeue.
func (h *Handler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.service.Requeue(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// HandleRegisterCredential handles POST /credentials.
func (h *Handler) HandleRegisterCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.Decode[RegisterCredentialRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	bundle, err := req.DecodeBundle()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.service.RegisterCredential(ctx, req.CredentialID, bundle, req.Password)
	if err != nil {
		h.logger.ErrorContext(ctx, "credential registration failed",
			"credential_id", req.CredentialID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// HandleRegisterDevice handles POST /devices.
func (h *Handler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[RegisterDeviceRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	device := &models.PosDevice{
		PremiseCode: req.PremiseCode,
		DeviceCode:  req.DeviceCode,
		Active:      req.Active,
	}
	if err := h.service.RegisterDevice(r.Context(), device); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, device)
}

func receiptID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid receipt id")
	}
	return id, nil
}
