// Package models holds the fiscalization domain types shared by services,
// stores, and handlers.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmissionState tracks a receipt through the signing/submission pipeline.
type SubmissionState string

const (
	StateUnsigned               SubmissionState = "unsigned"
	StateProtectionCodeComputed SubmissionState = "protection_code_computed"
	StateSubmitting             SubmissionState = "submitting"
	StateConfirmed              SubmissionState = "confirmed"
	StatePendingRetry           SubmissionState = "pending_retry"
	StateRejected               SubmissionState = "rejected"
)

// IsValid reports whether s is a known submission state.
func (s SubmissionState) IsValid() bool {
	switch s {
	case StateUnsigned, StateProtectionCodeComputed, StateSubmitting,
		StateConfirmed, StatePendingRetry, StateRejected:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
// Confirmed is terminal for the pipeline but still accepts idempotent
// re-submission (which returns the recorded authority identifier).
func (s SubmissionState) Terminal() bool {
	return s == StateConfirmed || s == StateRejected
}

// CanTransition reports whether the state machine permits moving from s to
// next. Transitions not listed here indicate a pipeline bug, not bad input.
func (s SubmissionState) CanTransition(next SubmissionState) bool {
	switch s {
	case StateUnsigned:
		return next == StateProtectionCodeComputed
	case StateProtectionCodeComputed:
		return next == StateSubmitting
	case StateSubmitting:
		return next == StateConfirmed || next == StatePendingRetry || next == StateRejected
	case StatePendingRetry:
		return next == StateSubmitting
	default:
		return false
	}
}

// PaymentMethod is the authority's single-letter payment code.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "G"
	PaymentCard     PaymentMethod = "K"
	PaymentCheck    PaymentMethod = "C"
	PaymentTransfer PaymentMethod = "T"
	PaymentOther    PaymentMethod = "O"
)

// IsValid reports whether p is a known payment method code.
func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentCheck, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// TaxLine is one tax entry on a receipt: a rate applied to a taxable base.
// Amount is base × rate/100 rounded half-up to the currency minor unit;
// the authority re-validates this arithmetic.
type TaxLine struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// FeeLine is an optional non-tax fee on a receipt.
type FeeLine struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// PosDevice is a registered cash register at a business premise.
// Lifecycle is owned by the storage layer; the pipeline reads it only.
type PosDevice struct {
	PremiseCode string `json:"premise_code"`
	DeviceCode  string `json:"device_code"`
	Active      bool   `json:"active"`
}

// FiscalReceipt is the pipeline's unit of work. Sequence and IssuedAt are
// immutable once assigned: the protection code is bound to them.
type FiscalReceipt struct {
	ID            uuid.UUID       `json:"id"`
	CredentialID  string          `json:"credential_id"`
	PremiseCode   string          `json:"premise_code"`
	DeviceCode    string          `json:"device_code"`
	Sequence      uint64          `json:"sequence"`
	IssuedAt      time.Time       `json:"issued_at"`
	Total         decimal.Decimal `json:"total"`
	TaxLines      []TaxLine       `json:"tax_lines"`
	FeeLines      []FeeLine       `json:"fee_lines,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`

	// ProtectionCode is the offline ZKI; set exactly once, before print.
	ProtectionCode string `json:"protection_code,omitempty"`

	// AuthorityID is the JIR; present only after a confirmed round trip.
	AuthorityID string `json:"authority_id,omitempty"`

	State            SubmissionState `json:"state"`
	RejectionCode    string          `json:"rejection_code,omitempty"`
	RejectionMessage string          `json:"rejection_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Confirmed reports whether the authority has recorded the receipt.
func (r *FiscalReceipt) Confirmed() bool {
	return r.State == StateConfirmed && r.AuthorityID != ""
}

// RetryQueueEntry schedules a failed submission for re-attempt. Entries are
// claimed before processing so two workers never retry the same receipt
// concurrently.
type RetryQueueEntry struct {
	ID            uuid.UUID `json:"id"`
	ReceiptID     uuid.UUID `json:"receipt_id"`
	AttemptCount  int       `json:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error"`

	// Exhausted entries are no longer scanned; an operator must requeue
	// or resolve them.
	Exhausted bool `json:"exhausted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
