// Package request assembles schema-conformant receipt request documents.
// It is pure data transformation: no I/O, no cryptography beyond embedding
// the already-computed protection code.
package request

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

// datetimeLayout is the schema's datetime format, shared by the receipt
// body and the message header.
const datetimeLayout = "02.01.2006T15:04:05"

var protectionCodePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

var hundred = decimal.NewFromInt(100)

// ExpectedTaxAmount computes base × rate/100 rounded half-up to the
// currency minor unit. The authority validates this arithmetic; any
// deviation is a rejection.
func ExpectedTaxAmount(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

// Builder turns receipts into request documents.
type Builder struct {
	sequenceScope string
	vatRegistered bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithPremiseSequenceScope declares sequence numbers as premise-level
// rather than device-level.
func WithPremiseSequenceScope() BuilderOption {
	return func(b *Builder) { b.sequenceScope = "P" }
}

// WithoutVATRegistration marks the issuer as outside the VAT system.
func WithoutVATRegistration() BuilderOption {
	return func(b *Builder) { b.vatRegistered = false }
}

// NewBuilder constructs a Builder with device-level sequence scope and VAT
// registration assumed.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{sequenceScope: "N", vatRegistered: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildInput carries everything Build needs. LastAcceptedSequence is the
// device's highest accepted sequence number; the caller reads it from the
// receipt store.
type BuildInput struct {
	Receipt              *models.FiscalReceipt
	Device               models.PosDevice
	TaxID                string
	ProtectionCode       string
	LastAcceptedSequence uint64
	OperatorTaxID        string
	WorkSchedule         *WorkSchedule
}

// Build validates the input and assembles the request document. All
// failures are ValidationError-class: non-retryable, the caller must fix
// the data before resubmitting.
func (b *Builder) Build(in BuildInput) (*Document, error) {
	r := in.Receipt
	if r == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "receipt is required")
	}
	if in.TaxID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer tax id is required")
	}
	if !in.Device.Active {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"device %s/%s is not active", in.Device.PremiseCode, in.Device.DeviceCode)
	}
	if r.PremiseCode != in.Device.PremiseCode || r.DeviceCode != in.Device.DeviceCode {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "receipt premise/device does not match the configured device")
	}
	if r.IssuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuance timestamp is required")
	}
	if !r.PaymentMethod.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown payment method %q", r.PaymentMethod)
	}
	if !protectionCodePattern.MatchString(in.ProtectionCode) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "protection code must be 32 lowercase hex characters")
	}
	if r.Sequence == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sequence number is required")
	}
	if r.Sequence <= in.LastAcceptedSequence {
		return nil, dErrors.Newf(dErrors.CodeSequenceConflict,
			"sequence %d is not greater than last accepted %d for device %s/%s",
			r.Sequence, in.LastAcceptedSequence, r.PremiseCode, r.DeviceCode)
	}

	if err := validateArithmetic(r); err != nil {
		return nil, err
	}

	doc := &Document{
		Xmlns: schemaNamespace,
		ID:    "RacunZahtjev",
		Receipt: Receipt{
			TaxID:          in.TaxID,
			VATRegistered:  b.vatRegistered,
			IssuedAt:       r.IssuedAt.Format(datetimeLayout),
			SequenceScope:  b.sequenceScope,
			Number:         Number{Sequence: r.Sequence, Premise: r.PremiseCode, Device: r.DeviceCode},
			Total:          r.Total.StringFixed(2),
			PaymentMethod:  string(r.PaymentMethod),
			OperatorTaxID:  in.OperatorTaxID,
			ProtectionCode: in.ProtectionCode,
		},
	}

	if len(r.TaxLines) > 0 {
		group := &TaxGroup{Taxes: make([]Tax, 0, len(r.TaxLines))}
		for _, line := range r.TaxLines {
			group.Taxes = append(group.Taxes, Tax{
				Rate:   line.Rate.StringFixed(2),
				Base:   line.Base.StringFixed(2),
				Amount: line.Amount.StringFixed(2),
			})
		}
		doc.Receipt.VAT = group
	}

	if len(r.FeeLines) > 0 {
		group := &FeeGroup{Fees: make([]Fee, 0, len(r.FeeLines))}
		for _, fee := range r.FeeLines {
			group.Fees = append(group.Fees, Fee{Name: fee.Name, Amount: fee.Amount.StringFixed(2)})
		}
		doc.Receipt.Fees = group
	}

	if in.WorkSchedule != nil {
		decl, err := in.WorkSchedule.Declaration()
		if err != nil {
			return nil, err
		}
		doc.Receipt.WorkingHours = decl
	}

	return doc, nil
}

// Stamp sets the per-attempt message header. Retries restamp the same
// document; the receipt body stays untouched.
func (d *Document) Stamp(messageID string, at time.Time) {
	d.Header.MessageID = messageID
	d.Header.SentAt = at.Format(datetimeLayout)
}

// MarkSubsequentDelivery flags the document as a late delivery of an
// already-issued receipt. Set on every retry attempt.
func (d *Document) MarkSubsequentDelivery() {
	d.Receipt.SubsequentDelivery = true
}

func validateArithmetic(r *models.FiscalReceipt) error {
	sum := decimal.Zero
	for _, line := range r.TaxLines {
		if line.Base.IsNegative() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "tax line %q has negative base", line.Name)
		}
		expected := ExpectedTaxAmount(line.Base, line.Rate)
		if !line.Amount.Equal(expected) {
			return dErrors.Newf(dErrors.CodeInvalidInput,
				"tax line %q amount %s does not match base %s × rate %s%% = %s",
				line.Name, line.Amount.StringFixed(2), line.Base.StringFixed(2),
				line.Rate.StringFixed(2), expected.StringFixed(2))
		}
		sum = sum.Add(line.Base).Add(line.Amount)
	}
	for _, fee := range r.FeeLines {
		sum = sum.Add(fee.Amount)
	}
	if len(r.TaxLines) > 0 && !r.Total.Equal(sum) {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"total %s does not match tax bases plus tax plus fees %s",
			r.Total.StringFixed(2), sum.StringFixed(2))
	}
	return nil
}
