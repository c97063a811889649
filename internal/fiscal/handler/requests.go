package handler

import (
	"encoding/base64"
	"time"

	"github.com/shopspring/decimal"

	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/service"
	dErrors "fiskal/pkg/domain-errors"
)

// IssueRequest is the wire shape for POST /receipts.
type IssueRequest struct {
	PremiseCode   string          `json:"premise_code"`
	DeviceCode    string          `json:"device_code"`
	Sequence      uint64          `json:"sequence"`
	IssuedAt      time.Time       `json:"issued_at"`
	Total         decimal.Decimal `json:"total"`
	TaxLines      []TaxLineDTO    `json:"tax_lines"`
	FeeLines      []FeeLineDTO    `json:"fee_lines,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	OperatorTaxID string          `json:"operator_tax_id,omitempty"`
}

// TaxLineDTO mirrors models.TaxLine on the wire.
type TaxLineDTO struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// FeeLineDTO mirrors models.FeeLine on the wire.
type FeeLineDTO struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Validate checks required fields before the service sees the request.
func (r IssueRequest) Validate() error {
	if r.PremiseCode == "" || r.DeviceCode == "" {
		return dErrors.New(dErrors.CodeBadRequest, "premise_code and device_code are required")
	}
	if r.Sequence == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "sequence is required")
	}
	if r.IssuedAt.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "issued_at is required")
	}
	if r.PaymentMethod == "" {
		return dErrors.New(dErrors.CodeBadRequest, "payment_method is required")
	}
	return nil
}

// ToInput converts the DTO to the service input.
func (r IssueRequest) ToInput() service.IssueInput {
	in := service.IssueInput{
		PremiseCode:   r.PremiseCode,
		DeviceCode:    r.DeviceCode,
		Sequence:      r.Sequence,
		IssuedAt:      r.IssuedAt,
		Total:         r.Total,
		PaymentMethod: models.PaymentMethod(r.PaymentMethod),
		OperatorTaxID: r.OperatorTaxID,
	}
	for _, line := range r.TaxLines {
		in.TaxLines = append(in.TaxLines, models.TaxLine{
			Name: line.Name, Rate: line.Rate, Base: line.Base, Amount: line.Amount,
		})
	}
	for _, fee := range r.FeeLines {
		in.FeeLines = append(in.FeeLines, models.FeeLine{Name: fee.Name, Amount: fee.Amount})
	}
	return in
}

// RegisterCredentialRequest is the wire shape for POST /credentials.
// The bundle is the base64 of the PKCS#12 container.
type RegisterCredentialRequest struct {
	CredentialID string `json:"credential_id"`
	Bundle       string `json:"bundle"`
	Password     string `json:"password"`
}

// DecodeBundle validates and decodes the base64 bundle.
func (r RegisterCredentialRequest) DecodeBundle() ([]byte, error) {
	if r.CredentialID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "credential_id is required")
	}
	if r.Bundle == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "bundle is required")
	}
	raw, err := base64.StdEncoding.DecodeString(r.Bundle)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "bundle is not valid base64")
	}
	return raw, nil
}

// RegisterDeviceRequest is the wire shape for POST /devices.
type RegisterDeviceRequest struct {
	PremiseCode string `json:"premise_code"`
	DeviceCode  string `json:"device_code"`
	Active      bool   `json:"active"`
}
