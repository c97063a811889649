package qr

import (
	"bytes"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiskal/internal/fiscal/models"
	dErrors "fiskal/pkg/domain-errors"
)

type GeneratorSuite struct {
	suite.Suite
	gen *Generator
}

func TestGeneratorSuite(t *testing.T) {
	suite.Run(t, new(GeneratorSuite))
}

func (s *GeneratorSuite) SetupTest() {
	s.gen = New("https://porezna.gov.hr/rn")
}

func (s *GeneratorSuite) newReceipt() *models.FiscalReceipt {
	return &models.FiscalReceipt{
		ID:             uuid.New(),
		IssuedAt:       time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		Total:          decimal.RequireFromString("12.50"),
		ProtectionCode: "e4d909c290d0fb1ca068ffaddf22cbd0",
		State:          models.StatePendingRetry,
	}
}

func (s *GeneratorSuite) TestVerificationURL() {
	s.Run("confirmed receipts verify by authority identifier", func() {
		r := s.newReceipt()
		r.State = models.StateConfirmed
		r.AuthorityID = "test-jir-001"

		raw, err := s.gen.VerificationURL(r)
		s.Require().NoError(err)

		u, err := url.Parse(raw)
		s.Require().NoError(err)
		s.Equal("test-jir-001", u.Query().Get("jir"))
		s.Empty(u.Query().Get("zki"))
		s.Equal("20250601_1030", u.Query().Get("datv"))
		s.Equal("1250", u.Query().Get("izn"))
	})

	s.Run("unconfirmed receipts verify by protection code", func() {
		raw, err := s.gen.VerificationURL(s.newReceipt())
		s.Require().NoError(err)

		u, err := url.Parse(raw)
		s.Require().NoError(err)
		s.Equal("e4d909c290d0fb1ca068ffaddf22cbd0", u.Query().Get("zki"))
		s.Empty(u.Query().Get("jir"))
	})

	s.Run("confirmed state without identifier falls back to protection code", func() {
		r := s.newReceipt()
		r.State = models.StateConfirmed
		raw, err := s.gen.VerificationURL(r)
		s.Require().NoError(err)
		s.Contains(raw, "zki=")
	})

	s.Run("amount is expressed in minor units", func() {
		r := s.newReceipt()
		r.Total = decimal.RequireFromString("1000.00")
		raw, err := s.gen.VerificationURL(r)
		s.Require().NoError(err)
		u, err := url.Parse(raw)
		s.Require().NoError(err)
		s.Equal("100000", u.Query().Get("izn"))
	})

	s.Run("neither identifier nor protection code is an error", func() {
		r := s.newReceipt()
		r.ProtectionCode = ""
		_, err := s.gen.VerificationURL(r)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func (s *GeneratorSuite) TestGenerate() {
	png, err := s.gen.Generate(s.newReceipt())
	s.Require().NoError(err)
	s.NotEmpty(png)
	s.True(bytes.HasPrefix(png, []byte("\x89PNG")))
}
