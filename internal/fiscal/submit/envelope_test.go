package submit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/models"
	"fiskal/internal/fiscal/request"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/testutil"
)

type EnvelopeSuite struct {
	suite.Suite
	cred *certstore.SigningCredential
}

func TestEnvelopeSuite(t *testing.T) {
	suite.Run(t, new(EnvelopeSuite))
}

func (s *EnvelopeSuite) SetupSuite() {
	tc := testutil.NewSigningBundle(s.T(), "12345678901",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cred, err := certstore.New().Load("env-cred", tc.Bundle, tc.Password)
	s.Require().NoError(err)
	s.cred = cred
}

func (s *EnvelopeSuite) buildDocument() *request.Document {
	doc, err := request.NewBuilder().Build(request.BuildInput{
		Receipt: &models.FiscalReceipt{
			ID:            uuid.New(),
			PremiseCode:   "POSL1",
			DeviceCode:    "POS-1",
			Sequence:      7,
			IssuedAt:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			Total:         decimal.RequireFromString("12.50"),
			PaymentMethod: models.PaymentCash,
		},
		Device:         models.PosDevice{PremiseCode: "POSL1", DeviceCode: "POS-1", Active: true},
		TaxID:          "12345678901",
		ProtectionCode: "e4d909c290d0fb1ca068ffaddf22cbd0",
	})
	s.Require().NoError(err)
	doc.Stamp(uuid.NewString(), time.Date(2025, 6, 1, 10, 0, 1, 0, time.UTC))
	return doc
}

func (s *EnvelopeSuite) TestSignAndWrap() {
	envelope, err := SignAndWrap(s.buildDocument(), s.cred)
	s.Require().NoError(err)

	body := string(envelope)
	s.True(strings.HasPrefix(body, `<soapenv:Envelope`))
	s.True(strings.HasSuffix(body, `</soapenv:Envelope>`))
	s.Contains(body, `<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	s.Contains(body, `<Reference URI="#RacunZahtjev">`)
	s.Contains(body, "<SignatureValue>")
	s.Contains(body, "<X509Certificate>")

	// The signature must sit inside the request element, not after it.
	s.Less(strings.Index(body, "<Signature"), strings.Index(body, "</RacunZahtjev>"))
	s.Greater(strings.Index(body, "<Signature"), strings.Index(body, "<RacunZahtjev"))
}

func (s *EnvelopeSuite) TestParseResponse() {
	s.Run("confirmation carries the authority identifier", func() {
		payload := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
			`<RacunOdgovor><Zaglavlje><IdPoruke>x</IdPoruke></Zaglavlje><Jir>9d6f5bb6-da48-4fcd-a803-4586a025e0e4</Jir></RacunOdgovor>` +
			`</soapenv:Body></soapenv:Envelope>`
		jir, rejection, err := ParseResponse([]byte(payload))
		s.Require().NoError(err)
		s.Nil(rejection)
		s.Equal("9d6f5bb6-da48-4fcd-a803-4586a025e0e4", jir)
	})

	s.Run("well-formed rejection yields a terminal error item", func() {
		payload := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
			`<RacunOdgovor><Greske><Greska><SifraGreske>s004</SifraGreske><PorukaGreske>Neispravan digitalni potpis.</PorukaGreske></Greska></Greske></RacunOdgovor>` +
			`</soapenv:Body></soapenv:Envelope>`
		jir, rejection, err := ParseResponse([]byte(payload))
		s.Require().NoError(err)
		s.Empty(jir)
		s.Require().NotNil(rejection)
		s.Equal("s004", rejection.Code)
		s.Equal("Neispravan digitalni potpis.", rejection.Message)
	})

	s.Run("duplicate echo with identifier and errors is success", func() {
		payload := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
			`<RacunOdgovor><Jir>repeat-jir</Jir><Greske><Greska><SifraGreske>v100</SifraGreske><PorukaGreske>Duplikat.</PorukaGreske></Greska></Greske></RacunOdgovor>` +
			`</soapenv:Body></soapenv:Envelope>`
		jir, rejection, err := ParseResponse([]byte(payload))
		s.Require().NoError(err)
		s.Nil(rejection)
		s.Equal("repeat-jir", jir)
	})

	s.Run("soap fault is transport-class", func() {
		payload := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
			`<soapenv:Fault><faultcode>soapenv:Server</faultcode><faultstring>internal</faultstring></soapenv:Fault>` +
			`</soapenv:Body></soapenv:Envelope>`
		_, _, err := ParseResponse([]byte(payload))
		s.Require().Error(err)
		s.Equal(dErrors.CodeTransport, dErrors.CodeOf(err))
		s.True(dErrors.Retryable(err))
	})

	s.Run("malformed payload is transport-class", func() {
		_, _, err := ParseResponse([]byte("<html>gateway timeout"))
		s.Require().Error(err)
		s.Equal(dErrors.CodeTransport, dErrors.CodeOf(err))
	})

	s.Run("empty response body is transport-class", func() {
		payload := `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
			`<RacunOdgovor></RacunOdgovor></soapenv:Body></soapenv:Envelope>`
		_, _, err := ParseResponse([]byte(payload))
		s.Require().Error(err)
		s.Equal(dErrors.CodeTransport, dErrors.CodeOf(err))
	})
}
