package certstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fiskal/internal/fiscal/certstore"
	"fiskal/internal/fiscal/models"
	credentialstore "fiskal/internal/fiscal/store/credential"
	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/testutil"
)

type ManagerSuite struct {
	suite.Suite
	ctx     context.Context
	manager *certstore.Manager
	records *credentialstore.InMemoryStore
	device  models.PosDevice
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.records = credentialstore.New()
	s.device = models.PosDevice{PremiseCode: "POSL1", DeviceCode: "POS-1", Active: true}

	wrapper, err := certstore.NewKeyWrapper("lifecycle-test-key")
	s.Require().NoError(err)
	manager, err := certstore.NewManager(s.records, certstore.New(), wrapper)
	s.Require().NoError(err)
	s.manager = manager
}

// SetupSubTest gives every s.Run block a fresh store and manager; the
// subtests each register exactly the credentials they reason about.
func (s *ManagerSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *ManagerSuite) register(id string, notBefore, notAfter time.Time) *testutil.TestCredential {
	tc := testutil.NewSigningBundle(s.T(), "12345678901", notBefore, notAfter)
	_, err := s.manager.Register(s.ctx, id, tc.Bundle, tc.Password)
	s.Require().NoError(err)
	return tc
}

func (s *ManagerSuite) TestRegister() {
	s.Run("stores a sealed record and returns the parsed credential", func() {
		tc := testutil.NewSigningBundle(s.T(), "12345678901",
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		cred, err := s.manager.Register(s.ctx, "cred-2024", tc.Bundle, tc.Password)
		s.Require().NoError(err)
		s.Equal("12345678901", cred.TaxID())

		rec, err := s.records.Get(s.ctx, "cred-2024")
		s.Require().NoError(err)
		s.Require().NotNil(rec)
		s.True(rec.Active)
		s.NotEmpty(rec.SealedBundle)
		s.NotEqual(tc.Bundle, rec.SealedBundle)
		s.NotEmpty(rec.SealedPassword)
	})

	s.Run("rejects a bundle with the wrong password", func() {
		tc := testutil.NewSigningBundle(s.T(), "12345678901",
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		_, err := s.manager.Register(s.ctx, "cred-bad", tc.Bundle, "wrong")
		s.Require().Error(err)
		s.Equal(dErrors.CodeCertificateInvalid, dErrors.CodeOf(err))
	})
}

func (s *ManagerSuite) TestActiveFor() {
	s.Run("selects the credential covering the issuance instant", func() {
		s.register("cred-2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

		cred, err := s.manager.ActiveFor(s.ctx, s.device,
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		s.Require().NoError(err)
		s.Equal("cred-2024", cred.ID)
	})

	s.Run("latest NotBefore wins when rotation overlaps", func() {
		s.register("cred-old", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		s.register("cred-new", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))

		cred, err := s.manager.ActiveFor(s.ctx, s.device,
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		s.Require().NoError(err)
		s.Equal("cred-new", cred.ID)
	})

	s.Run("deactivated credentials are skipped", func() {
		s.register("cred-retired", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		s.Require().NoError(s.manager.Deactivate(s.ctx, "cred-retired"))

		_, err := s.manager.ActiveFor(s.ctx, s.device,
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		s.Require().Error(err)
		s.Equal(dErrors.CodeCertificateNotFound, dErrors.CodeOf(err))
	})

	s.Run("no silent fallback to an expired credential", func() {
		s.register("cred-expired", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

		_, err := s.manager.ActiveFor(s.ctx, s.device,
			time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		s.Require().Error(err)
		s.Equal(dErrors.CodeCertificateNotFound, dErrors.CodeOf(err))
	})
}

func (s *ManagerSuite) TestCredentialByID() {
	s.Run("loads a registered credential from its sealed record", func() {
		s.register("cred-2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

		cred, err := s.manager.CredentialByID(s.ctx, "cred-2024")
		s.Require().NoError(err)
		s.Equal("cred-2024", cred.ID)
	})

	s.Run("deactivated credentials remain loadable for historical receipts", func() {
		s.register("cred-retired", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		s.Require().NoError(s.manager.Deactivate(s.ctx, "cred-retired"))

		cred, err := s.manager.CredentialByID(s.ctx, "cred-retired")
		s.Require().NoError(err)
		s.Equal("cred-retired", cred.ID)
	})

	s.Run("unknown id is a certificate-not-found error", func() {
		_, err := s.manager.CredentialByID(s.ctx, "absent")
		s.Require().Error(err)
		s.Equal(dErrors.CodeCertificateNotFound, dErrors.CodeOf(err))
	})
}
