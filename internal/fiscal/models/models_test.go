package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type SubmissionStateSuite struct {
	suite.Suite
}

func TestSubmissionStateSuite(t *testing.T) {
	suite.Run(t, new(SubmissionStateSuite))
}

func (s *SubmissionStateSuite) TestIsValid() {
	for _, state := range []SubmissionState{
		StateUnsigned, StateProtectionCodeComputed, StateSubmitting,
		StateConfirmed, StatePendingRetry, StateRejected,
	} {
		s.True(state.IsValid(), "state %s", state)
	}
	s.False(SubmissionState("draft").IsValid())
}

func (s *SubmissionStateSuite) TestTerminal() {
	s.True(StateConfirmed.Terminal())
	s.True(StateRejected.Terminal())
	s.False(StatePendingRetry.Terminal())
	s.False(StateSubmitting.Terminal())
}

func (s *SubmissionStateSuite) TestCanTransition() {
	allowed := map[SubmissionState][]SubmissionState{
		StateUnsigned:               {StateProtectionCodeComputed},
		StateProtectionCodeComputed: {StateSubmitting},
		StateSubmitting:             {StateConfirmed, StatePendingRetry, StateRejected},
		StatePendingRetry:           {StateSubmitting},
		StateConfirmed:              {},
		StateRejected:               {},
	}

	all := []SubmissionState{
		StateUnsigned, StateProtectionCodeComputed, StateSubmitting,
		StateConfirmed, StatePendingRetry, StateRejected,
	}
	for from, nexts := range allowed {
		permitted := make(map[SubmissionState]bool, len(nexts))
		for _, n := range nexts {
			permitted[n] = true
		}
		for _, to := range all {
			s.Equal(permitted[to], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func (s *SubmissionStateSuite) TestPaymentMethod() {
	for _, p := range []PaymentMethod{PaymentCash, PaymentCard, PaymentCheck, PaymentTransfer, PaymentOther} {
		s.True(p.IsValid(), "method %s", p)
	}
	s.False(PaymentMethod("X").IsValid())
	s.False(PaymentMethod("").IsValid())
}

func (s *SubmissionStateSuite) TestConfirmed() {
	r := &FiscalReceipt{State: StateConfirmed, AuthorityID: "jir"}
	s.True(r.Confirmed())

	// Confirmed state without an identifier is not a confirmation.
	s.False((&FiscalReceipt{State: StateConfirmed}).Confirmed())
	s.False((&FiscalReceipt{State: StatePendingRetry, AuthorityID: "jir"}).Confirmed())
}
