package request

import (
	"fmt"
	"time"

	dErrors "fiskal/pkg/domain-errors"
)

// ScheduleKind discriminates the work-schedule declaration variants.
type ScheduleKind string

const (
	ScheduleRegular  ScheduleKind = "regular"
	ScheduleOneTime  ScheduleKind = "one_time"
	ScheduleTwoShift ScheduleKind = "two_shift"
	ScheduleOddEven  ScheduleKind = "odd_even"
)

// RegularSchedule declares recurring weekly opening hours.
type RegularSchedule struct {
	Weekdays string // e.g. "Mon-Fri 08:00-16:00"
	Saturday string
	Sunday   string
}

// OneTimeSchedule declares operation within a single date range.
type OneTimeSchedule struct {
	From time.Time
	To   time.Time
}

// TwoShiftSchedule declares morning and afternoon shifts.
type TwoShiftSchedule struct {
	FirstShift  string // e.g. "06:00-14:00"
	SecondShift string // e.g. "14:00-22:00"
}

// OddEvenSchedule declares alternating hours by calendar-date parity.
type OddEvenSchedule struct {
	OddDates  string
	EvenDates string
}

// WorkSchedule is the tagged union of schedule declarations. Exactly the
// arm matching Kind must be set; Declaration is exhaustive over kinds so a
// new variant fails compilation at its switch.
type WorkSchedule struct {
	Kind     ScheduleKind
	Regular  *RegularSchedule
	OneTime  *OneTimeSchedule
	TwoShift *TwoShiftSchedule
	OddEven  *OddEvenSchedule
}

// NewRegularSchedule builds a regular weekly schedule declaration.
func NewRegularSchedule(weekdays, saturday, sunday string) WorkSchedule {
	return WorkSchedule{Kind: ScheduleRegular, Regular: &RegularSchedule{
		Weekdays: weekdays, Saturday: saturday, Sunday: sunday,
	}}
}

// NewOneTimeSchedule builds a one-time date-range declaration.
func NewOneTimeSchedule(from, to time.Time) WorkSchedule {
	return WorkSchedule{Kind: ScheduleOneTime, OneTime: &OneTimeSchedule{From: from, To: to}}
}

// NewTwoShiftSchedule builds a two-shift declaration.
func NewTwoShiftSchedule(first, second string) WorkSchedule {
	return WorkSchedule{Kind: ScheduleTwoShift, TwoShift: &TwoShiftSchedule{
		FirstShift: first, SecondShift: second,
	}}
}

// NewOddEvenSchedule builds an odd/even-date declaration.
func NewOddEvenSchedule(oddDates, evenDates string) WorkSchedule {
	return WorkSchedule{Kind: ScheduleOddEven, OddEven: &OddEvenSchedule{
		OddDates: oddDates, EvenDates: evenDates,
	}}
}

// Declaration renders the schedule as the schema's declaration token.
func (s WorkSchedule) Declaration() (string, error) {
	switch s.Kind {
	case ScheduleRegular:
		if s.Regular == nil {
			return "", dErrors.New(dErrors.CodeInvalidInput, "regular schedule arm is not set")
		}
		out := s.Regular.Weekdays
		if s.Regular.Saturday != "" {
			out += "; Sat " + s.Regular.Saturday
		}
		if s.Regular.Sunday != "" {
			out += "; Sun " + s.Regular.Sunday
		}
		return out, nil
	case ScheduleOneTime:
		if s.OneTime == nil {
			return "", dErrors.New(dErrors.CodeInvalidInput, "one-time schedule arm is not set")
		}
		if s.OneTime.To.Before(s.OneTime.From) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "one-time schedule ends before it starts")
		}
		return fmt.Sprintf("%s to %s",
			s.OneTime.From.Format("02.01.2006"), s.OneTime.To.Format("02.01.2006")), nil
	case ScheduleTwoShift:
		if s.TwoShift == nil {
			return "", dErrors.New(dErrors.CodeInvalidInput, "two-shift schedule arm is not set")
		}
		return fmt.Sprintf("shift 1 %s, shift 2 %s", s.TwoShift.FirstShift, s.TwoShift.SecondShift), nil
	case ScheduleOddEven:
		if s.OddEven == nil {
			return "", dErrors.New(dErrors.CodeInvalidInput, "odd/even schedule arm is not set")
		}
		return fmt.Sprintf("odd dates %s, even dates %s", s.OddEven.OddDates, s.OddEven.EvenDates), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown schedule kind %q", s.Kind)
	}
}
