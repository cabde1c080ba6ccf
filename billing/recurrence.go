package billing

// =============================================================================
// RECURRENCE - Month-step periods and end conditions
// =============================================================================

// RecurrencePeriod is the month step between consecutive charges.
type RecurrencePeriod string

const (
	Monthly    RecurrencePeriod = "MONTHLY"
	Bimonthly  RecurrencePeriod = "BIMONTHLY"
	Quarterly  RecurrencePeriod = "QUARTERLY"
	Semiannual RecurrencePeriod = "SEMIANNUAL"
	Annual     RecurrencePeriod = "ANNUAL"
)

// MonthStep returns the number of months between charges, or 0 for an
// unknown period.
func (p RecurrencePeriod) MonthStep() int {
	switch p {
	case Monthly:
		return 1
	case Bimonthly:
		return 2
	case Quarterly:
		return 3
	case Semiannual:
		return 6
	case Annual:
		return 12
	default:
		return 0
	}
}

// EndConditionType bounds (or doesn't) a recurrence sequence.
type EndConditionType string

const (
	EndNone  EndConditionType = "NONE"     // open-ended
	EndDate  EndConditionType = "END_DATE" // last due date <= Until
	EndCount EndConditionType = "COUNT"    // exactly Count charges, anchor included
)

type EndCondition struct {
	Type  EndConditionType
	Until Date // END_DATE only
	Count int  // COUNT only
}

// RecurrenceConfig is the subscription half of a template.
type RecurrenceConfig struct {
	Period RecurrencePeriod
	End    EndCondition
}

// =============================================================================
// SCHEDULE - Lazy, restartable due-date sequence
// =============================================================================

// Schedule produces the due-date sequence anchor, anchor+step, anchor+2*step,
// each independently clamped from the anchor (a day-31 anchor yields Feb 28
// then Mar 31, never drifting to the 28th permanently). It holds no mutable
// state: any element is recomputable from the anchor at any time, which is
// what makes subscription generation restartable after crashes.
type Schedule struct {
	Anchor Date
	Period RecurrencePeriod
	End    EndCondition
}

// NewSchedule validates and builds a schedule.
func NewSchedule(anchor Date, period RecurrencePeriod, end EndCondition) (Schedule, error) {
	if anchor.IsZero() {
		return Schedule{}, &InvalidRecurrenceError{Reason: "anchor date is required"}
	}
	if period.MonthStep() == 0 {
		return Schedule{}, &InvalidRecurrenceError{Reason: "unknown period " + string(period)}
	}
	switch end.Type {
	case EndNone:
	case EndDate:
		if end.Until.Before(anchor) {
			return Schedule{}, &InvalidRecurrenceError{Reason: "end date precedes anchor"}
		}
	case EndCount:
		if end.Count < 1 {
			return Schedule{}, &InvalidRecurrenceError{Reason: "count must be >= 1"}
		}
	default:
		return Schedule{}, &InvalidRecurrenceError{Reason: "unknown end condition " + string(end.Type)}
	}
	return Schedule{Anchor: anchor, Period: period, End: end}, nil
}

// DateAt returns the i-th due date (0-based, i=0 is the anchor itself).
// The shift is always applied from the anchor, never from a previously
// clamped result.
func (s Schedule) DateAt(i int) Date {
	return s.Anchor.AddMonthsClamped(i * s.Period.MonthStep())
}

// Includes reports whether the i-th element is inside the end condition.
func (s Schedule) Includes(i int) bool {
	if i < 0 {
		return false
	}
	switch s.End.Type {
	case EndDate:
		return s.DateAt(i).BeforeOrEqual(s.End.Until)
	case EndCount:
		return i < s.End.Count
	default:
		return true
	}
}

// NextAfter returns the first due date strictly after d, or false when the
// end condition is exhausted. It derives the answer from the anchor alone;
// no state is consulted or mutated.
func (s Schedule) NextAfter(d Date) (Date, bool) {
	step := s.Period.MonthStep()

	// Seed the search near d instead of walking from the anchor.
	i := MonthsBetween(s.Anchor, d) / step
	if i < 0 {
		i = 0
	}
	for i > 0 && s.DateAt(i).After(d) {
		i--
	}
	for !s.DateAt(i).After(d) {
		i++
	}
	if !s.Includes(i) {
		return Date{}, false
	}
	return s.DateAt(i), true
}

// Dates materializes at most max elements of the sequence. For open-ended
// subscriptions the engine never needs more than the next unmaterialized
// element; this helper exists for bounded plans and for tests.
func (s Schedule) Dates(max int) []Date {
	var out []Date
	for i := 0; i < max && s.Includes(i); i++ {
		out = append(out, s.DateAt(i))
	}
	return out
}
