package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

func mustSchedule(t *testing.T, anchor billing.Date, period billing.RecurrencePeriod, end billing.EndCondition) billing.Schedule {
	t.Helper()
	s, err := billing.NewSchedule(anchor, period, end)
	require.NoError(t, err)
	return s
}

// =============================================================================
// PERIOD STEP TESTS
// =============================================================================

func TestSchedule_PeriodSteps(t *testing.T) {
	anchor := billing.NewDate(2025, time.January, 15)

	cases := []struct {
		period billing.RecurrencePeriod
		second string
	}{
		{billing.Monthly, "2025-02-15"},
		{billing.Bimonthly, "2025-03-15"},
		{billing.Quarterly, "2025-04-15"},
		{billing.Semiannual, "2025-07-15"},
		{billing.Annual, "2026-01-15"},
	}
	for _, c := range cases {
		s := mustSchedule(t, anchor, c.period, billing.EndCondition{Type: billing.EndNone})
		assert.Equal(t, anchor.String(), s.DateAt(0).String(), "%s: element 0 is the anchor", c.period)
		assert.Equal(t, c.second, s.DateAt(1).String(), "%s: element 1", c.period)
	}
}

func TestSchedule_Day31Anchor_RecoversAfterFebruary(t *testing.T) {
	// GIVEN: A monthly schedule anchored on January 31
	// WHEN: Materializing the first four elements
	// THEN: February clamps but March lands back on the 31st

	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 31),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndNone})

	dates := s.Dates(4)
	require.Len(t, dates, 4)
	assert.Equal(t, "2025-01-31", dates[0].String())
	assert.Equal(t, "2025-02-28", dates[1].String())
	assert.Equal(t, "2025-03-31", dates[2].String())
	assert.Equal(t, "2025-04-30", dates[3].String())
}

// =============================================================================
// END CONDITION TESTS
// =============================================================================

func TestSchedule_EndCount_IncludesAnchor(t *testing.T) {
	// GIVEN: A monthly schedule ending after 3 charges
	// WHEN: Materializing
	// THEN: Exactly 3 elements exist, the anchor counting as the first

	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 15),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndCount, Count: 3})

	dates := s.Dates(10)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-03-15", dates[2].String())
	assert.False(t, s.Includes(3))
}

func TestSchedule_EndDate_LastElementOnOrBeforeUntil(t *testing.T) {
	// GIVEN: A monthly schedule ending by April 20
	// WHEN: Materializing
	// THEN: The April 15 element is included, the May one is not

	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 15),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndDate, Until: billing.NewDate(2025, time.April, 20)})

	dates := s.Dates(10)
	require.Len(t, dates, 4)
	assert.Equal(t, "2025-04-15", dates[3].String())
}

func TestSchedule_EndDate_ExactBoundaryIncluded(t *testing.T) {
	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 15),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndDate, Until: billing.NewDate(2025, time.March, 15)})

	dates := s.Dates(10)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-03-15", dates[2].String())
}

// =============================================================================
// NEXT-AFTER TESTS (restartability)
// =============================================================================

func TestSchedule_NextAfter_FromAnchor(t *testing.T) {
	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 20),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndNone})

	next, ok := s.NextAfter(billing.NewDate(2025, time.January, 20))
	require.True(t, ok)
	assert.Equal(t, "2025-02-20", next.String())
}

func TestSchedule_NextAfter_BeforeAnchor_ReturnsAnchor(t *testing.T) {
	s := mustSchedule(t,
		billing.NewDate(2025, time.June, 10),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndNone})

	next, ok := s.NextAfter(billing.NewDate(2024, time.December, 1))
	require.True(t, ok)
	assert.Equal(t, "2025-06-10", next.String())
}

func TestSchedule_NextAfter_ClampedCursor_RecoversAnchorDay(t *testing.T) {
	// GIVEN: A day-31 anchor whose last generated due date was the clamped
	//        February 28
	// WHEN: Asking for the next due date
	// THEN: March 31, not March 28 - the sequence is derived from the anchor,
	//       never from the clamped cursor value

	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 31),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndNone})

	next, ok := s.NextAfter(billing.NewDate(2025, time.February, 28))
	require.True(t, ok)
	assert.Equal(t, "2025-03-31", next.String())
}

func TestSchedule_NextAfter_MidPeriodDate(t *testing.T) {
	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 20),
		billing.Quarterly,
		billing.EndCondition{Type: billing.EndNone})

	next, ok := s.NextAfter(billing.NewDate(2025, time.March, 3))
	require.True(t, ok)
	assert.Equal(t, "2025-04-20", next.String())
}

func TestSchedule_NextAfter_Exhausted(t *testing.T) {
	s := mustSchedule(t,
		billing.NewDate(2025, time.January, 15),
		billing.Monthly,
		billing.EndCondition{Type: billing.EndCount, Count: 2})

	// Last element is 2025-02-15; nothing follows it.
	_, ok := s.NextAfter(billing.NewDate(2025, time.February, 15))
	assert.False(t, ok)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestNewSchedule_Invalid(t *testing.T) {
	anchor := billing.NewDate(2025, time.January, 15)

	_, err := billing.NewSchedule(billing.Date{}, billing.Monthly, billing.EndCondition{Type: billing.EndNone})
	assert.True(t, errors.Is(err, billing.ErrInvalidRecurrenceConfig), "zero anchor")

	_, err = billing.NewSchedule(anchor, "WEEKLY", billing.EndCondition{Type: billing.EndNone})
	assert.True(t, errors.Is(err, billing.ErrInvalidRecurrenceConfig), "unknown period")

	_, err = billing.NewSchedule(anchor, billing.Monthly,
		billing.EndCondition{Type: billing.EndDate, Until: billing.NewDate(2024, time.December, 31)})
	assert.True(t, errors.Is(err, billing.ErrInvalidRecurrenceConfig), "end date before anchor")

	_, err = billing.NewSchedule(anchor, billing.Monthly,
		billing.EndCondition{Type: billing.EndCount, Count: 0})
	assert.True(t, errors.Is(err, billing.ErrInvalidRecurrenceConfig), "zero count")

	var recErr *billing.InvalidRecurrenceError
	assert.ErrorAs(t, err, &recErr)
}
