package refund_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

func holidays(dates ...string) *generic.HolidaySet {
	tps := make([]generic.TimePoint, len(dates))
	for i, s := range dates {
		tps[i] = d(s)
	}
	return generic.NewHolidaySetFromDates(tps...)
}

func TestDeriveStatus_FreshCase(t *testing.T) {
	// GIVEN: A request filed 2024-01-02 with New Year's Day as a holiday
	cp := checkpoints("2024-01-02", req(refund.Req1, "", ""), req(refund.Req2, "", ""))
	cal := holidays("2024-01-01")

	// WHEN: Evaluated the day before the deadline
	before, err := refund.DeriveStatus(cp, d("2024-02-26"), cal)
	require.NoError(t, err)

	// THEN: One business day is left
	assert.Equal(t, refund.StatusInProgress, before.Label)
	assert.Equal(t, 39, before.ElapsedBusinessDays)
	assert.Equal(t, 1, before.RemainingBusinessDays)
	assert.False(t, before.IsPaused)
	assert.Nil(t, before.DaysLeftToRespond)

	// WHEN: Evaluated on the deadline
	on, err := refund.DeriveStatus(cp, d("2024-02-27"), cal)
	require.NoError(t, err)

	// THEN: The case is expired
	assert.Equal(t, refund.StatusExpired, on.Label)
	assert.Equal(t, 40, on.ElapsedBusinessDays)
	assert.Equal(t, 0, on.RemainingBusinessDays)
}

func TestDeriveStatus_PausedOnFirstRequirement(t *testing.T) {
	cp := checkpoints("2024-01-15", req(refund.Req1, "2024-02-01", ""), req(refund.Req2, "", ""))

	tests := []struct {
		name     string
		cal      generic.HolidayCalendar
		daysLeft int
	}{
		{"no holidays", nil, 14},
		{"holiday while waiting", holidays("2024-02-05"), 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN: Evaluated on Saturday 2024-02-10
			st, err := refund.DeriveStatus(cp, d("2024-02-10"), tt.cal)
			require.NoError(t, err)

			// THEN: The clock stopped at the notification
			assert.Equal(t, refund.StatusPausedReq1, st.Label)
			assert.True(t, st.IsPaused)
			assert.Equal(t, refund.Req1, st.ActivePause)
			assert.Equal(t, 13, st.ElapsedBusinessDays)
			assert.Equal(t, 27, st.RemainingBusinessDays)
			require.NotNil(t, st.DaysLeftToRespond)
			assert.Equal(t, tt.daysLeft, *st.DaysLeftToRespond)
		})
	}
}

func TestDeriveStatus_ResumedAfterResponse(t *testing.T) {
	cp := checkpoints("2024-01-15", req(refund.Req1, "2024-02-01", "2024-02-05"), req(refund.Req2, "", ""))

	st, err := refund.DeriveStatus(cp, d("2024-02-20"), nil)
	require.NoError(t, err)

	assert.Equal(t, refund.StatusInProgress, st.Label)
	assert.Equal(t, 24, st.ElapsedBusinessDays)
	assert.Equal(t, 16, st.RemainingBusinessDays)
	assert.Len(t, st.Segments, 2)

	// AND: Tomorrow counts one more day without any write
	next, err := refund.DeriveStatus(cp, d("2024-02-21"), nil)
	require.NoError(t, err)
	assert.Equal(t, 25, next.ElapsedBusinessDays)

	// AND: A holiday inside a running segment is excluded
	withHoliday, err := refund.DeriveStatus(cp, d("2024-02-20"), holidays("2024-02-12"))
	require.NoError(t, err)
	assert.Equal(t, 23, withHoliday.ElapsedBusinessDays)

	// AND: A holiday inside the pause changes nothing
	pausedHoliday, err := refund.DeriveStatus(cp, d("2024-02-20"), holidays("2024-02-02"))
	require.NoError(t, err)
	assert.Equal(t, 24, pausedHoliday.ElapsedBusinessDays)
}

func TestDeriveStatus_ExpiryOutranksPause(t *testing.T) {
	// GIVEN: A case that used its whole budget before the second requirement
	cp := checkpoints("2024-01-02", req(refund.Req1, "2024-02-01", "2024-02-05"), req(refund.Req2, "2024-02-29", ""))

	// WHEN: Evaluated while the second requirement is still open
	st, err := refund.DeriveStatus(cp, d("2024-03-05"), nil)
	require.NoError(t, err)

	// THEN: The label is expired but the pause is still reported
	assert.Equal(t, refund.StatusExpired, st.Label)
	assert.Equal(t, 40, st.ElapsedBusinessDays)
	assert.Equal(t, 0, st.RemainingBusinessDays)
	assert.True(t, st.IsPaused)
	assert.Equal(t, refund.Req2, st.ActivePause)
	require.NotNil(t, st.DaysLeftToRespond)
	assert.Equal(t, 7, *st.DaysLeftToRespond)
}

func TestDeriveStatus_OverdueResponse(t *testing.T) {
	cp := checkpoints("2024-01-15", req(refund.Req1, "2024-02-01", ""), req(refund.Req2, "", ""))

	st, err := refund.DeriveStatus(cp, d("2024-03-05"), nil)
	require.NoError(t, err)

	require.NotNil(t, st.DaysLeftToRespond)
	assert.Equal(t, -3, *st.DaysLeftToRespond)
	assert.Equal(t, refund.StatusPausedReq1, st.Label)
}

func TestDeriveStatus_ElapsedPlusRemaining(t *testing.T) {
	cp := checkpoints("2024-01-15", req(refund.Req1, "2024-02-01", "2024-02-05"), req(refund.Req2, "", ""))

	for day := d("2024-02-05"); day.BeforeOrEqual(d("2024-04-30")); day = day.AddDays(1) {
		st, err := refund.DeriveStatus(cp, day, nil)
		require.NoError(t, err)
		assert.Equal(t, max(0, 40-st.ElapsedBusinessDays), st.RemainingBusinessDays)
		assert.Equal(t, st.ElapsedBusinessDays >= 40, st.Label == refund.StatusExpired, "day %s", day)
	}
}

func TestDeriveStatus_InvalidCheckpoints(t *testing.T) {
	cp := checkpoints("2024-01-15", req(refund.Req1, "", "2024-02-05"), req(refund.Req2, "", ""))

	_, err := refund.DeriveStatus(cp, d("2024-02-20"), nil)

	assert.True(t, generic.IsClientError(err))
}

func TestRegime_CustomBudgets(t *testing.T) {
	r := refund.Regime{BudgetDays: 10, Req1BudgetDays: 5, Req2BudgetDays: 3}
	require.NoError(t, r.Validate())

	cp := checkpoints("2024-02-01", req(refund.Req1, "", ""), req(refund.Req2, "", ""))
	st, err := r.DeriveStatus(cp, d("2024-02-15"), nil)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusExpired, st.Label)

	deadline, err := r.StatutoryDeadline(d("2024-02-01"), nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", deadline.String())

	assert.Error(t, refund.Regime{BudgetDays: 40}.Validate())
}

func TestRegime_ResponseDeadline(t *testing.T) {
	r := refund.DefaultRegime

	deadline, ok, err := r.ResponseDeadline(req(refund.Req1, "2024-02-01", ""), refund.Req1, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-02-29", deadline.String())

	deadline, ok, err = r.ResponseDeadline(req(refund.Req2, "2024-03-05", ""), refund.Req2, holidays("2024-03-18"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-03-20", deadline.String())

	_, ok, err = r.ResponseDeadline(req(refund.Req1, "", ""), refund.Req1, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
