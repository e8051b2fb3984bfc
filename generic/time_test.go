package generic_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/refund-tracker/generic"
)

func TestParseDate(t *testing.T) {
	tp, err := generic.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, generic.NewTimePoint(2024, time.February, 29), tp)

	for _, bad := range []string{"", "2024-02-30", "29/02/2024", "2024-2-9"} {
		_, err := generic.ParseDate(bad)
		assert.True(t, errors.Is(err, generic.ErrInvalidInput), "input %q", bad)
	}
}

func TestTimePoint_JSON(t *testing.T) {
	type payload struct {
		Date generic.TimePoint  `json:"date"`
		Opt  *generic.TimePoint `json:"opt"`
	}

	raw, err := json.Marshal(payload{Date: d("2024-03-05")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-03-05","opt":null}`, string(raw))

	var back payload
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2024-03-05","opt":"2024-03-06"}`), &back))
	assert.True(t, back.Date.Equal(d("2024-03-05")))
	require.NotNil(t, back.Opt)
	assert.Equal(t, "2024-03-06", back.Opt.String())

	assert.Error(t, json.Unmarshal([]byte(`{"date":"March 5"}`), &back))
}

func TestZoneClock_UsesZoneDate(t *testing.T) {
	// GIVEN: 03:00 UTC on March 1st, which is still February 29th in Mexico City
	clock, err := generic.NewZoneClock("America/Mexico_City")
	require.NoError(t, err)
	clock.Now = func() time.Time { return time.Date(2024, time.March, 1, 3, 0, 0, 0, time.UTC) }

	// THEN: Today follows the zone, not UTC
	assert.Equal(t, "2024-02-29", clock.Today().String())
}

func TestNewZoneClock_UnknownZone(t *testing.T) {
	_, err := generic.NewZoneClock("Mars/Olympus_Mons")

	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	clock := generic.FixedClock(d("2024-02-20"))

	assert.Equal(t, d("2024-02-20"), clock.Today())
}

func TestPeriod(t *testing.T) {
	p := generic.Period{Start: d("2024-02-01"), End: d("2024-02-05")}

	assert.True(t, p.Valid())
	assert.False(t, p.Contains(d("2024-02-01")), "start is excluded")
	assert.True(t, p.Contains(d("2024-02-05")), "end is included")
	assert.Len(t, p.Days(), 4)
	assert.Equal(t, "(2024-02-01, 2024-02-05]", p.String())

	n, err := p.BusinessDays(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSumBusinessDays(t *testing.T) {
	segments := []generic.Period{
		{Start: d("2024-01-15"), End: d("2024-02-01")},
		{Start: d("2024-02-05"), End: d("2024-02-20")},
	}

	total, err := generic.SumBusinessDays(segments, nil)

	require.NoError(t, err)
	assert.Equal(t, 24, total)

	_, err = generic.SumBusinessDays([]generic.Period{{Start: d("2024-02-05"), End: d("2024-02-01")}}, nil)
	assert.True(t, errors.Is(err, generic.ErrInvalidRange))
}

func TestParseMoney(t *testing.T) {
	m, err := generic.ParseMoney("15230.5", generic.CurrencyMXN)
	require.NoError(t, err)
	assert.Equal(t, "15230.50 MXN", m.String())

	_, err = generic.ParseMoney("-1", generic.CurrencyMXN)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
	_, err = generic.ParseMoney("mil", generic.CurrencyMXN)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		client   bool
		conflict bool
		notFound bool
		internal bool
	}{
		{"checkpoint", &generic.CheckpointError{Slot: "req1", Reason: "x"}, true, false, false, false},
		{"budget", &generic.BudgetError{Budget: -2}, true, false, false, false},
		{"issued", generic.ErrRequirementIssued, false, true, false, false},
		{"not open", generic.ErrRequirementNotOpen, false, true, false, false},
		{"case", generic.ErrCaseNotFound, false, false, true, false},
		{"range", &generic.RangeError{}, false, false, false, true},
		{"unknown", errors.New("disk on fire"), false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.client, generic.IsClientError(tt.err))
			assert.Equal(t, tt.conflict, generic.IsConflict(tt.err))
			assert.Equal(t, tt.notFound, generic.IsNotFound(tt.err))
			assert.Equal(t, tt.internal, generic.IsInternal(tt.err))
		})
	}
}
