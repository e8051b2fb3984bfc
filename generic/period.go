package generic

// =============================================================================
// PERIOD - A stretch of calendar days during which a clock was running
// =============================================================================

// Period is the half-open date range (Start, End]: Start itself is not
// counted, End is. Chaining periods end-to-start therefore never counts a
// boundary day twice.
//
// Examples:
//   - (2024-02-01, 2024-02-02] covers exactly Friday Feb 2
//   - (d, d] is empty
type Period struct {
	Start TimePoint `json:"start"`
	End   TimePoint `json:"end"`
}

// Valid reports whether Start <= End.
func (p Period) Valid() bool {
	return p.Start.BeforeOrEqual(p.End)
}

// Contains returns true if t is within (Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.After(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns every calendar day in (Start, End].
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start.AddDays(1); current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// BusinessDays counts the business days in the period.
func (p Period) BusinessDays(cal HolidayCalendar) (int, error) {
	return CountBusinessDays(p.Start, p.End, cal)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "(" + p.Start.String() + ", " + p.End.String() + "]"
}

// SumBusinessDays adds up the business days of every period.
func SumBusinessDays(periods []Period, cal HolidayCalendar) (int, error) {
	total := 0
	for _, p := range periods {
		n, err := p.BusinessDays(cal)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
