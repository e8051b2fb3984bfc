package generic

// =============================================================================
// BUSINESS-DAY COUNTER AND DEADLINE PROJECTOR
// =============================================================================
//
// Both functions are pure: same inputs, same output, no shared state. They walk
// one calendar day at a time, which is fine for ranges of a few months.

// CountBusinessDays counts business days in (start, end]: days strictly after
// start up to and including end that fall Monday-Friday and are not holidays.
//
// start == end yields 0. start > end is a caller bug and returns a *RangeError.
func CountBusinessDays(start, end TimePoint, cal HolidayCalendar) (int, error) {
	if end.Before(start) {
		return 0, &RangeError{Start: start, End: end}
	}

	count := 0
	for day := start.AddDays(1); day.BeforeOrEqual(end); day = day.AddDays(1) {
		if IsBusinessDay(day, cal) {
			count++
		}
	}
	return count, nil
}

// ProjectDeadline walks forward from start and returns the date on which the
// budget-th business day is reached. start itself never counts.
//
// A budget of 0 returns start. Negative budgets are rejected.
func ProjectDeadline(start TimePoint, budget int, cal HolidayCalendar) (TimePoint, error) {
	if budget < 0 {
		return TimePoint{}, &BudgetError{Budget: budget}
	}

	current := start
	for counted := 0; counted < budget; {
		current = current.AddDays(1)
		if IsBusinessDay(current, cal) {
			counted++
		}
	}
	return current, nil
}
