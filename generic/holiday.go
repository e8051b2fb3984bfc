package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// HOLIDAY CALENDAR - Non-business dates
// =============================================================================

// Holiday is a non-business date. Entries are immutable once stored.
type Holiday struct {
	ID        string
	Date      TimePoint
	Name      string
	Recurring bool // true = same month/day every year
}

// HolidayCalendar answers whether a date is a holiday.
// Implementations must be safe for concurrent reads.
type HolidayCalendar interface {
	IsHoliday(date TimePoint) bool
}

type monthDay struct {
	month time.Month
	day   int
}

type dateKey struct {
	year int
	monthDay
}

func keyOf(date TimePoint) dateKey {
	return dateKey{date.Year(), monthDay{date.Month(), date.Day()}}
}

// HolidaySet is an immutable HolidayCalendar built from a snapshot of
// holiday entries. Build one per computation and share it freely.
type HolidaySet struct {
	dates     map[dateKey]struct{}
	recurring map[monthDay]struct{}
}

// NewHolidaySet builds a set from the given entries. Later mutation of the
// caller's slice does not affect the set.
func NewHolidaySet(holidays ...Holiday) *HolidaySet {
	s := &HolidaySet{
		dates:     make(map[dateKey]struct{}, len(holidays)),
		recurring: make(map[monthDay]struct{}),
	}
	for _, h := range holidays {
		if h.Recurring {
			s.recurring[monthDay{h.Date.Month(), h.Date.Day()}] = struct{}{}
			continue
		}
		s.dates[keyOf(h.Date)] = struct{}{}
	}
	return s
}

// NewHolidaySetFromDates is a shortcut for calendars given as plain dates.
func NewHolidaySetFromDates(dates ...TimePoint) *HolidaySet {
	holidays := make([]Holiday, len(dates))
	for i, d := range dates {
		holidays[i] = Holiday{Date: d}
	}
	return NewHolidaySet(holidays...)
}

func (s *HolidaySet) IsHoliday(date TimePoint) bool {
	if s == nil {
		return false
	}
	if _, ok := s.dates[keyOf(date)]; ok {
		return true
	}
	_, ok := s.recurring[monthDay{date.Month(), date.Day()}]
	return ok
}

// Len returns the number of entries (fixed + recurring).
func (s *HolidaySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.dates) + len(s.recurring)
}

// IsBusinessDay reports whether date is Monday-Friday and not a holiday.
// A nil calendar means weekends only.
func IsBusinessDay(date TimePoint, cal HolidayCalendar) bool {
	if date.IsWeekend() {
		return false
	}
	return cal == nil || !cal.IsHoliday(date)
}

// DefaultMexicanHolidays returns the official non-business days observed by
// the tax administration for the given year.
func DefaultMexicanHolidays(year int) []Holiday {
	defaults := []struct {
		date      TimePoint
		name      string
		recurring bool
	}{
		{NewTimePoint(year, time.January, 1), "Año Nuevo", true},
		{nthWeekday(year, time.February, time.Monday, 1), "Día de la Constitución", false},
		{nthWeekday(year, time.March, time.Monday, 3), "Natalicio de Benito Juárez", false},
		{NewTimePoint(year, time.May, 1), "Día del Trabajo", true},
		{NewTimePoint(year, time.September, 16), "Día de la Independencia", true},
		{nthWeekday(year, time.November, time.Monday, 3), "Día de la Revolución", false},
		{NewTimePoint(year, time.December, 25), "Navidad", true},
	}

	holidays := make([]Holiday, 0, len(defaults))
	for _, d := range defaults {
		id := fmt.Sprintf("holiday-%s", d.date)
		if d.recurring {
			id = fmt.Sprintf("holiday-%02d%02d", d.date.Month(), d.date.Day())
		}
		holidays = append(holidays, Holiday{
			ID:        id,
			Date:      d.date,
			Name:      d.name,
			Recurring: d.recurring,
		})
	}
	return holidays
}

// nthWeekday returns the n-th given weekday of a month (n starts at 1).
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) TimePoint {
	first := NewTimePoint(year, month, 1)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDays(offset + (n-1)*7)
}
