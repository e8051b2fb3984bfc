package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date used by every business-day computation
// =============================================================================

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// TimePoint is a calendar date. The clock part is always midnight UTC so two
// TimePoints for the same date compare equal regardless of where they came from.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: date %q must use YYYY-MM-DD", ErrInvalidInput, s)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and seed data.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(DateLayout)
}

// MarshalText encodes the date as YYYY-MM-DD so TimePoint can sit directly in
// JSON payloads.
func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

func (tp *TimePoint) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*tp = TimePoint{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// CLOCK - The only place "today" comes from
// =============================================================================

// Clock supplies the evaluation date. The engine never calls it; services do,
// and pass the result down explicitly.
type Clock interface {
	Today() TimePoint
}

// ZoneClock reads the wall clock and takes the calendar date in a fixed zone.
type ZoneClock struct {
	Location *time.Location
	Now      func() time.Time // nil means time.Now
}

// NewZoneClock loads the named IANA zone (e.g. "America/Mexico_City").
func NewZoneClock(zone string) (*ZoneClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return &ZoneClock{Location: loc}, nil
}

func (c *ZoneClock) Today() TimePoint {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now().In(loc))
}

// FixedClock always returns the same date.
type FixedClock TimePoint

func (c FixedClock) Today() TimePoint { return TimePoint(c) }
