package refund

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// HOLIDAY CALENDAR MANAGEMENT
// =============================================================================
//
// Holiday changes apply to every computation made afterwards, including the
// status of existing cases. Statutory deadlines already fixed at creation are
// not recomputed.

func (s *Service) ListHolidays(ctx context.Context) ([]generic.Holiday, error) {
	return s.Holidays.ListHolidays(ctx)
}

// AddHoliday stores a holiday under a fresh id.
func (s *Service) AddHoliday(ctx context.Context, date generic.TimePoint, name string, recurring bool) (*generic.Holiday, error) {
	name = strings.TrimSpace(name)
	if date.IsZero() || name == "" {
		return nil, fmt.Errorf("%w: holiday date and name are required", generic.ErrInvalidInput)
	}
	h := generic.Holiday{ID: "holiday-" + uuid.NewString(), Date: date, Name: name, Recurring: recurring}
	if err := s.Holidays.SaveHoliday(ctx, h); err != nil {
		return nil, fmt.Errorf("save holiday: %w", err)
	}
	s.auditHoliday(ctx, "added", h)
	return &h, nil
}

// SeedDefaultHolidays stores the official calendar for year. Ids are
// deterministic, so seeding twice is harmless.
func (s *Service) SeedDefaultHolidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	if year < 1900 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d", generic.ErrInvalidInput, year)
	}
	holidays := generic.DefaultMexicanHolidays(year)
	for _, h := range holidays {
		if err := s.Holidays.SaveHoliday(ctx, h); err != nil {
			return nil, fmt.Errorf("save holiday %s: %w", h.ID, err)
		}
	}
	s.logger().Info("default holidays seeded", zap.Int("year", year), zap.Int("count", len(holidays)))
	return holidays, nil
}

func (s *Service) RemoveHoliday(ctx context.Context, id string) error {
	if err := s.Holidays.DeleteHoliday(ctx, id); err != nil {
		return err
	}
	s.auditHoliday(ctx, "removed", generic.Holiday{ID: id})
	return nil
}

func (s *Service) auditHoliday(ctx context.Context, change string, h generic.Holiday) {
	payload := map[string]any{"change": change}
	if !h.Date.IsZero() {
		payload["date"] = h.Date.String()
		payload["name"] = h.Name
		payload["recurring"] = h.Recurring
	}
	if err := s.Store.AppendAudit(ctx, s.audit(ctx, generic.AuditHolidayChanged, "holidays", h.ID, payload)); err != nil {
		s.logger().Warn("holiday audit failed", zap.String("holiday_id", h.ID), zap.Error(err))
	}
}

// =============================================================================
// CALENDAR TOOLS
// =============================================================================

// ProjectDeadline projects start + budget business days with the stored
// holidays.
func (s *Service) ProjectDeadline(ctx context.Context, start generic.TimePoint, budget int) (generic.TimePoint, error) {
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("load holidays: %w", err)
	}
	return generic.ProjectDeadline(start, budget, cal)
}

// CountBusinessDays counts business days in (start, end] with the stored
// holidays. A reversed range is a client error here, not an invariant
// violation.
func (s *Service) CountBusinessDays(ctx context.Context, start, end generic.TimePoint) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %s precedes start %s", generic.ErrInvalidInput, end, start)
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return 0, fmt.Errorf("load holidays: %w", err)
	}
	return generic.CountBusinessDays(start, end, cal)
}
