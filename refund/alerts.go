package refund

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// ALERT CHECKER - Periodic deadline scan over pending cases
// =============================================================================

// DefaultAlertThreshold is the number of business days before a deadline at
// which alerts start.
const DefaultAlertThreshold = 5

// AlertChecker scans pending cases and raises deadline alerts through the
// service's notifier.
type AlertChecker struct {
	Service *Service
	// ThresholdDays triggers deadline_near and response_due alerts. Zero
	// means DefaultAlertThreshold.
	ThresholdDays int
}

// CheckResult summarizes one pass.
type CheckResult struct {
	Checked int
	Alerts  []Alert
	Failed  int      // alerts the notifier rejected
	Skipped []string // cases whose status or alerts could not be evaluated
}

// Run evaluates every pending case for today and delivers the alerts.
// Delivery failures and cases that cannot be evaluated are logged and
// counted; they do not stop the pass.
func (a *AlertChecker) Run(ctx context.Context) (*CheckResult, error) {
	s := a.Service
	views, skipped, err := s.listViews(ctx, CaseFilter{StoredStatus: StoredPending})
	if err != nil {
		return nil, fmt.Errorf("list pending cases: %w", err)
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	today := s.Clock.Today()

	result := &CheckResult{Checked: len(views), Skipped: skipped}
	for _, v := range views {
		alerts, err := EvaluateAlerts(v, a.threshold(), today, cal)
		if err != nil {
			s.logger().Warn("alert evaluation failed, case skipped", zap.String("case_id", v.Case.ID), zap.Error(err))
			result.Skipped = append(result.Skipped, v.Case.ID)
			continue
		}
		for _, alert := range alerts {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			alert.RaisedAt = s.now()
			if err := s.notify(ctx, alert); err != nil {
				result.Failed++
			}
			result.Alerts = append(result.Alerts, alert)
		}
	}

	s.logger().Info("alert check complete",
		zap.Int("checked", result.Checked),
		zap.Int("alerts", len(result.Alerts)),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (a *AlertChecker) threshold() int {
	if a.ThresholdDays <= 0 {
		return DefaultAlertThreshold
	}
	return a.ThresholdDays
}

// EvaluateAlerts decides which alerts a case deserves today:
//   - deadline_expired when the label is vencido
//   - deadline_near when not expired and remaining <= threshold
//   - response_due when paused and days left to respond <= threshold,
//     including overdue responses
//
// RaisedAt is left for the caller.
func EvaluateAlerts(v CaseView, threshold int, today generic.TimePoint, cal generic.HolidayCalendar) ([]Alert, error) {
	c, st := v.Case, v.Status
	base := Alert{
		CaseID:                c.ID,
		CompanyID:             c.CompanyID,
		Label:                 st.Label,
		RemainingBusinessDays: st.RemainingBusinessDays,
	}

	var alerts []Alert
	switch {
	case st.Label == StatusExpired:
		a := base
		a.Kind = AlertDeadlineExpired
		a.Deadline = c.StatutoryDeadline
		a.Message = fmt.Sprintf("case %s expired after %d business days (statutory deadline %s)",
			c.ID, st.ElapsedBusinessDays, c.StatutoryDeadline)
		alerts = append(alerts, a)

	case st.RemainingBusinessDays <= threshold:
		// Paused cases keep their remaining days; the projection assumes the
		// clock resumes today.
		deadline, err := generic.ProjectDeadline(today, st.RemainingBusinessDays, cal)
		if err != nil {
			return nil, err
		}
		a := base
		a.Kind = AlertDeadlineNear
		a.Deadline = deadline
		a.Message = fmt.Sprintf("case %s has %d business days left, due %s", c.ID, st.RemainingBusinessDays, deadline)
		alerts = append(alerts, a)
	}

	if st.IsPaused && st.DaysLeftToRespond != nil && *st.DaysLeftToRespond <= threshold {
		a := base
		a.Kind = AlertResponseDue
		a.Slot = st.ActivePause
		a.DaysLeftToRespond = st.DaysLeftToRespond
		if v.ResponseDeadline != nil {
			a.Deadline = *v.ResponseDeadline
		}
		if *st.DaysLeftToRespond < 0 {
			a.Message = fmt.Sprintf("response to %s of case %s is %d business days overdue", st.ActivePause, c.ID, -*st.DaysLeftToRespond)
		} else {
			a.Message = fmt.Sprintf("response to %s of case %s due in %d business days", st.ActivePause, c.ID, *st.DaysLeftToRespond)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
