package refund

import (
	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// STATUS DERIVER - Elapsed/remaining days and the computed label
// =============================================================================

// DeriveStatus computes the status of a case under the default 40/20/10 regime.
func DeriveStatus(cp Checkpoints, today generic.TimePoint, cal generic.HolidayCalendar) (ComputedStatus, error) {
	return DefaultRegime.DeriveStatus(cp, today, cal)
}

// DeriveStatus sums business days over the running segments and decides
// whether the case is in progress, paused or expired. Expiry outranks a pause.
//
// It must be called on every read: today moves without any write to the case.
func (r Regime) DeriveStatus(cp Checkpoints, today generic.TimePoint, cal generic.HolidayCalendar) (ComputedStatus, error) {
	segments, err := BuildSegments(cp, today)
	if err != nil {
		return ComputedStatus{}, err
	}

	elapsed, err := generic.SumBusinessDays(segments, cal)
	if err != nil {
		return ComputedStatus{}, err
	}

	status := ComputedStatus{
		ElapsedBusinessDays:   elapsed,
		RemainingBusinessDays: max(0, r.BudgetDays-elapsed),
		Segments:              segments,
	}

	// BuildSegments guarantees at most one open requirement.
	var open *Requirement
	switch {
	case cp.Req1.IsOpen():
		open, status.ActivePause = &cp.Req1, Req1
	case cp.Req2.IsOpen():
		open, status.ActivePause = &cp.Req2, Req2
	}

	if open != nil {
		status.IsPaused = true
		waited, err := generic.CountBusinessDays(*open.NotifiedOn, today, cal)
		if err != nil {
			return ComputedStatus{}, err
		}
		left := r.ResponseBudget(status.ActivePause) - waited
		status.DaysLeftToRespond = &left
	}

	switch {
	case elapsed >= r.BudgetDays:
		status.Label = StatusExpired
	case status.ActivePause == Req1:
		status.Label = StatusPausedReq1
	case status.ActivePause == Req2:
		status.Label = StatusPausedReq2
	default:
		status.Label = StatusInProgress
	}
	return status, nil
}

// ResponseDeadline projects the date by which an issued requirement must be
// answered. ok is false when the slot was never issued.
func (r Regime) ResponseDeadline(req Requirement, slot Slot, cal generic.HolidayCalendar) (deadline generic.TimePoint, ok bool, err error) {
	if req.NotifiedOn == nil {
		return generic.TimePoint{}, false, nil
	}
	deadline, err = generic.ProjectDeadline(*req.NotifiedOn, r.ResponseBudget(slot), cal)
	if err != nil {
		return generic.TimePoint{}, false, err
	}
	return deadline, true, nil
}

// StatutoryDeadline projects request + budget business days.
func (r Regime) StatutoryDeadline(request generic.TimePoint, cal generic.HolidayCalendar) (generic.TimePoint, error) {
	return generic.ProjectDeadline(request, r.BudgetDays, cal)
}
