package refund

import (
	"fmt"

	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// SEGMENT BUILDER - Intervals during which the statutory clock was running
// =============================================================================
//
// The clock runs from the request until a requirement is notified, is frozen
// while the requirement is outstanding, and resumes on the response date.
//
//   req1      req2      segments
//   unused    unused    (request, today]
//   open      unused    (request, req1.notified]
//   closed    unused    (request, req1.notified], (req1.responded, today]
//   closed    open      (request, req1.notified], (req1.responded, req2.notified]
//   closed    closed    (request, req1.notified], (req1.responded, req2.notified], (req2.responded, today]
//
// Any other combination is rejected as an invalid checkpoint state.

// BuildSegments partitions a case's timeline into the periods during which the
// clock was running. today is the evaluation date.
func BuildSegments(cp Checkpoints, today generic.TimePoint) ([]generic.Period, error) {
	cp.Req1.Slot, cp.Req2.Slot = Req1, Req2
	if err := ValidateCheckpoints(cp, today); err != nil {
		return nil, err
	}

	req1, req2 := cp.Req1, cp.Req2
	switch req1.State() {
	case RequirementUnused:
		return []generic.Period{{Start: cp.RequestDate, End: today}}, nil

	case RequirementOpen:
		return []generic.Period{{Start: cp.RequestDate, End: *req1.NotifiedOn}}, nil
	}

	segments := []generic.Period{{Start: cp.RequestDate, End: *req1.NotifiedOn}}
	switch req2.State() {
	case RequirementUnused:
		segments = append(segments, generic.Period{Start: *req1.RespondedOn, End: today})
	case RequirementOpen:
		segments = append(segments, generic.Period{Start: *req1.RespondedOn, End: *req2.NotifiedOn})
	case RequirementClosed:
		segments = append(segments,
			generic.Period{Start: *req1.RespondedOn, End: *req2.NotifiedOn},
			generic.Period{Start: *req2.RespondedOn, End: today},
		)
	}
	return segments, nil
}

// ValidateCheckpoints rejects checkpoint combinations the two-stage process
// cannot produce. It never normalizes: the first violation is returned as a
// *generic.CheckpointError.
func ValidateCheckpoints(cp Checkpoints, today generic.TimePoint) error {
	cp.Req1.Slot, cp.Req2.Slot = Req1, Req2
	if cp.RequestDate.IsZero() {
		return &generic.CheckpointError{Slot: "request", Reason: "request date is required"}
	}
	if err := cp.Req1.Validate(); err != nil {
		return err
	}
	if err := cp.Req2.Validate(); err != nil {
		return err
	}

	if cp.Req2.State() != RequirementUnused && cp.Req1.State() != RequirementClosed {
		return &generic.CheckpointError{
			Slot:   "req2",
			Field:  "notification",
			Reason: fmt.Sprintf("second requirement issued while first is %s", cp.Req1.State()),
		}
	}

	// Chronology: request <= req1.notified <= req1.responded <= req2.notified
	// <= req2.responded <= today.
	type checkpoint struct {
		slot, field string
		date        *generic.TimePoint
	}
	ordered := []checkpoint{
		{"request", "", &cp.RequestDate},
		{"req1", "notification", cp.Req1.NotifiedOn},
		{"req1", "response", cp.Req1.RespondedOn},
		{"req2", "notification", cp.Req2.NotifiedOn},
		{"req2", "response", cp.Req2.RespondedOn},
	}
	prev := ordered[0]
	for _, c := range ordered[1:] {
		if c.date == nil {
			continue
		}
		if c.date.Before(*prev.date) {
			return &generic.CheckpointError{
				Slot:   c.slot,
				Field:  c.field,
				Reason: fmt.Sprintf("%s precedes %s %s", c.date, label(prev.slot, prev.field), prev.date),
			}
		}
		prev = c
	}
	if today.Before(*prev.date) {
		return &generic.CheckpointError{
			Slot:   "today",
			Reason: fmt.Sprintf("evaluation date %s precedes %s %s", today, label(prev.slot, prev.field), prev.date),
		}
	}
	return nil
}

func label(slot, field string) string {
	if field == "" {
		return slot
	}
	return slot + "." + field
}
