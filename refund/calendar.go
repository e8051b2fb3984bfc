package refund

import (
	"sort"

	"github.com/warp/refund-tracker/generic"
)

// EventKind distinguishes case events from requirement events in the feed.
type EventKind string

const (
	EventCase        EventKind = "case"
	EventRequirement EventKind = "requirement"
)

// CalendarEvent is one entry of the calendar feed.
type CalendarEvent struct {
	ID        string             `json:"id"`
	CaseID    string             `json:"case_id"`
	Kind      EventKind          `json:"kind"`
	Start     generic.TimePoint  `json:"start"`
	End       *generic.TimePoint `json:"end,omitempty"` // nil while a requirement is open
	Status    string             `json:"status"`
	CompanyID string             `json:"company_id,omitempty"`
}

// CalendarEvents emits one event per case spanning request to statutory
// deadline, and one per issued requirement spanning notification to response.
// Events are ordered by start date, then id.
func CalendarEvents(cases []Case) []CalendarEvent {
	var events []CalendarEvent
	for _, c := range cases {
		deadline := c.StatutoryDeadline
		events = append(events, CalendarEvent{
			ID:        c.ID,
			CaseID:    c.ID,
			Kind:      EventCase,
			Start:     c.RequestDate,
			End:       &deadline,
			Status:    string(c.StoredStatus),
			CompanyID: c.CompanyID,
		})
		for _, slot := range []Slot{Req1, Req2} {
			req := c.Requirement(slot)
			if req.NotifiedOn == nil {
				continue
			}
			events = append(events, CalendarEvent{
				ID:        c.ID + "-" + slot.String(),
				CaseID:    c.ID,
				Kind:      EventRequirement,
				Start:     *req.NotifiedOn,
				End:       req.RespondedOn,
				Status:    string(req.State()),
				CompanyID: c.CompanyID,
			})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return events
}
