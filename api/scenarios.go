/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	refund cases. Each scenario creates one company, seeds the official
	holidays, and stores a case whose checkpoints sit at a fixed number of
	business days before today, so the computed status is the same whatever
	day the demo runs.

AVAILABLE SCENARIOS:

	fresh-case:        Request filed 5 business days ago, no requirements
	paused-req1:       First requirement open, clock paused
	resumed-req1:      First requirement answered, clock running again
	two-requirements:  Second requirement open and almost due
	expired:           Budget exhausted, statutory deadline passed

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed official holidays for last, current and next year
 3. Create the company
 4. Store the case with back-dated checkpoints

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "paused-req1"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Case endpoints used to inspect the loaded data
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// scenarioCase places each checkpoint a number of business days before
// today. Negative offsets mean "not recorded".
type scenarioCase struct {
	request      int
	req1Notified int
	req1Answered int
	req2Notified int
	req2Answered int
}

type scenario struct {
	ScenarioDTO
	company refund.Company
	period  string
	amount  string
	cp      scenarioCase
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fresh-case",
			Name:        "Fresh Case",
			Description: "Request filed 5 business days ago, no requirements issued",
		},
		company: refund.Company{ID: "co-demo-001", Name: "Comercializadora del Norte", RFC: "CNO010101AB1"},
		period:  "2024-01",
		amount:  "125000.00",
		cp:      scenarioCase{request: 5, req1Notified: -1, req1Answered: -1, req2Notified: -1, req2Answered: -1},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "paused-req1",
			Name:        "Paused on First Requirement",
			Description: "First requirement notified 4 business days ago and still open",
		},
		company: refund.Company{ID: "co-demo-002", Name: "Exportadora Pacifico", RFC: "EPA020202CD2"},
		period:  "2024-02",
		amount:  "480350.75",
		cp:      scenarioCase{request: 15, req1Notified: 4, req1Answered: -1, req2Notified: -1, req2Answered: -1},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "resumed-req1",
			Name:        "Resumed After First Requirement",
			Description: "First requirement answered; the 8 paused days do not count",
		},
		company: refund.Company{ID: "co-demo-003", Name: "Manufacturas Bajio", RFC: "MBA030303EF3"},
		period:  "2024-03",
		amount:  "92000.00",
		cp:      scenarioCase{request: 25, req1Notified: 20, req1Answered: 12, req2Notified: -1, req2Answered: -1},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "two-requirements",
			Name:        "Second Requirement Almost Due",
			Description: "Second requirement open for 8 of its 10 business days",
		},
		company: refund.Company{ID: "co-demo-004", Name: "Servicios Logisticos Sureste", RFC: "SLS040404GH4"},
		period:  "2024-04",
		amount:  "1500000.00",
		cp:      scenarioCase{request: 35, req1Notified: 30, req1Answered: 25, req2Notified: 8, req2Answered: -1},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "expired",
			Name:        "Expired",
			Description: "Request filed 45 business days ago without requirements",
		},
		company: refund.Company{ID: "co-demo-005", Name: "Agroindustrias Occidente", RFC: "AOC050505IJ5"},
		period:  "2023-11",
		amount:  "310400.10",
		cp:      scenarioCase{request: 45, req1Notified: -1, req1Answered: -1, req2Notified: -1, req2Answered: -1},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(h.currentScenario); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	caseID, err := h.loadScenario(ctx, s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = s.ID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "case_id": caseID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) (string, error) {
	svc := h.Service
	today := svc.Clock.Today()

	for _, year := range []int{today.Year() - 1, today.Year(), today.Year() + 1} {
		if _, err := svc.SeedDefaultHolidays(ctx, year); err != nil {
			return "", err
		}
	}
	cal, err := refund.LoadCalendar(ctx, svc.Holidays)
	if err != nil {
		return "", err
	}

	company := s.company
	company.CreatedAt = time.Now().UTC()
	if svc.Now != nil {
		company.CreatedAt = svc.Now().UTC()
	}

	at := func(offset int) *generic.TimePoint {
		if offset < 0 {
			return nil
		}
		d := businessDaysBefore(today, offset, cal)
		return &d
	}
	c := refund.Case{
		ID:           "case-" + uuid.NewString(),
		CompanyID:    company.ID,
		RequestDate:  *at(s.cp.request),
		Req1:         refund.Requirement{Slot: refund.Req1, NotifiedOn: at(s.cp.req1Notified), RespondedOn: at(s.cp.req1Answered)},
		Req2:         refund.Requirement{Slot: refund.Req2, NotifiedOn: at(s.cp.req2Notified), RespondedOn: at(s.cp.req2Answered)},
		StoredStatus: refund.StoredPending,
		Period:       s.period,
		Amount:       generic.NewMoney(decimal.RequireFromString(s.amount), generic.CurrencyMXN),
		CreatedAt:    company.CreatedAt,
		UpdatedAt:    company.CreatedAt,
	}
	if err := refund.ValidateCheckpoints(c.Checkpoints(), today); err != nil {
		return "", err
	}
	c.StatutoryDeadline, err = svc.Regime.StatutoryDeadline(c.RequestDate, cal)
	if err != nil {
		return "", err
	}

	err = svc.Store.WithTx(ctx, func(tx refund.Store) error {
		if err := tx.SaveCompany(ctx, company); err != nil {
			return err
		}
		return tx.SaveCase(ctx, c)
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// businessDaysBefore returns the date d such that (d, today] holds exactly n
// business days.
func businessDaysBefore(today generic.TimePoint, n int, cal generic.HolidayCalendar) generic.TimePoint {
	d := today
	for count := 0; count < n; d = d.AddDays(-1) {
		if generic.IsBusinessDay(d, cal) {
			count++
		}
	}
	return d
}
