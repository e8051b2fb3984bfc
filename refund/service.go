package refund

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/metrics"
)

// =============================================================================
// CASE SERVICE - Case lifecycle with transactional writes
// =============================================================================

// Service records checkpoints and computes status on read. Writes to one case
// are serialized so each requirement slot gets at most one notification and
// one response.
type Service struct {
	Store    TxStore
	Holidays HolidayStore
	Clock    generic.Clock
	Notifier Notifier // optional
	Regime   Regime
	Logger   *zap.Logger
	Metrics  *metrics.Metrics // optional

	// Now stamps rows and audit entries. Defaults to time.Now.
	Now func() time.Time

	locks keyedMutex
}

// CaseView is a case with its status derived for the current date.
type CaseView struct {
	Case   Case
	Status ComputedStatus
	// ResponseDeadline is set while a requirement is open.
	ResponseDeadline *generic.TimePoint
}

// NewCase carries the fields needed to open a case.
type NewCase struct {
	CompanyID   string
	RequestDate *generic.TimePoint // nil means today
	Period      string
	Amount      string
}

// NewCompany carries the fields needed to register a company.
type NewCompany struct {
	Name string
	RFC  string
}

type actorKey struct{}

// WithActor tags ctx with the user performing the operation, for the audit log.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}

// =============================================================================
// COMPANIES
// =============================================================================

func (s *Service) CreateCompany(ctx context.Context, in NewCompany) (*Company, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: company name is required", generic.ErrInvalidInput)
	}
	rfc := strings.ToUpper(strings.TrimSpace(in.RFC))
	if rfc != "" && (len(rfc) < 12 || len(rfc) > 13) {
		return nil, fmt.Errorf("%w: RFC %q must have 12 or 13 characters", generic.ErrInvalidInput, rfc)
	}

	c := Company{ID: uuid.NewString(), Name: name, RFC: rfc, CreatedAt: s.now()}
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveCompany(ctx, c); err != nil {
			return fmt.Errorf("save company: %w", err)
		}
		return tx.AppendAudit(ctx, s.audit(ctx, generic.AuditCompanyCreated, "companies", c.ID, map[string]any{
			"name": c.Name,
			"rfc":  c.RFC,
		}))
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("company created", zap.String("company_id", c.ID), zap.String("name", c.Name))
	return &c, nil
}

func (s *Service) ListCompanies(ctx context.Context) ([]Company, error) {
	return s.Store.ListCompanies(ctx)
}

// =============================================================================
// CREATE CASE
// =============================================================================

// CreateCase opens a case and fixes its statutory deadline: request date plus
// the regime budget in business days, with the holidays known right now.
func (s *Service) CreateCase(ctx context.Context, in NewCase) (*CaseView, error) {
	if in.CompanyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", generic.ErrInvalidInput)
	}
	period := strings.TrimSpace(in.Period)
	if period == "" {
		return nil, fmt.Errorf("%w: period is required", generic.ErrInvalidInput)
	}
	amount, err := generic.ParseMoney(in.Amount, generic.CurrencyMXN)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", generic.ErrInvalidInput)
	}
	if _, err := s.Store.GetCompany(ctx, in.CompanyID); err != nil {
		return nil, err
	}

	today := s.Clock.Today()
	request := today
	if in.RequestDate != nil {
		request = *in.RequestDate
	}
	if err := ValidateCheckpoints(Checkpoints{RequestDate: request}, today); err != nil {
		return nil, err
	}

	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	deadline, err := s.Regime.StatutoryDeadline(request, cal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := Case{
		ID:                uuid.NewString(),
		CompanyID:         in.CompanyID,
		RequestDate:       request,
		StatutoryDeadline: deadline,
		Req1:              Requirement{Slot: Req1},
		Req2:              Requirement{Slot: Req2},
		StoredStatus:      StoredPending,
		Period:            period,
		Amount:            amount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveCase(ctx, c); err != nil {
			return fmt.Errorf("save case: %w", err)
		}
		return tx.AppendAudit(ctx, s.audit(ctx, generic.AuditCaseCreated, "refund_cases", c.ID, map[string]any{
			"company_id":         c.CompanyID,
			"request_date":       c.RequestDate.String(),
			"statutory_deadline": c.StatutoryDeadline.String(),
			"amount":             c.Amount.Value.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.CaseCreated()
	s.logger().Info("case created",
		zap.String("case_id", c.ID),
		zap.String("company_id", c.CompanyID),
		zap.Stringer("request_date", c.RequestDate),
		zap.Stringer("statutory_deadline", c.StatutoryDeadline),
	)
	return s.view(c, cal, today)
}

// =============================================================================
// REQUIREMENTS
// =============================================================================

// IssueRequirement records today as the notification date of slot. A slot is
// notified once; req2 needs req1 answered first.
func (s *Service) IssueRequirement(ctx context.Context, caseID string, slot Slot) (*CaseView, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: requirement slot %d (use 1 or 2)", generic.ErrInvalidInput, int(slot))
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	today := s.Clock.Today()
	updated, err := s.issue(ctx, caseID, slot, today)
	if err != nil {
		return nil, err
	}

	view, err := s.view(updated, cal, today)
	if err != nil {
		return nil, err
	}

	s.Metrics.RequirementIssued(slot.String())
	s.logger().Info("requirement issued",
		zap.String("case_id", caseID),
		zap.Stringer("slot", slot),
		zap.Stringer("notified_on", today),
	)

	if view.ResponseDeadline != nil {
		s.notify(ctx, Alert{
			Kind:                  AlertRequirementIssued,
			CaseID:                updated.ID,
			CompanyID:             updated.CompanyID,
			Slot:                  slot,
			Label:                 view.Status.Label,
			RemainingBusinessDays: view.Status.RemainingBusinessDays,
			DaysLeftToRespond:     view.Status.DaysLeftToRespond,
			Deadline:              *view.ResponseDeadline,
			Message: fmt.Sprintf("requirement %s issued for case %s: respond within %d business days, by %s",
				slot, updated.ID, s.Regime.ResponseBudget(slot), view.ResponseDeadline),
		})
	}
	return view, nil
}

// issue stores the notification under the case lock. The lock is released
// before any alert is delivered.
func (s *Service) issue(ctx context.Context, caseID string, slot Slot, today generic.TimePoint) (Case, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	var updated Case
	err := s.Store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		req := c.Requirement(slot)
		if req.NotifiedOn != nil {
			return fmt.Errorf("%w: %s of case %s was notified on %s", generic.ErrRequirementIssued, slot, caseID, req.NotifiedOn)
		}
		if slot == Req2 && c.Req1.State() != RequirementClosed {
			return &generic.CheckpointError{Slot: Req2.String(), Field: "notification", Reason: "req1 must be answered before req2 is issued"}
		}

		notified := today
		req.Slot, req.NotifiedOn = slot, &notified
		if err := ValidateCheckpoints(c.Checkpoints(), today); err != nil {
			return err
		}
		c.UpdatedAt = s.now()

		if err := tx.SaveCase(ctx, *c); err != nil {
			return fmt.Errorf("save case: %w", err)
		}
		updated = *c
		return tx.AppendAudit(ctx, s.audit(ctx, generic.AuditRequirementIssued, "refund_cases", c.ID, map[string]any{
			"slot":        slot.String(),
			"notified_on": notified.String(),
		}))
	})
	return updated, err
}

// RecordResponse closes an open requirement. A nil date means today; the date
// can be neither before the notification nor after today.
func (s *Service) RecordResponse(ctx context.Context, caseID string, slot Slot, date *generic.TimePoint) (*CaseView, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: requirement slot %d (use 1 or 2)", generic.ErrInvalidInput, int(slot))
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	unlock := s.locks.Lock(caseID)
	defer unlock()

	today := s.Clock.Today()
	responded := today
	if date != nil {
		responded = *date
	}

	var updated Case
	err = s.Store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		req := c.Requirement(slot)
		if !req.IsOpen() {
			return fmt.Errorf("%w: %s of case %s is %s", generic.ErrRequirementNotOpen, slot, caseID, req.State())
		}
		if responded.After(today) {
			return &generic.CheckpointError{Slot: slot.String(), Field: "response", Reason: fmt.Sprintf("response %s is after today %s", responded, today)}
		}

		r := responded
		req.Slot, req.RespondedOn = slot, &r
		if err := req.Validate(); err != nil {
			return err
		}
		if err := ValidateCheckpoints(c.Checkpoints(), today); err != nil {
			return err
		}
		c.UpdatedAt = s.now()

		if err := tx.SaveCase(ctx, *c); err != nil {
			return fmt.Errorf("save case: %w", err)
		}
		updated = *c
		return tx.AppendAudit(ctx, s.audit(ctx, generic.AuditResponseRecorded, "refund_cases", c.ID, map[string]any{
			"slot":         slot.String(),
			"responded_on": responded.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("response recorded",
		zap.String("case_id", caseID),
		zap.Stringer("slot", slot),
		zap.Stringer("responded_on", responded),
	)
	return s.view(updated, cal, today)
}

// =============================================================================
// STORED STATUS
// =============================================================================

// SetStoredStatus changes the administrator label. It has no effect on the
// computed status.
func (s *Service) SetStoredStatus(ctx context.Context, caseID string, status StoredStatus) (*CaseView, error) {
	if _, err := ParseStoredStatus(string(status)); err != nil {
		return nil, err
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	unlock := s.locks.Lock(caseID)
	defer unlock()

	var updated Case
	err = s.Store.WithTx(ctx, func(tx Store) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		previous := c.StoredStatus
		c.StoredStatus = status
		c.UpdatedAt = s.now()
		if err := tx.SaveCase(ctx, *c); err != nil {
			return fmt.Errorf("save case: %w", err)
		}
		updated = *c
		return tx.AppendAudit(ctx, s.audit(ctx, generic.AuditStatusChanged, "refund_cases", c.ID, map[string]any{
			"from": string(previous),
			"to":   string(status),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("stored status changed", zap.String("case_id", caseID), zap.String("status", string(status)))
	return s.view(updated, cal, s.Clock.Today())
}

// =============================================================================
// READS
// =============================================================================

// Get loads a case and derives its status for today.
func (s *Service) Get(ctx context.Context, caseID string) (*CaseView, error) {
	c, err := s.Store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}
	return s.view(*c, cal, s.Clock.Today())
}

// List derives the status of every case matching filter, with a single
// holiday snapshot and a single "today" for the whole listing. Cases whose
// status cannot be derived are logged and left out.
func (s *Service) List(ctx context.Context, filter CaseFilter) ([]CaseView, error) {
	views, _, err := s.listViews(ctx, filter)
	return views, err
}

// listViews returns the derived views and the ids of the cases it skipped.
func (s *Service) listViews(ctx context.Context, filter CaseFilter) ([]CaseView, []string, error) {
	cases, err := s.Store.ListCases(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	cal, err := LoadCalendar(ctx, s.Holidays)
	if err != nil {
		return nil, nil, fmt.Errorf("load holidays: %w", err)
	}
	today := s.Clock.Today()

	views := make([]CaseView, 0, len(cases))
	var skipped []string
	for _, c := range cases {
		v, err := s.view(c, cal, today)
		if err != nil {
			s.logger().Warn("case status not derivable, skipped",
				zap.String("case_id", c.ID),
				zap.Stringer("today", today),
				zap.Error(err),
			)
			skipped = append(skipped, c.ID)
			continue
		}
		views = append(views, *v)
	}
	return views, skipped, nil
}

// Calendar returns the calendar feed for the cases matching filter.
func (s *Service) Calendar(ctx context.Context, filter CaseFilter) ([]CalendarEvent, error) {
	cases, err := s.Store.ListCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	return CalendarEvents(cases), nil
}

// AuditTrail returns the audit entries of a case, newest first.
func (s *Service) AuditTrail(ctx context.Context, caseID string) ([]generic.AuditEntry, error) {
	if _, err := s.Store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.Store.QueryAudit(ctx, generic.AuditFilter{Table: "refund_cases", RecordID: caseID})
}

func (s *Service) view(c Case, cal generic.HolidayCalendar, today generic.TimePoint) (*CaseView, error) {
	status, err := s.Regime.DeriveStatus(c.Checkpoints(), today, cal)
	if err != nil {
		return nil, err
	}
	s.Metrics.StatusDerived(string(status.Label))

	v := &CaseView{Case: c, Status: status}
	if status.IsPaused {
		deadline, ok, err := s.Regime.ResponseDeadline(*c.Requirement(status.ActivePause), status.ActivePause, cal)
		if err != nil {
			return nil, err
		}
		if ok {
			v.ResponseDeadline = &deadline
		}
	}
	return v, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// notify delivers one alert. A failed delivery is logged and returned; it
// never undoes the write that raised the alert.
func (s *Service) notify(ctx context.Context, alert Alert) error {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = s.now()
	}
	s.Metrics.AlertRaised(string(alert.Kind))
	if s.Notifier == nil {
		return nil
	}
	if err := s.Notifier.Notify(ctx, alert); err != nil {
		s.logger().Warn("alert delivery failed",
			zap.String("kind", string(alert.Kind)),
			zap.String("case_id", alert.CaseID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action generic.AuditAction, table, recordID string, payload map[string]any) generic.AuditEntry {
	return generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		ActorID:   actorFrom(ctx),
		Action:    action,
		Table:     table,
		RecordID:  recordID,
		Payload:   payload,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// keyedMutex hands out one mutex per case id and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
