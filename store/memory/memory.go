// Package memory provides an in-memory implementation of the refund store
// interfaces for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements refund.TxStore, refund.HolidayStore and generic.AuditLog.
// Transactions are simulated with a snapshot and a rollback on error.
type Store struct {
	mu sync.RWMutex
	state
}

type state struct {
	companies map[string]refund.Company
	cases     map[string]refund.Case
	holidays  map[string]generic.Holiday
	audit     []generic.AuditEntry
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() state {
	return state{
		companies: make(map[string]refund.Company),
		cases:     make(map[string]refund.Case),
		holidays:  make(map[string]generic.Holiday),
	}
}

// =============================================================================
// refund.Store
// =============================================================================

func (m *Store) SaveCompany(_ context.Context, c refund.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
	return nil
}

func (m *Store) GetCompany(_ context.Context, id string) (*refund.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCompany(id)
}

func (m *Store) ListCompanies(_ context.Context) ([]refund.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listCompanies(), nil
}

func (m *Store) SaveCase(_ context.Context, c refund.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveCase(c)
}

func (m *Store) GetCase(_ context.Context, id string) (*refund.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCase(id)
}

func (m *Store) ListCases(_ context.Context, filter refund.CaseFilter) ([]refund.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listCases(filter), nil
}

// =============================================================================
// generic.AuditLog
// =============================================================================

func (m *Store) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Store) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.queryAudit(filter), nil
}

// =============================================================================
// refund.HolidayStore
// =============================================================================

func (m *Store) SaveHoliday(_ context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.ID] = h
	return nil
}

func (m *Store) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holidays[id]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrHolidayNotFound, id)
	}
	delete(m.holidays, id)
	return nil
}

func (m *Store) ListHolidays(_ context.Context) ([]generic.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]generic.Holiday, 0, len(m.holidays))
	for _, h := range m.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Reset clears all data (for demo scenarios).
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. Every write made through
// the view is undone if fn fails.
func (m *Store) WithTx(_ context.Context, fn func(refund.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.companies {
		c.companies[k] = v
	}
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.holidays {
		c.holidays[k] = v
	}
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	return c
}

// txView runs against the state while the parent already holds the lock.
type txView struct {
	s *state
}

func (tv *txView) SaveCompany(_ context.Context, c refund.Company) error {
	tv.s.companies[c.ID] = c
	return nil
}

func (tv *txView) GetCompany(_ context.Context, id string) (*refund.Company, error) {
	return tv.s.getCompany(id)
}

func (tv *txView) ListCompanies(_ context.Context) ([]refund.Company, error) {
	return tv.s.listCompanies(), nil
}

func (tv *txView) SaveCase(_ context.Context, c refund.Case) error {
	return tv.s.saveCase(c)
}

func (tv *txView) GetCase(_ context.Context, id string) (*refund.Case, error) {
	return tv.s.getCase(id)
}

func (tv *txView) ListCases(_ context.Context, filter refund.CaseFilter) ([]refund.Case, error) {
	return tv.s.listCases(filter), nil
}

func (tv *txView) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	tv.s.audit = append(tv.s.audit, entry)
	return nil
}

func (tv *txView) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return tv.s.queryAudit(filter), nil
}

// =============================================================================
// STATE HELPERS (caller holds the lock)
// =============================================================================

func (s *state) getCompany(id string) (*refund.Company, error) {
	c, ok := s.companies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrCompanyNotFound, id)
	}
	return &c, nil
}

func (s *state) listCompanies() []refund.Company {
	out := make([]refund.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *state) saveCase(c refund.Case) error {
	if _, ok := s.companies[c.CompanyID]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrCompanyNotFound, c.CompanyID)
	}
	s.cases[c.ID] = copyCase(c)
	return nil
}

func (s *state) getCase(id string) (*refund.Case, error) {
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrCaseNotFound, id)
	}
	c = copyCase(c)
	return &c, nil
}

// listCases orders by request date, newest first.
func (s *state) listCases(filter refund.CaseFilter) []refund.Case {
	var out []refund.Case
	for _, c := range s.cases {
		if filter.Match(c) {
			out = append(out, copyCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestDate.Equal(out[j].RequestDate) {
			return out[i].RequestDate.After(out[j].RequestDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) queryAudit(filter generic.AuditFilter) []generic.AuditEntry {
	var out []generic.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.Table != "" && e.Table != filter.Table {
			continue
		}
		if filter.RecordID != "" && e.RecordID != filter.RecordID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

func containsAction(actions []generic.AuditAction, a generic.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// copyCase detaches the requirement date pointers so callers cannot mutate
// stored state.
func copyCase(c refund.Case) refund.Case {
	c.Req1 = copyRequirement(c.Req1)
	c.Req2 = copyRequirement(c.Req2)
	return c
}

func copyRequirement(r refund.Requirement) refund.Requirement {
	if r.NotifiedOn != nil {
		d := *r.NotifiedOn
		r.NotifiedOn = &d
	}
	if r.RespondedOn != nil {
		d := *r.RespondedOn
		r.RespondedOn = &d
	}
	return r
}
