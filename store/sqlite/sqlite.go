/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

INTERFACES IMPLEMENTED:
  refund.TxStore:      Companies, cases, transactional writes
  refund.HolidayStore: Holiday calendar
  generic.AuditLog:    Append-only audit trail

KEY TABLES:
  companies:    Taxpayers whose refunds are tracked
  refund_cases: One row per case with the four requirement checkpoint dates
  holidays:     Non-business days (fixed or recurring every year)
  audit_log:    Who changed what and when

DATES:
  Calendar dates are stored as YYYY-MM-DD text. Instants (created_at,
  updated_at, audit timestamps) are UTC RFC3339. Elapsed and remaining days
  are never stored; they are derived on every read.

MIGRATIONS:
  Schema is versioned with golang-migrate. The SQL files under migrations/
  are embedded in the binary and applied by New(). Open() skips them so
  `refundd migrate version` can inspect an existing database.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of database/sql. WithTx holds
  the write lock for the duration of the transaction.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging). ":memory:" is
  pinned to a single connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/refunds.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - refund/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timestampLayout = time.RFC3339Nano

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	s, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Open opens the database without touching the schema.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// The migrate instance is never closed: closing it would close s.db.
func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations. No pending migration is not an error.
func (s *Store) MigrateUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied schema version. Version 0 means no
// migration was applied yet.
func (s *Store) MigrationVersion() (version uint, dirty bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// =============================================================================
// TRANSACTIONAL STORE (refund.TxStore interface)
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store refund.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	q queryer
}

func (ts *txStore) SaveCompany(ctx context.Context, c refund.Company) error {
	return saveCompany(ctx, ts.q, c)
}

func (ts *txStore) GetCompany(ctx context.Context, id string) (*refund.Company, error) {
	return getCompany(ctx, ts.q, id)
}

func (ts *txStore) ListCompanies(ctx context.Context) ([]refund.Company, error) {
	return listCompanies(ctx, ts.q)
}

func (ts *txStore) SaveCase(ctx context.Context, c refund.Case) error {
	return saveCase(ctx, ts.q, c)
}

func (ts *txStore) GetCase(ctx context.Context, id string) (*refund.Case, error) {
	return getCase(ctx, ts.q, id)
}

func (ts *txStore) ListCases(ctx context.Context, filter refund.CaseFilter) ([]refund.Case, error) {
	return listCases(ctx, ts.q, filter)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	return appendAudit(ctx, ts.q, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return queryAudit(ctx, ts.q, filter)
}

// =============================================================================
// COMPANY STORE
// =============================================================================

func (s *Store) SaveCompany(ctx context.Context, c refund.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCompany(ctx, s.db, c)
}

func (s *Store) GetCompany(ctx context.Context, id string) (*refund.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCompany(ctx, s.db, id)
}

// ListCompanies returns all companies ordered by name.
func (s *Store) ListCompanies(ctx context.Context) ([]refund.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCompanies(ctx, s.db)
}

func saveCompany(ctx context.Context, q queryer, c refund.Company) error {
	query := `
		INSERT INTO companies (id, name, rfc, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rfc = excluded.rfc
	`
	_, err := q.ExecContext(ctx, query, c.ID, c.Name, nullString(c.RFC), formatInstant(c.CreatedAt))
	return err
}

func getCompany(ctx context.Context, q queryer, id string) (*refund.Company, error) {
	var c refund.Company
	var rfc sql.NullString
	var createdAt string

	err := q.QueryRowContext(ctx,
		"SELECT id, name, rfc, created_at FROM companies WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &rfc, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", generic.ErrCompanyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	c.RFC = rfc.String
	c.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	return &c, nil
}

func listCompanies(ctx context.Context, q queryer) ([]refund.Company, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, rfc, created_at FROM companies ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := []refund.Company{}
	for rows.Next() {
		var c refund.Company
		var rfc sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &rfc, &createdAt); err != nil {
			return nil, err
		}
		c.RFC = rfc.String
		c.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// =============================================================================
// CASE STORE
// =============================================================================

const caseColumns = `id, company_id, request_date, statutory_deadline,
	req1_notified_on, req1_responded_on, req2_notified_on, req2_responded_on,
	stored_status, period, amount, currency, created_at, updated_at`

// SaveCase inserts or replaces a case with all its checkpoints.
func (s *Store) SaveCase(ctx context.Context, c refund.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCase(ctx, s.db, c)
}

func (s *Store) GetCase(ctx context.Context, id string) (*refund.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCase(ctx, s.db, id)
}

// ListCases returns matching cases, newest request first.
func (s *Store) ListCases(ctx context.Context, filter refund.CaseFilter) ([]refund.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCases(ctx, s.db, filter)
}

func saveCase(ctx context.Context, q queryer, c refund.Case) error {
	query := `
		INSERT INTO refund_cases (` + caseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			request_date = excluded.request_date,
			statutory_deadline = excluded.statutory_deadline,
			req1_notified_on = excluded.req1_notified_on,
			req1_responded_on = excluded.req1_responded_on,
			req2_notified_on = excluded.req2_notified_on,
			req2_responded_on = excluded.req2_responded_on,
			stored_status = excluded.stored_status,
			period = excluded.period,
			amount = excluded.amount,
			currency = excluded.currency,
			updated_at = excluded.updated_at
	`
	currency := c.Amount.Currency
	if currency == "" {
		currency = generic.CurrencyMXN
	}
	_, err := q.ExecContext(ctx, query,
		c.ID,
		c.CompanyID,
		c.RequestDate.String(),
		c.StatutoryDeadline.String(),
		nullDate(c.Req1.NotifiedOn),
		nullDate(c.Req1.RespondedOn),
		nullDate(c.Req2.NotifiedOn),
		nullDate(c.Req2.RespondedOn),
		string(c.StoredStatus),
		c.Period,
		c.Amount.Value.String(),
		string(currency),
		formatInstant(c.CreatedAt),
		formatInstant(c.UpdatedAt),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", generic.ErrCompanyNotFound, c.CompanyID)
	}
	return err
}

func getCase(ctx context.Context, q queryer, id string) (*refund.Case, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+caseColumns+" FROM refund_cases WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", generic.ErrCaseNotFound, id)
	}
	c, err := scanCase(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func listCases(ctx context.Context, q queryer, filter refund.CaseFilter) ([]refund.Case, error) {
	var where []string
	var args []any
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.StoredStatus != "" {
		where = append(where, "stored_status = ?")
		args = append(args, string(filter.StoredStatus))
	}

	query := "SELECT " + caseColumns + " FROM refund_cases"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY request_date DESC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := []refund.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func scanCase(rows *sql.Rows) (refund.Case, error) {
	var c refund.Case
	var requestDate, deadline, status, amount, currency, createdAt, updatedAt string
	var r1n, r1r, r2n, r2r sql.NullString

	if err := rows.Scan(
		&c.ID, &c.CompanyID, &requestDate, &deadline,
		&r1n, &r1r, &r2n, &r2r,
		&status, &c.Period, &amount, &currency, &createdAt, &updatedAt,
	); err != nil {
		return c, err
	}

	var err error
	if c.RequestDate, err = generic.ParseDate(requestDate); err != nil {
		return c, fmt.Errorf("case %s: request_date: %w", c.ID, err)
	}
	if c.StatutoryDeadline, err = generic.ParseDate(deadline); err != nil {
		return c, fmt.Errorf("case %s: statutory_deadline: %w", c.ID, err)
	}
	c.Req1 = refund.Requirement{Slot: refund.Req1}
	c.Req2 = refund.Requirement{Slot: refund.Req2}
	for _, f := range []struct {
		src sql.NullString
		dst **generic.TimePoint
	}{
		{r1n, &c.Req1.NotifiedOn},
		{r1r, &c.Req1.RespondedOn},
		{r2n, &c.Req2.NotifiedOn},
		{r2r, &c.Req2.RespondedOn},
	} {
		if *f.dst, err = parseNullDate(f.src); err != nil {
			return c, fmt.Errorf("case %s: %w", c.ID, err)
		}
	}

	c.StoredStatus = refund.StoredStatus(status)
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return c, fmt.Errorf("case %s: amount %q: %w", c.ID, amount, err)
	}
	c.Amount = generic.NewMoney(value, generic.Currency(currency))
	c.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	c.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)
	return c, nil
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// SaveHoliday inserts or replaces a holiday. Recurring holidays keep the year
// they were entered with; only month and day matter.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`
	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.String(),
		h.Name,
		h.Recurring,
		formatInstant(time.Now()),
	)
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrHolidayNotFound, id)
	}
	return nil
}

// ListHolidays returns every holiday ordered by date.
func (s *Store) ListHolidays(ctx context.Context) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holidays := []generic.Holiday{}
	for rows.Next() {
		var h generic.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = generic.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

// QueryAudit returns matching entries, newest first.
func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func appendAudit(ctx context.Context, q queryer, e generic.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, table_name, record_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatInstant(e.Timestamp), e.ActorID, string(e.Action), e.Table, e.RecordID, string(payload),
	)
	return err
}

func queryAudit(ctx context.Context, q queryer, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var where []string
	var args []any
	if filter.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, filter.Table)
	}
	if filter.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT id, ts, actor_id, action, table_name, record_id, payload FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var e generic.AuditEntry
		var ts, action string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &action, &e.Table, &e.RecordID, &payload); err != nil {
			return nil, err
		}
		e.Action = generic.AuditAction(action)
		e.Timestamp, _ = time.Parse(timestampLayout, ts)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s: payload: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). The schema stays.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "refund_cases", "companies", "holidays"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseNullDate(ns sql.NullString) (*generic.TimePoint, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
