package refund

import (
	"context"

	"github.com/warp/refund-tracker/generic"
)

// =============================================================================
// STORE - Persistence collaborators the service needs
// =============================================================================
//
// Implementations:
//   - store/sqlite: Production SQLite
//   - store/memory: In-memory for tests and demos

// Store persists companies, cases and their audit trail. Get methods return
// generic.ErrCompanyNotFound / generic.ErrCaseNotFound for missing rows.
type Store interface {
	generic.AuditLog

	SaveCompany(ctx context.Context, c Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)

	// SaveCase inserts or replaces a case with all its checkpoints.
	SaveCase(ctx context.Context, c Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]Case, error)
}

// TxStore runs fn atomically: writes made through tx are committed only when
// fn returns nil.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// HolidayStore persists the holiday calendar.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h generic.Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context) ([]generic.Holiday, error)
}

// CaseFilter narrows ListCases. Zero values match everything.
type CaseFilter struct {
	CompanyID    string
	StoredStatus StoredStatus
}

func (f CaseFilter) Match(c Case) bool {
	if f.CompanyID != "" && c.CompanyID != f.CompanyID {
		return false
	}
	if f.StoredStatus != "" && c.StoredStatus != f.StoredStatus {
		return false
	}
	return true
}

// LoadCalendar snapshots the holiday store into an immutable calendar.
func LoadCalendar(ctx context.Context, hs HolidayStore) (*generic.HolidaySet, error) {
	holidays, err := hs.ListHolidays(ctx)
	if err != nil {
		return nil, err
	}
	return generic.NewHolidaySet(holidays...), nil
}
