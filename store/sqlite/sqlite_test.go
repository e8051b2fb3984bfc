package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/refund"
	"github.com/warp/refund-tracker/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(s string) generic.TimePoint { return generic.MustParseDate(s) }

func dp(s string) *generic.TimePoint {
	tp := d(s)
	return &tp
}

func company(id, name string) refund.Company {
	return refund.Company{ID: id, Name: name, CreatedAt: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)}
}

func newCase(id, companyID, requestDate string) refund.Case {
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	return refund.Case{
		ID:                id,
		CompanyID:         companyID,
		RequestDate:       d(requestDate),
		StatutoryDeadline: d(requestDate).AddDays(56),
		Req1:              refund.Requirement{Slot: refund.Req1},
		Req2:              refund.Requirement{Slot: refund.Req2},
		StoredStatus:      refund.StoredPending,
		Amount:            generic.NewMoney(decimal.RequireFromString("12345.67"), generic.CurrencyMXN),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("New applies the schema", func(t *testing.T) {
		s := newStore(t)

		version, dirty, err := s.MigrationVersion()
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
		assert.False(t, dirty)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("Open leaves the schema alone until MigrateUp", func(t *testing.T) {
		s, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		defer s.Close()

		version, _, err := s.MigrationVersion()
		require.NoError(t, err)
		assert.Equal(t, uint(0), version)

		require.NoError(t, s.MigrateUp())
		require.NoError(t, s.MigrateUp(), "no pending migration is not an error")

		version, _, err = s.MigrationVersion()
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
	})
}

func TestCompanies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN two companies, one saved twice with a new name
	require.NoError(t, s.SaveCompany(ctx, company("c2", "Zeta SA")))
	require.NoError(t, s.SaveCompany(ctx, refund.Company{ID: "c1", Name: "Acme", RFC: "ACM010101AAA", CreatedAt: time.Now()}))
	require.NoError(t, s.SaveCompany(ctx, company("c2", "Beta SA")))

	// WHEN listing
	companies, err := s.ListCompanies(ctx)
	require.NoError(t, err)

	// THEN they come back by name with the latest values
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme", companies[0].Name)
	assert.Equal(t, "ACM010101AAA", companies[0].RFC)
	assert.Equal(t, "Beta SA", companies[1].Name)
	assert.Empty(t, companies[1].RFC)

	got, err := s.GetCompany(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)))

	_, err = s.GetCompany(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrCompanyNotFound)
}

func TestCases(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip keeps checkpoints and amount", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveCompany(ctx, company("c1", "Acme")))

		// GIVEN a case with a closed first requirement and an open second one
		c := newCase("case-1", "c1", "2024-01-15")
		c.Period = "2023-12"
		c.Req1.NotifiedOn = dp("2024-02-01")
		c.Req1.RespondedOn = dp("2024-02-12")
		c.Req2.NotifiedOn = dp("2024-02-20")
		require.NoError(t, s.SaveCase(ctx, c))

		// WHEN reading it back
		got, err := s.GetCase(ctx, "case-1")
		require.NoError(t, err)

		// THEN every field survives
		assert.Equal(t, "c1", got.CompanyID)
		assert.True(t, got.RequestDate.Equal(d("2024-01-15")))
		assert.True(t, got.StatutoryDeadline.Equal(c.StatutoryDeadline))
		assert.Equal(t, refund.Req1, got.Req1.Slot)
		assert.Equal(t, refund.Req2, got.Req2.Slot)
		require.NotNil(t, got.Req1.RespondedOn)
		assert.Equal(t, "2024-02-12", got.Req1.RespondedOn.String())
		require.NotNil(t, got.Req2.NotifiedOn)
		assert.Equal(t, "2024-02-20", got.Req2.NotifiedOn.String())
		assert.Nil(t, got.Req2.RespondedOn)
		assert.Equal(t, refund.StoredPending, got.StoredStatus)
		assert.Equal(t, "2023-12", got.Period)
		assert.True(t, got.Amount.Value.Equal(decimal.RequireFromString("12345.67")))
		assert.Equal(t, generic.CurrencyMXN, got.Amount.Currency)
	})

	t.Run("save replaces an existing case", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveCompany(ctx, company("c1", "Acme")))
		c := newCase("case-1", "c1", "2024-01-15")
		require.NoError(t, s.SaveCase(ctx, c))

		c.StoredStatus = refund.StoredCompleted
		c.Req1.NotifiedOn = dp("2024-02-01")
		require.NoError(t, s.SaveCase(ctx, c))

		got, err := s.GetCase(ctx, "case-1")
		require.NoError(t, err)
		assert.Equal(t, refund.StoredCompleted, got.StoredStatus)
		assert.NotNil(t, got.Req1.NotifiedOn)
	})

	t.Run("unknown company is rejected by the foreign key", func(t *testing.T) {
		s := newStore(t)

		err := s.SaveCase(ctx, newCase("case-1", "ghost", "2024-01-15"))

		assert.ErrorIs(t, err, generic.ErrCompanyNotFound)
		assert.True(t, generic.IsNotFound(err))
	})

	t.Run("missing case", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetCase(ctx, "nope")

		assert.ErrorIs(t, err, generic.ErrCaseNotFound)
	})

	t.Run("list filters and orders newest request first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveCompany(ctx, company("c1", "Acme")))
		require.NoError(t, s.SaveCompany(ctx, company("c2", "Beta")))

		old := newCase("a", "c1", "2024-01-02")
		mid := newCase("b", "c2", "2024-01-15")
		recent := newCase("c", "c1", "2024-02-01")
		recent.StoredStatus = refund.StoredCanceled
		for _, c := range []refund.Case{old, mid, recent} {
			require.NoError(t, s.SaveCase(ctx, c))
		}

		all, err := s.ListCases(ctx, refund.CaseFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, caseIDs(all))

		byCompany, err := s.ListCases(ctx, refund.CaseFilter{CompanyID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a"}, caseIDs(byCompany))

		pending, err := s.ListCases(ctx, refund.CaseFilter{CompanyID: "c1", StoredStatus: refund.StoredPending})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, caseIDs(pending))

		none, err := s.ListCases(ctx, refund.CaseFilter{CompanyID: "c9"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func caseIDs(cases []refund.Case) []string {
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	return ids
}

func TestHolidays(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN holidays saved out of order
	require.NoError(t, s.SaveHoliday(ctx, generic.Holiday{ID: "h2", Date: d("2024-03-18"), Name: "Natalicio de Benito Juárez"}))
	require.NoError(t, s.SaveHoliday(ctx, generic.Holiday{ID: "h1", Date: d("2024-01-01"), Name: "Año Nuevo", Recurring: true}))

	// WHEN listing
	holidays, err := s.ListHolidays(ctx)
	require.NoError(t, err)

	// THEN they come back by date with the recurring flag intact
	require.Len(t, holidays, 2)
	assert.Equal(t, "h1", holidays[0].ID)
	assert.True(t, holidays[0].Recurring)
	assert.Equal(t, "2024-03-18", holidays[1].Date.String())
	assert.False(t, holidays[1].Recurring)

	// AND deleting works once
	require.NoError(t, s.DeleteHoliday(ctx, "h2"))
	err = s.DeleteHoliday(ctx, "h2")
	assert.ErrorIs(t, err, generic.ErrHolidayNotFound)

	holidays, err = s.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Len(t, holidays, 1)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ts := time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC)

	entries := []generic.AuditEntry{
		{ID: "e1", Timestamp: ts, ActorID: "ana", Action: generic.AuditCaseCreated, Table: "refund_cases", RecordID: "case-1", Payload: map[string]any{"request_date": "2024-01-15"}},
		{ID: "e2", Timestamp: ts, ActorID: "ana", Action: generic.AuditRequirementIssued, Table: "refund_cases", RecordID: "case-1", Payload: map[string]any{"slot": "req1"}},
		{ID: "e3", Timestamp: ts, ActorID: "system", Action: generic.AuditCaseCreated, Table: "refund_cases", RecordID: "case-2"},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	t.Run("newest first for one record", func(t *testing.T) {
		got, err := s.QueryAudit(ctx, generic.AuditFilter{Table: "refund_cases", RecordID: "case-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e2", got[0].ID)
		assert.Equal(t, "req1", got[0].Payload["slot"])
		assert.True(t, got[0].Timestamp.Equal(ts))
		assert.Equal(t, "e1", got[1].ID)
	})

	t.Run("action filter and limit", func(t *testing.T) {
		got, err := s.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditCaseCreated}, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e3", got[0].ID)
		assert.Nil(t, got[0].Payload)
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		s := newStore(t)

		err := s.WithTx(ctx, func(tx refund.Store) error {
			if err := tx.SaveCompany(ctx, company("c1", "Acme")); err != nil {
				return err
			}
			return tx.SaveCase(ctx, newCase("case-1", "c1", "2024-01-15"))
		})
		require.NoError(t, err)

		_, err = s.GetCase(ctx, "case-1")
		assert.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")

		// GIVEN a transaction that writes and then fails
		err := s.WithTx(ctx, func(tx refund.Store) error {
			if err := tx.SaveCompany(ctx, company("c1", "Acme")); err != nil {
				return err
			}
			got, err := tx.GetCompany(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "Acme", got.Name)
			return boom
		})

		// THEN the error comes back and nothing was written
		assert.ErrorIs(t, err, boom)
		_, err = s.GetCompany(ctx, "c1")
		assert.ErrorIs(t, err, generic.ErrCompanyNotFound)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveCompany(ctx, company("c1", "Acme")))
	require.NoError(t, s.SaveCase(ctx, newCase("case-1", "c1", "2024-01-15")))
	require.NoError(t, s.SaveHoliday(ctx, generic.Holiday{ID: "h1", Date: d("2024-01-01"), Name: "Año Nuevo"}))
	require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{ID: "e1", Timestamp: time.Now(), ActorID: "system", Action: generic.AuditCompanyCreated, Table: "companies", RecordID: "c1"}))

	require.NoError(t, s.Reset(ctx))

	companies, err := s.ListCompanies(ctx)
	require.NoError(t, err)
	assert.Empty(t, companies)
	cases, err := s.ListCases(ctx, refund.CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, cases)
	holidays, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Empty(t, holidays)
	audit, err := s.QueryAudit(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, audit)

	// schema is still there
	require.NoError(t, s.SaveCompany(ctx, company("c1", "Acme")))
}
