package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scout/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func providerRow() *pgxmock.Rows {
	return pgxmock.NewRows(providerColumns).AddRow(
		"1234567893", "Dr. Jane Doe, MD", "Novi Family Care", "123 Main St",
		"Novi", "MI", "48375", "Family Medicine", "248-555-0100", "",
		"jane@novifamilycare.com", true, "", false, false, false,
		[]byte(`{"label":"Athenahealth","confidence":0.62,"source":"regional_estimate"}`),
		[]byte(`{"label":"Small","confidence":0.45,"source":"regional_estimate"}`),
		nil, nil, nil, "nppes_registry", "scout_only",
		time.Now().UTC(), nil,
	)
}

func TestPostgresStore_ExistingNPIs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT npi FROM providers WHERE npi = ANY\(\$1\)`).
		WithArgs([]string{"1234567893", "1987654321"}).
		WillReturnRows(pgxmock.NewRows([]string{"npi"}).AddRow("1234567893"))

	existing, err := s.ExistingNPIs(context.Background(), []string{"1234567893", "1987654321"})
	require.NoError(t, err)
	assert.Contains(t, existing, "1234567893")
	assert.NotContains(t, existing, "1987654321")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingNPIs_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	existing, err := s.ExistingNPIs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestPostgresStore_SelectCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE NOT visited AND lower\(city\) = lower\(\$1\).*ORDER BY \(has_email OR direct_messaging_address <> ''\) DESC`).
		WithArgs("Novi", "Family Medicine", 10).
		WillReturnRows(providerRow())

	records, err := s.SelectCandidates(context.Background(), "Novi", "", "Family Medicine", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1234567893", records[0].NPI)
	assert.True(t, records[0].HasEmail)
	assert.Equal(t, "Athenahealth", records[0].EMRSystem.Label)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyEnrichment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE providers SET`).
		WithArgs("0000000000", "", false, true, true,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"scout_only", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	rec := &model.ProviderRecord{
		NPI:              "0000000000",
		Visited:          true,
		ApolloSearched:   true,
		EnrichmentStatus: model.EnrichmentScoutOnly,
	}
	err := s.ApplyEnrichment(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkVisited(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE providers SET visited = true WHERE npi = ANY\(\$1\)`).
		WithArgs([]string{"1234567893", "1987654321"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.MarkVisited(context.Background(), []string{"1234567893", "1987654321"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReserveCredits(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE apollo_credits`).
		WithArgs(5, 100).
		WillReturnRows(pgxmock.NewRows([]string{"n", "remaining"}).AddRow(2, 0))

	granted, remaining, err := s.ReserveCredits(context.Background(), 5, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, granted)
	assert.Equal(t, 0, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReserveCredits_ZeroRequested(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT used FROM apollo_credits`).
		WillReturnRows(pgxmock.NewRows([]string{"used"}).AddRow(40))

	granted, remaining, err := s.ReserveCredits(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
	assert.Equal(t, 60, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "", "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing-run", model.RunStatusComplete, map[string]any{"leads_loaded": 3}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count\(\*\)`).
		WillReturnRows(pgxmock.NewRows([]string{"total", "with_email", "visited", "searched", "enriched", "verified", "emailed"}).
			AddRow(120, 45, 70, 30, 25, 18, 9))
	mock.ExpectQuery(`SELECT used FROM apollo_credits`).
		WillReturnRows(pgxmock.NewRows([]string{"used"}).AddRow(30))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.TotalProviders)
	assert.Equal(t, 45, stats.WithEmail)
	assert.Equal(t, 30, stats.ApolloSearched)
	assert.Equal(t, 30, stats.CreditsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
