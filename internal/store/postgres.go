package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scout/internal/db"
	"github.com/sells-group/provider-scout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	npi                      TEXT PRIMARY KEY,
	name                     TEXT NOT NULL,
	clinic_name              TEXT NOT NULL DEFAULT '',
	address                  TEXT NOT NULL DEFAULT '',
	city                     TEXT NOT NULL DEFAULT '',
	state                    TEXT NOT NULL DEFAULT '',
	zip                      TEXT NOT NULL DEFAULT '',
	specialty                TEXT NOT NULL DEFAULT '',
	phone                    TEXT NOT NULL DEFAULT '',
	fax                      TEXT NOT NULL DEFAULT '',
	email                    TEXT NOT NULL DEFAULT '',
	has_email                BOOLEAN NOT NULL DEFAULT false,
	direct_messaging_address TEXT NOT NULL DEFAULT '',
	is_emailed               BOOLEAN NOT NULL DEFAULT false,
	visited                  BOOLEAN NOT NULL DEFAULT false,
	apollo_searched          BOOLEAN NOT NULL DEFAULT false,
	emr_system               JSONB NOT NULL DEFAULT '{}',
	clinic_size              JSONB NOT NULL DEFAULT '{}',
	enrichment               JSONB,
	email_verified           BOOLEAN,
	verification             JSONB,
	data_source              TEXT NOT NULL DEFAULT 'nppes_registry',
	enrichment_status        TEXT NOT NULL DEFAULT 'scout_only',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_enriched_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(lower(city));
CREATE INDEX IF NOT EXISTS idx_providers_state ON providers(state);
CREATE INDEX IF NOT EXISTS idx_providers_unvisited ON providers(city, has_email) WHERE NOT visited;
CREATE INDEX IF NOT EXISTS idx_providers_leads ON providers(city) WHERE has_email AND NOT is_emailed;
CREATE INDEX IF NOT EXISTS idx_providers_searched ON providers(apollo_searched) WHERE apollo_searched;

CREATE TABLE IF NOT EXISTS apollo_credits (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	used INTEGER NOT NULL DEFAULT 0
);

INSERT INTO apollo_credits (id, used) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	operation  TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	specialty  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// providerColumns is the canonical column order shared by the bulk insert
// and every provider SELECT.
var providerColumns = []string{
	"npi", "name", "clinic_name", "address", "city", "state", "zip",
	"specialty", "phone", "fax", "email", "has_email",
	"direct_messaging_address", "is_emailed", "visited", "apollo_searched",
	"emr_system", "clinic_size", "enrichment", "email_verified",
	"verification", "data_source", "enrichment_status", "created_at",
	"last_enriched_at",
}

const providerSelect = `SELECT npi, name, clinic_name, address, city, state, zip,
	specialty, phone, fax, email, has_email,
	direct_messaging_address, is_emailed, visited, apollo_searched,
	emr_system, clinic_size, enrichment, email_verified,
	verification, data_source, enrichment_status, created_at,
	last_enriched_at
FROM providers`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ExistingNPIs(ctx context.Context, npis []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(npis))
	if len(npis) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT npi FROM providers WHERE npi = ANY($1)`,
		npis,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing npis")
	}
	defer rows.Close()

	for rows.Next() {
		var npi string
		if err := rows.Scan(&npi); err != nil {
			return nil, eris.Wrap(err, "postgres: scan npi")
		}
		existing[npi] = struct{}{}
	}
	return existing, eris.Wrap(rows.Err(), "postgres: existing npis iterate")
}

func (s *PostgresStore) InsertProviders(ctx context.Context, records []model.ProviderRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for i := range records {
		values, err := providerRowValues(&records[i])
		if err != nil {
			return 0, err
		}
		rows = append(rows, values)
	}

	inserted, err := db.BulkInsertSkipConflicts(ctx, s.pool, db.InsertConfig{
		Table:        "providers",
		Columns:      providerColumns,
		ConflictKeys: []string{"npi"},
	}, rows)
	return inserted, eris.Wrap(err, "postgres: insert providers")
}

func (s *PostgresStore) SelectCandidates(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error) {
	query := providerSelect + ` WHERE NOT visited`
	args := []any{}
	argIdx := 1

	if city != "" {
		query += fmt.Sprintf(` AND lower(city) = lower($%d)`, argIdx)
		args = append(args, city)
		argIdx++
	}
	if state != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, state)
		argIdx++
	}
	if specialty != "" {
		query += fmt.Sprintf(` AND specialty ILIKE '%%' || $%d || '%%'`, argIdx)
		args = append(args, specialty)
		argIdx++
	}

	// Zero-cost first: a registry email or a direct-messaging address both
	// recruit without spending a search credit.
	query += fmt.Sprintf(` ORDER BY (has_email OR direct_messaging_address <> '') DESC, created_at ASC LIMIT $%d`, argIdx)
	args = append(args, limit)

	return s.queryProviders(ctx, "select candidates", query, args...)
}

func (s *PostgresStore) ApplyEnrichment(ctx context.Context, rec *model.ProviderRecord) error {
	enrichmentJSON, verificationJSON, err := marshalEnrichment(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET
			email = $2,
			has_email = $3,
			visited = visited OR $4,
			apollo_searched = apollo_searched OR $5,
			enrichment = $6,
			email_verified = $7,
			verification = $8,
			enrichment_status = $9,
			last_enriched_at = $10
		 WHERE npi = $1`,
		rec.NPI, rec.Email, rec.HasEmail, rec.Visited, rec.ApolloSearched,
		enrichmentJSON, rec.EmailVerified, verificationJSON,
		string(rec.EnrichmentStatus), rec.LastEnrichedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply enrichment %s", rec.NPI)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("provider not found: %s", rec.NPI)
	}
	return nil
}

func (s *PostgresStore) MarkVisited(ctx context.Context, npis []string) error {
	if len(npis) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE providers SET visited = true WHERE npi = ANY($1)`,
		npis,
	)
	return eris.Wrap(err, "postgres: mark visited")
}

func (s *PostgresStore) TopLeads(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error) {
	query := providerSelect + ` WHERE has_email AND NOT is_emailed`
	args := []any{}
	argIdx := 1

	if city != "" {
		query += fmt.Sprintf(` AND lower(city) = lower($%d)`, argIdx)
		args = append(args, city)
		argIdx++
	}
	if state != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, state)
		argIdx++
	}
	if specialty != "" {
		query += fmt.Sprintf(` AND specialty ILIKE '%%' || $%d || '%%'`, argIdx)
		args = append(args, specialty)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, argIdx)
	args = append(args, limit)

	return s.queryProviders(ctx, "top leads", query, args...)
}

func (s *PostgresStore) SearchLeads(ctx context.Context, filter LeadFilter) ([]model.ProviderRecord, error) {
	query := providerSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.City != "" {
		query += fmt.Sprintf(` AND lower(city) = lower($%d)`, argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, filter.State)
		argIdx++
	}
	if filter.EMRSystem != "" {
		query += fmt.Sprintf(` AND emr_system->>'label' = $%d`, argIdx)
		args = append(args, filter.EMRSystem)
		argIdx++
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryProviders(ctx, "search leads", query, args...)
}

// ReserveCredits atomically grants up to `requested` credits against the
// global cap. The row lock on the counter makes concurrent scheduler
// invocations serialize here, so the cap can never be jointly overspent.
func (s *PostgresStore) ReserveCredits(ctx context.Context, requested, cap int) (int, int, error) {
	if requested <= 0 {
		used, err := s.CreditsUsed(ctx)
		if err != nil {
			return 0, 0, err
		}
		return 0, clampNonNegative(cap - used), nil
	}

	var granted, remaining int
	err := s.pool.QueryRow(ctx,
		`WITH cur AS (
			SELECT used FROM apollo_credits WHERE id = 1 FOR UPDATE
		), allot AS (
			SELECT LEAST($1::int, GREATEST($2::int - used, 0)) AS n FROM cur
		)
		UPDATE apollo_credits c
		SET used = c.used + allot.n
		FROM allot
		WHERE c.id = 1
		RETURNING allot.n, GREATEST($2::int - c.used, 0)`,
		requested, cap,
	).Scan(&granted, &remaining)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: reserve credits")
	}
	return granted, remaining, nil
}

func (s *PostgresStore) CreditsUsed(ctx context.Context) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx, `SELECT used FROM apollo_credits WHERE id = 1`).Scan(&used)
	return used, eris.Wrap(err, "postgres: credits used")
}

func (s *PostgresStore) CreateRun(ctx context.Context, op model.Operation, location, specialty string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, operation, location, specialty, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(op), location, specialty, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Operation: op,
		Location:  location,
		Specialty: specialty,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result map[string]any, errMsg string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run result")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result = $2, error = $3 WHERE id = $4`,
		string(status), resultJSON, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, operation, location, specialty, status, result, error, created_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Operation != "" {
		query += fmt.Sprintf(` AND operation = $%d`, argIdx)
		args = append(args, string(filter.Operation))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.Operation, &r.Location, &r.Specialty, &r.Status, &resultJSON, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
			count(*) FILTER (WHERE has_email),
			count(*) FILTER (WHERE visited),
			count(*) FILTER (WHERE apollo_searched),
			count(*) FILTER (WHERE enrichment_status = 'apollo_enriched'),
			count(*) FILTER (WHERE email_verified),
			count(*) FILTER (WHERE is_emailed)
		 FROM providers`,
	).Scan(&st.TotalProviders, &st.WithEmail, &st.Visited, &st.ApolloSearched,
		&st.Enriched, &st.EmailVerified, &st.Emailed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}

	used, err := s.CreditsUsed(ctx)
	if err != nil {
		return nil, err
	}
	st.CreditsUsed = used
	return &st, nil
}

// queryProviders runs a providerSelect-shaped query and scans all rows.
func (s *PostgresStore) queryProviders(ctx context.Context, op, query string, args ...any) ([]model.ProviderRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var records []model.ProviderRecord
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		records = append(records, *rec)
	}
	return records, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func scanProvider(row pgx.Row) (*model.ProviderRecord, error) {
	var rec model.ProviderRecord
	var emrJSON, sizeJSON, enrichmentJSON, verificationJSON []byte

	err := row.Scan(
		&rec.NPI, &rec.Name, &rec.ClinicName, &rec.Address, &rec.City,
		&rec.State, &rec.Zip, &rec.Specialty, &rec.Phone, &rec.Fax,
		&rec.Email, &rec.HasEmail, &rec.DirectMessagingAddress,
		&rec.IsEmailed, &rec.Visited, &rec.ApolloSearched,
		&emrJSON, &sizeJSON, &enrichmentJSON, &rec.EmailVerified,
		&verificationJSON, &rec.DataSource, &rec.EnrichmentStatus,
		&rec.CreatedAt, &rec.LastEnrichedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(emrJSON) > 0 {
		if err := json.Unmarshal(emrJSON, &rec.EMRSystem); err != nil {
			return nil, eris.Wrap(err, "unmarshal emr_system")
		}
	}
	if len(sizeJSON) > 0 {
		if err := json.Unmarshal(sizeJSON, &rec.ClinicSize); err != nil {
			return nil, eris.Wrap(err, "unmarshal clinic_size")
		}
	}
	if len(enrichmentJSON) > 0 {
		rec.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal(enrichmentJSON, rec.Enrichment); err != nil {
			return nil, eris.Wrap(err, "unmarshal enrichment")
		}
	}
	if len(verificationJSON) > 0 {
		rec.Verification = &model.Verification{}
		if err := json.Unmarshal(verificationJSON, rec.Verification); err != nil {
			return nil, eris.Wrap(err, "unmarshal verification")
		}
	}
	return &rec, nil
}

// providerRowValues flattens a record into the providerColumns order for
// the bulk COPY path.
func providerRowValues(rec *model.ProviderRecord) ([]any, error) {
	emrJSON, err := json.Marshal(rec.EMRSystem)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal emr_system")
	}
	sizeJSON, err := json.Marshal(rec.ClinicSize)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal clinic_size")
	}
	enrichmentJSON, verificationJSON, err := marshalEnrichment(rec)
	if err != nil {
		return nil, err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return []any{
		rec.NPI, rec.Name, rec.ClinicName, rec.Address, rec.City,
		rec.State, rec.Zip, rec.Specialty, rec.Phone, rec.Fax,
		rec.Email, rec.HasEmail, rec.DirectMessagingAddress,
		rec.IsEmailed, rec.Visited, rec.ApolloSearched,
		emrJSON, sizeJSON, enrichmentJSON, rec.EmailVerified,
		verificationJSON, string(rec.DataSource), string(rec.EnrichmentStatus),
		createdAt, rec.LastEnrichedAt,
	}, nil
}

// marshalEnrichment returns the nullable JSON columns for a record; a nil
// struct stays NULL in storage.
func marshalEnrichment(rec *model.ProviderRecord) ([]byte, []byte, error) {
	var enrichmentJSON, verificationJSON []byte
	var err error

	if rec.Enrichment != nil {
		enrichmentJSON, err = json.Marshal(rec.Enrichment)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal enrichment")
		}
	}
	if rec.Verification != nil {
		verificationJSON, err = json.Marshal(rec.Verification)
		if err != nil {
			return nil, nil, eris.Wrap(err, "postgres: marshal verification")
		}
	}
	return enrichmentJSON, verificationJSON, nil
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
