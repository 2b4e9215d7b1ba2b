package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// development and single-operator installs; Postgres is the production driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	has_email                INTEGER NOT NULL DEFAULT 0,
	direct_messaging_address TEXT NOT NULL DEFAULT '',
	is_emailed               INTEGER NOT NULL DEFAULT 0,
	visited                  INTEGER NOT NULL DEFAULT 0,
	apollo_searched          INTEGER NOT NULL DEFAULT 0,
	emr_system               TEXT NOT NULL DEFAULT '{}',
	clinic_size              TEXT NOT NULL DEFAULT '{}',
	enrichment               TEXT,
	email_verified           INTEGER,
	verification             TEXT,
	data_source              TEXT NOT NULL DEFAULT 'nppes_registry',
	enrichment_status        TEXT NOT NULL DEFAULT 'scout_only',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	last_enriched_at         DATETIME
);

CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(city);
CREATE INDEX IF NOT EXISTS idx_providers_state ON providers(state);
CREATE INDEX IF NOT EXISTS idx_providers_visited ON providers(visited);

CREATE TABLE IF NOT EXISTS apollo_credits (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	used INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO apollo_credits (id, used) VALUES (1, 0);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	operation  TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	specialty  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const sqliteProviderSelect = `SELECT npi, name, clinic_name, address, city, state, zip,
	specialty, phone, fax, email, has_email,
	direct_messaging_address, is_emailed, visited, apollo_searched,
	emr_system, clinic_size, enrichment, email_verified,
	verification, data_source, enrichment_status, created_at,
	last_enriched_at
FROM providers`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ExistingNPIs(ctx context.Context, npis []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(npis))
	if len(npis) == 0 {
		return existing, nil
	}

	query := `SELECT npi FROM providers WHERE npi IN (` + placeholders(len(npis)) + `)`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(npis)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing npis")
	}
	defer rows.Close()

	for rows.Next() {
		var npi string
		if err := rows.Scan(&npi); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan npi")
		}
		existing[npi] = struct{}{}
	}
	return existing, eris.Wrap(rows.Err(), "sqlite: existing npis iterate")
}

func (s *SQLiteStore) InsertProviders(ctx context.Context, records []model.ProviderRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert providers begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO providers (
			npi, name, clinic_name, address, city, state, zip,
			specialty, phone, fax, email, has_email,
			direct_messaging_address, is_emailed, visited, apollo_searched,
			emr_system, clinic_size, enrichment, email_verified,
			verification, data_source, enrichment_status, created_at,
			last_enriched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert providers prepare")
	}
	defer stmt.Close()

	var inserted int64
	for i := range records {
		values, err := sqliteRowValues(&records[i])
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert provider %s", records[i].NPI)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert providers rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert providers commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) SelectCandidates(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error) {
	query := sqliteProviderSelect + ` WHERE visited = 0`
	args := []any{}

	if city != "" {
		query += ` AND lower(city) = lower(?)`
		args = append(args, city)
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	if specialty != "" {
		query += ` AND specialty LIKE '%' || ? || '%'`
		args = append(args, specialty)
	}

	// Zero-cost first: a registry email or a direct-messaging address both
	// recruit without spending a search credit.
	query += ` ORDER BY (has_email OR direct_messaging_address <> '') DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	return s.queryProviders(ctx, "select candidates", query, args...)
}

func (s *SQLiteStore) ApplyEnrichment(ctx context.Context, rec *model.ProviderRecord) error {
	enrichmentJSON, verificationJSON, err := marshalEnrichment(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET
			email = ?,
			has_email = ?,
			visited = CASE WHEN ? THEN 1 ELSE visited END,
			apollo_searched = CASE WHEN ? THEN 1 ELSE apollo_searched END,
			enrichment = ?,
			email_verified = ?,
			verification = ?,
			enrichment_status = ?,
			last_enriched_at = ?
		 WHERE npi = ?`,
		rec.Email, rec.HasEmail, rec.Visited, rec.ApolloSearched,
		nullableBytes(enrichmentJSON), nullableBool(rec.EmailVerified),
		nullableBytes(verificationJSON), string(rec.EnrichmentStatus),
		nullableTime(rec.LastEnrichedAt), rec.NPI,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply enrichment %s", rec.NPI)
	}
	return checkRowsAffected(res, "provider", rec.NPI)
}

func (s *SQLiteStore) MarkVisited(ctx context.Context, npis []string) error {
	if len(npis) == 0 {
		return nil
	}
	query := `UPDATE providers SET visited = 1 WHERE npi IN (` + placeholders(len(npis)) + `)`
	_, err := s.db.ExecContext(ctx, query, stringArgs(npis)...)
	return eris.Wrap(err, "sqlite: mark visited")
}

func (s *SQLiteStore) TopLeads(ctx context.Context, city, state, specialty string, limit int) ([]model.ProviderRecord, error) {
	query := sqliteProviderSelect + ` WHERE has_email = 1 AND is_emailed = 0`
	args := []any{}

	if city != "" {
		query += ` AND lower(city) = lower(?)`
		args = append(args, city)
	}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	if specialty != "" {
		query += ` AND specialty LIKE '%' || ? || '%'`
		args = append(args, specialty)
	}

	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	return s.queryProviders(ctx, "top leads", query, args...)
}

func (s *SQLiteStore) SearchLeads(ctx context.Context, filter LeadFilter) ([]model.ProviderRecord, error) {
	query := sqliteProviderSelect + ` WHERE 1=1`
	args := []any{}

	if filter.City != "" {
		query += ` AND lower(city) = lower(?)`
		args = append(args, filter.City)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	if filter.EMRSystem != "" {
		query += ` AND json_extract(emr_system, '$.label') = ?`
		args = append(args, filter.EMRSystem)
	}

	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryProviders(ctx, "search leads", query, args...)
}

// ReserveCredits grants up to `requested` credits inside a single write
// transaction. SQLite serializes writers, so the read-modify-write cannot
// interleave with a concurrent reservation.
func (s *SQLiteStore) ReserveCredits(ctx context.Context, requested, cap int) (int, int, error) {
	if requested <= 0 {
		used, err := s.CreditsUsed(ctx)
		if err != nil {
			return 0, 0, err
		}
		return 0, clampNonNegative(cap - used), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: reserve credits begin")
	}
	defer tx.Rollback()

	var used int
	if err := tx.QueryRowContext(ctx, `SELECT used FROM apollo_credits WHERE id = 1`).Scan(&used); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: reserve credits read")
	}

	granted := clampNonNegative(cap - used)
	if granted > requested {
		granted = requested
	}

	if _, err := tx.ExecContext(ctx, `UPDATE apollo_credits SET used = used + ? WHERE id = 1`, granted); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: reserve credits update")
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: reserve credits commit")
	}
	return granted, clampNonNegative(cap - used - granted), nil
}

func (s *SQLiteStore) CreditsUsed(ctx context.Context) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `SELECT used FROM apollo_credits WHERE id = 1`).Scan(&used)
	return used, eris.Wrap(err, "sqlite: credits used")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, op model.Operation, location, specialty string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, operation, location, specialty, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(op), location, specialty, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result map[string]any, errMsg string) error {
	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run result")
		}
		resultJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, error = ? WHERE id = ?`,
		string(status), resultJSON, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, operation, location, specialty, status, result, error, created_at FROM runs WHERE 1=1`
	args := []any{}

	if filter.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, string(filter.Operation))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Operation, &r.Location, &r.Specialty, &r.Status, &resultJSON, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &r.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*),
			count(*) FILTER (WHERE has_email = 1),
			count(*) FILTER (WHERE visited = 1),
			count(*) FILTER (WHERE apollo_searched = 1),
			count(*) FILTER (WHERE enrichment_status = 'apollo_enriched'),
			count(*) FILTER (WHERE email_verified = 1),
			count(*) FILTER (WHERE is_emailed = 1)
		 FROM providers`,
	).Scan(&st.TotalProviders, &st.WithEmail, &st.Visited, &st.ApolloSearched,
		&st.Enriched, &st.EmailVerified, &st.Emailed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}

	used, err := s.CreditsUsed(ctx)
	if err != nil {
		return nil, err
	}
	st.CreditsUsed = used
	return &st, nil
}

func (s *SQLiteStore) queryProviders(ctx context.Context, op, query string, args ...any) ([]model.ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var records []model.ProviderRecord
	for rows.Next() {
		rec, err := scanSQLiteProvider(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		records = append(records, *rec)
	}
	return records, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func scanSQLiteProvider(rows *sql.Rows) (*model.ProviderRecord, error) {
	var rec model.ProviderRecord
	var emrJSON, sizeJSON string
	var enrichmentJSON, verificationJSON sql.NullString
	var emailVerified sql.NullBool
	var lastEnrichedAt sql.NullTime

	err := rows.Scan(
		&rec.NPI, &rec.Name, &rec.ClinicName, &rec.Address, &rec.City,
		&rec.State, &rec.Zip, &rec.Specialty, &rec.Phone, &rec.Fax,
		&rec.Email, &rec.HasEmail, &rec.DirectMessagingAddress,
		&rec.IsEmailed, &rec.Visited, &rec.ApolloSearched,
		&emrJSON, &sizeJSON, &enrichmentJSON, &emailVerified,
		&verificationJSON, &rec.DataSource, &rec.EnrichmentStatus,
		&rec.CreatedAt, &lastEnrichedAt,
	)
	if err != nil {
		return nil, err
	}

	if emrJSON != "" {
		if err := json.Unmarshal([]byte(emrJSON), &rec.EMRSystem); err != nil {
			return nil, eris.Wrap(err, "unmarshal emr_system")
		}
	}
	if sizeJSON != "" {
		if err := json.Unmarshal([]byte(sizeJSON), &rec.ClinicSize); err != nil {
			return nil, eris.Wrap(err, "unmarshal clinic_size")
		}
	}
	if enrichmentJSON.Valid && enrichmentJSON.String != "" {
		rec.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal([]byte(enrichmentJSON.String), rec.Enrichment); err != nil {
			return nil, eris.Wrap(err, "unmarshal enrichment")
		}
	}
	if emailVerified.Valid {
		v := emailVerified.Bool
		rec.EmailVerified = &v
	}
	if verificationJSON.Valid && verificationJSON.String != "" {
		rec.Verification = &model.Verification{}
		if err := json.Unmarshal([]byte(verificationJSON.String), rec.Verification); err != nil {
			return nil, eris.Wrap(err, "unmarshal verification")
		}
	}
	if lastEnrichedAt.Valid {
		t := lastEnrichedAt.Time
		rec.LastEnrichedAt = &t
	}
	return &rec, nil
}

func sqliteRowValues(rec *model.ProviderRecord) ([]any, error) {
	emrJSON, err := json.Marshal(rec.EMRSystem)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal emr_system")
	}
	sizeJSON, err := json.Marshal(rec.ClinicSize)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal clinic_size")
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
		string(emrJSON), string(sizeJSON), nullableBytes(enrichmentJSON),
		nullableBool(rec.EmailVerified), nullableBytes(verificationJSON),
		string(rec.DataSource), string(rec.EnrichmentStatus),
		createdAt, nullableTime(rec.LastEnrichedAt),
	}, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s", kind)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
