package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-import/internal/db"
	"github.com/sells-group/crm-import/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_job":          `SELECT id, filename, kind, status, total_rows, processed_rows, successful_rows, error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at FROM import_jobs WHERE id = $1`,
	"update_job":       `UPDATE import_jobs SET status = $1, processed_rows = $2, successful_rows = $3, error_rows = $4, duplicate_rows = $5, updated_rows = $6, errors = $7, completed_at = $8 WHERE id = $9`,
	"recent_contacts":  `SELECT id, full_name, first_name, last_name, email, phone, mobile_phone, title, company, industry, city, state, country, linkedin_url, source, created_at, updated_at FROM contacts ORDER BY created_at DESC LIMIT $1`,
	"recent_companies": `SELECT id, name, domain, website, industry, employee_count, revenue, phone, street, city, state, zip_code, country, technologies, source, created_at, updated_at FROM companies ORDER BY created_at DESC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool, primarily for tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id           BIGSERIAL PRIMARY KEY,
	full_name    TEXT NOT NULL DEFAULT '',
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	mobile_phone TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS companies (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	domain         TEXT NOT NULL DEFAULT '',
	website        TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	employee_count INTEGER NOT NULL DEFAULT 0,
	revenue        BIGINT NOT NULL DEFAULT 0,
	phone          TEXT NOT NULL DEFAULT '',
	street         TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip_code       TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	technologies   JSONB NOT NULL DEFAULT '[]',
	source         TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS import_jobs (
	id              TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	total_rows      INTEGER NOT NULL DEFAULT 0,
	processed_rows  INTEGER NOT NULL DEFAULT 0,
	successful_rows INTEGER NOT NULL DEFAULT 0,
	error_rows      INTEGER NOT NULL DEFAULT 0,
	duplicate_rows  INTEGER NOT NULL DEFAULT 0,
	updated_rows    INTEGER NOT NULL DEFAULT 0,
	field_mapping   JSONB,
	errors          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_contacts_created_at ON contacts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain);
CREATE INDEX IF NOT EXISTS idx_companies_created_at ON companies(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_created_at ON import_jobs(created_at DESC);
`

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

var contactInsertColumns = []string{
	"full_name", "first_name", "last_name", "email", "phone", "mobile_phone",
	"title", "company", "industry", "city", "state", "country",
	"linkedin_url", "source", "created_at", "updated_at",
}

func contactRow(ct model.Contact, now time.Time) []any {
	return []any{
		ct.FullName, ct.FirstName, ct.LastName, ct.Email, ct.Phone, ct.MobilePhone,
		ct.Title, ct.Company, ct.Industry, ct.City, ct.State, ct.Country,
		ct.LinkedInURL, ct.Source, now, now,
	}
}

func (s *PostgresStore) RecentContacts(ctx context.Context, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, preparedStatements["recent_contacts"], limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent contacts")
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var ct model.Contact
		if err := rows.Scan(&ct.ID, &ct.FullName, &ct.FirstName, &ct.LastName, &ct.Email,
			&ct.Phone, &ct.MobilePhone, &ct.Title, &ct.Company, &ct.Industry,
			&ct.City, &ct.State, &ct.Country, &ct.LinkedInURL, &ct.Source,
			&ct.CreatedAt, &ct.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, ct)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: recent contacts iterate")
}

func (s *PostgresStore) InsertContacts(ctx context.Context, contacts []model.Contact) error {
	now := time.Now().UTC()
	rows := make([][]any, len(contacts))
	for i, ct := range contacts {
		rows[i] = contactRow(ct, now)
	}
	_, err := db.CopyFrom(ctx, s.pool, "contacts", contactInsertColumns, rows)
	return eris.Wrap(err, "postgres: insert contacts")
}

func (s *PostgresStore) InsertContact(ctx context.Context, contact *model.Contact) error {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (full_name, first_name, last_name, email, phone, mobile_phone,
		 title, company, industry, city, state, country, linkedin_url, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		contact.FullName, contact.FirstName, contact.LastName, contact.Email,
		contact.Phone, contact.MobilePhone, contact.Title, contact.Company,
		contact.Industry, contact.City, contact.State, contact.Country,
		contact.LinkedInURL, contact.Source, now, now,
	).Scan(&contact.ID)
	return eris.Wrap(err, "postgres: insert contact")
}

func (s *PostgresStore) UpdateContactFields(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateFields(ctx, "contacts", id, fields, contactColumns)
}

var companyInsertColumns = []string{
	"name", "domain", "website", "industry", "employee_count", "revenue",
	"phone", "street", "city", "state", "zip_code", "country",
	"technologies", "source", "created_at", "updated_at",
}

func companyRow(co model.Company, now time.Time) ([]any, error) {
	techJSON, err := json.Marshal(co.Technologies)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal technologies")
	}
	return []any{
		co.Name, co.Domain, co.Website, co.Industry, co.EmployeeCount, co.Revenue,
		co.Phone, co.Street, co.City, co.State, co.ZipCode, co.Country,
		techJSON, co.Source, now, now,
	}, nil
}

func (s *PostgresStore) RecentCompanies(ctx context.Context, limit int) ([]model.Company, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, preparedStatements["recent_companies"], limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var co model.Company
		var techJSON []byte
		if err := rows.Scan(&co.ID, &co.Name, &co.Domain, &co.Website, &co.Industry,
			&co.EmployeeCount, &co.Revenue, &co.Phone, &co.Street, &co.City,
			&co.State, &co.ZipCode, &co.Country, &techJSON, &co.Source,
			&co.CreatedAt, &co.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		if len(techJSON) > 0 {
			if err := json.Unmarshal(techJSON, &co.Technologies); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal technologies")
			}
		}
		companies = append(companies, co)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: recent companies iterate")
}

func (s *PostgresStore) InsertCompanies(ctx context.Context, companies []model.Company) error {
	now := time.Now().UTC()
	rows := make([][]any, len(companies))
	for i, co := range companies {
		row, err := companyRow(co, now)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	_, err := db.CopyFrom(ctx, s.pool, "companies", companyInsertColumns, rows)
	return eris.Wrap(err, "postgres: insert companies")
}

func (s *PostgresStore) InsertCompany(ctx context.Context, company *model.Company) error {
	now := time.Now().UTC()
	techJSON, err := json.Marshal(company.Technologies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal technologies")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, domain, website, industry, employee_count, revenue,
		 phone, street, city, state, zip_code, country, technologies, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		company.Name, company.Domain, company.Website, company.Industry,
		company.EmployeeCount, company.Revenue, company.Phone, company.Street,
		company.City, company.State, company.ZipCode, company.Country,
		techJSON, company.Source, now, now,
	).Scan(&company.ID)
	return eris.Wrap(err, "postgres: insert company")
}

func (s *PostgresStore) UpdateCompanyFields(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateFields(ctx, "companies", id, fields, companyColumns)
}

// updateFields builds a targeted UPDATE for the patched columns only.
func (s *PostgresStore) updateFields(ctx context.Context, table string, id int64, fields map[string]any, columns map[string]string) error {
	cols, vals := columnAssignments(fields, columns)
	if len(cols) == 0 {
		return nil
	}

	var sets []string
	args := make([]any, 0, len(vals)+2)
	for i, col := range cols {
		v := vals[i]
		if list, ok := v.([]string); ok {
			listJSON, err := json.Marshal(list)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal %s", col)
			}
			v = listJSON
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1))
		args = append(args, v)
	}
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s, updated_at = $%d WHERE id = $%d",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(sets, ", "),
		len(cols)+1, len(cols)+2,
	)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %d", table, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %d", strings.TrimSuffix(table, "s"), id)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ImportJob) error {
	mappingJSON, errorsJSON, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, filename, kind, status, total_rows, processed_rows,
		 successful_rows, error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.Filename, string(job.Kind), string(job.Status), job.TotalRows,
		job.ProcessedRows, job.SuccessfulRows, job.ErrorRows, job.DuplicateRows,
		job.UpdatedRows, mappingJSON, errorsJSON, job.CreatedAt, job.CompletedAt,
	)
	return eris.Wrap(err, "postgres: create job")
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	_, errorsJSON, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, preparedStatements["update_job"],
		string(job.Status), job.ProcessedRows, job.SuccessfulRows, job.ErrorRows,
		job.DuplicateRows, job.UpdatedRows, errorsJSON, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_job"], id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("job not found: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, kind, status, total_rows, processed_rows, successful_rows,
		 error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at
		 FROM import_jobs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.ImportJob, error) {
	var job model.ImportJob
	var kind, status string
	var mappingJSON, errorsJSON []byte

	err := row.Scan(&job.ID, &job.Filename, &kind, &status, &job.TotalRows,
		&job.ProcessedRows, &job.SuccessfulRows, &job.ErrorRows, &job.DuplicateRows,
		&job.UpdatedRows, &mappingJSON, &errorsJSON, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = model.EntityKind(kind)
	job.Status = model.JobStatus(status)

	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &job.FieldMapping); err != nil {
			return nil, eris.Wrap(err, "unmarshal field mapping")
		}
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal job errors")
		}
	}
	return &job, nil
}

func marshalJobJSON(job *model.ImportJob) ([]byte, []byte, error) {
	mappingJSON, err := json.Marshal(job.FieldMapping)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal field mapping")
	}
	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal job errors")
	}
	return mappingJSON, errorsJSON, nil
}
