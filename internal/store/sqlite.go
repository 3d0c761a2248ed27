package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-import/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
CREATE TABLE IF NOT EXISTS contacts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
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
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS companies (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL DEFAULT '',
	domain         TEXT NOT NULL DEFAULT '',
	website        TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	employee_count INTEGER NOT NULL DEFAULT 0,
	revenue        INTEGER NOT NULL DEFAULT 0,
	phone          TEXT NOT NULL DEFAULT '',
	street         TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip_code       TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	technologies   TEXT NOT NULL DEFAULT '[]',
	source         TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
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
	field_mapping   TEXT,
	errors          TEXT,
	created_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_contacts_created_at ON contacts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain);
CREATE INDEX IF NOT EXISTS idx_companies_created_at ON companies(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_created_at ON import_jobs(created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsertContact = `INSERT INTO contacts (full_name, first_name, last_name, email, phone, mobile_phone,
 title, company, industry, city, state, country, linkedin_url, source, created_at, updated_at)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteContactArgs(ct model.Contact, now time.Time) []any {
	return []any{
		ct.FullName, ct.FirstName, ct.LastName, ct.Email, ct.Phone, ct.MobilePhone,
		ct.Title, ct.Company, ct.Industry, ct.City, ct.State, ct.Country,
		ct.LinkedInURL, ct.Source, now, now,
	}
}

func (s *SQLiteStore) RecentContacts(ctx context.Context, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, first_name, last_name, email, phone, mobile_phone,
		 title, company, industry, city, state, country, linkedin_url, source, created_at, updated_at
		 FROM contacts ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent contacts")
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var ct model.Contact
		if err := rows.Scan(&ct.ID, &ct.FullName, &ct.FirstName, &ct.LastName, &ct.Email,
			&ct.Phone, &ct.MobilePhone, &ct.Title, &ct.Company, &ct.Industry,
			&ct.City, &ct.State, &ct.Country, &ct.LinkedInURL, &ct.Source,
			&ct.CreatedAt, &ct.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		contacts = append(contacts, ct)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: recent contacts iterate")
}

func (s *SQLiteStore) InsertContacts(ctx context.Context, contacts []model.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert contacts")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertContact)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert contact")
	}
	defer stmt.Close()

	for _, ct := range contacts {
		if _, err := stmt.ExecContext(ctx, sqliteContactArgs(ct, now)...); err != nil {
			return eris.Wrap(err, "sqlite: insert contacts")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert contacts")
}

func (s *SQLiteStore) InsertContact(ctx context.Context, contact *model.Contact) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, sqliteInsertContact, sqliteContactArgs(*contact, now)...)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert contact")
	}
	contact.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: insert contact id")
}

func (s *SQLiteStore) UpdateContactFields(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateFields(ctx, "contacts", id, fields, contactColumns)
}

const sqliteInsertCompany = `INSERT INTO companies (name, domain, website, industry, employee_count, revenue,
 phone, street, city, state, zip_code, country, technologies, source, created_at, updated_at)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteCompanyArgs(co model.Company, now time.Time) ([]any, error) {
	techJSON, err := json.Marshal(co.Technologies)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal technologies")
	}
	return []any{
		co.Name, co.Domain, co.Website, co.Industry, co.EmployeeCount, co.Revenue,
		co.Phone, co.Street, co.City, co.State, co.ZipCode, co.Country,
		string(techJSON), co.Source, now, now,
	}, nil
}

func (s *SQLiteStore) RecentCompanies(ctx context.Context, limit int) ([]model.Company, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, domain, website, industry, employee_count, revenue,
		 phone, street, city, state, zip_code, country, technologies, source, created_at, updated_at
		 FROM companies ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var co model.Company
		var techJSON string
		if err := rows.Scan(&co.ID, &co.Name, &co.Domain, &co.Website, &co.Industry,
			&co.EmployeeCount, &co.Revenue, &co.Phone, &co.Street, &co.City,
			&co.State, &co.ZipCode, &co.Country, &techJSON, &co.Source,
			&co.CreatedAt, &co.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if techJSON != "" {
			if err := json.Unmarshal([]byte(techJSON), &co.Technologies); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal technologies")
			}
		}
		companies = append(companies, co)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: recent companies iterate")
}

func (s *SQLiteStore) InsertCompanies(ctx context.Context, companies []model.Company) error {
	if len(companies) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert companies")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertCompany)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert company")
	}
	defer stmt.Close()

	for _, co := range companies {
		args, err := sqliteCompanyArgs(co, now)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrap(err, "sqlite: insert companies")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert companies")
}

func (s *SQLiteStore) InsertCompany(ctx context.Context, company *model.Company) error {
	now := time.Now().UTC()
	args, err := sqliteCompanyArgs(*company, now)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqliteInsertCompany, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert company")
	}
	company.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: insert company id")
}

func (s *SQLiteStore) UpdateCompanyFields(ctx context.Context, id int64, fields map[string]any) error {
	return s.updateFields(ctx, "companies", id, fields, companyColumns)
}

func (s *SQLiteStore) updateFields(ctx context.Context, table string, id int64, fields map[string]any, columns map[string]string) error {
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
				return eris.Wrapf(err, "sqlite: marshal %s", col)
			}
			v = string(listJSON)
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE %s SET %s, updated_at = ? WHERE id = ?", table, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %d", table, id)
	}
	return checkRowsAffected(res, strings.TrimSuffix(table, "s"), fmt.Sprint(id))
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ImportJob) error {
	mappingJSON, errorsJSON, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, filename, kind, status, total_rows, processed_rows,
		 successful_rows, error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, string(job.Kind), string(job.Status), job.TotalRows,
		job.ProcessedRows, job.SuccessfulRows, job.ErrorRows, job.DuplicateRows,
		job.UpdatedRows, string(mappingJSON), string(errorsJSON), job.CreatedAt, job.CompletedAt,
	)
	return eris.Wrap(err, "sqlite: create job")
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	_, errorsJSON, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status = ?, processed_rows = ?, successful_rows = ?,
		 error_rows = ?, duplicate_rows = ?, updated_rows = ?, errors = ?, completed_at = ?
		 WHERE id = ?`,
		string(job.Status), job.ProcessedRows, job.SuccessfulRows, job.ErrorRows,
		job.DuplicateRows, job.UpdatedRows, string(errorsJSON), job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, kind, status, total_rows, processed_rows, successful_rows,
		 error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at
		 FROM import_jobs WHERE id = ?`,
		id,
	)
	job, err := scanSQLiteJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, kind, status, total_rows, processed_rows, successful_rows,
		 error_rows, duplicate_rows, updated_rows, field_mapping, errors, created_at, completed_at
		 FROM import_jobs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ImportJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteJob(row scannable) (*model.ImportJob, error) {
	var job model.ImportJob
	var kind, status string
	var mappingJSON, errorsJSON sql.NullString

	err := row.Scan(&job.ID, &job.Filename, &kind, &status, &job.TotalRows,
		&job.ProcessedRows, &job.SuccessfulRows, &job.ErrorRows, &job.DuplicateRows,
		&job.UpdatedRows, &mappingJSON, &errorsJSON, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = model.EntityKind(kind)
	job.Status = model.JobStatus(status)

	if mappingJSON.Valid && mappingJSON.String != "" {
		if err := json.Unmarshal([]byte(mappingJSON.String), &job.FieldMapping); err != nil {
			return nil, eris.Wrap(err, "unmarshal field mapping")
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &job.Errors); err != nil {
			return nil, eris.Wrap(err, "unmarshal job errors")
		}
	}
	return &job, nil
}
