// Package store persists CRM entities and import job records. Two
// implementations are provided: Postgres for deployments and SQLite for
// local use and tests.
package store

import (
	"context"
	"sort"

	"github.com/sells-group/crm-import/internal/model"
)

// DefaultListLimit bounds job listings when the caller does not.
const DefaultListLimit = 100

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Contacts
	RecentContacts(ctx context.Context, limit int) ([]model.Contact, error)
	InsertContacts(ctx context.Context, contacts []model.Contact) error
	InsertContact(ctx context.Context, contact *model.Contact) error
	UpdateContactFields(ctx context.Context, id int64, fields map[string]any) error

	// Companies
	RecentCompanies(ctx context.Context, limit int) ([]model.Company, error)
	InsertCompanies(ctx context.Context, companies []model.Company) error
	InsertCompany(ctx context.Context, company *model.Company) error
	UpdateCompanyFields(ctx context.Context, id int64, fields map[string]any) error

	// Import jobs
	CreateJob(ctx context.Context, job *model.ImportJob) error
	UpdateJob(ctx context.Context, job *model.ImportJob) error
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// contactColumns maps canonical contact field names to table columns.
var contactColumns = map[string]string{
	"fullName":    "full_name",
	"firstName":   "first_name",
	"lastName":    "last_name",
	"email":       "email",
	"phone":       "phone",
	"mobilePhone": "mobile_phone",
	"title":       "title",
	"company":     "company",
	"industry":    "industry",
	"city":        "city",
	"state":       "state",
	"country":     "country",
	"linkedinUrl": "linkedin_url",
}

// companyColumns maps canonical company field names to table columns.
var companyColumns = map[string]string{
	"name":          "name",
	"domain":        "domain",
	"website":       "website",
	"industry":      "industry",
	"employeeCount": "employee_count",
	"revenue":       "revenue",
	"phone":         "phone",
	"street":        "street",
	"city":          "city",
	"state":         "state",
	"zipCode":       "zip_code",
	"country":       "country",
	"technologies":  "technologies",
}

// columnAssignments resolves a field patch to (column, value) pairs in
// deterministic column order, dropping unknown fields.
func columnAssignments(fields map[string]any, columns map[string]string) ([]string, []any) {
	var cols []string
	byCol := make(map[string]any, len(fields))
	for field, v := range fields {
		col, ok := columns[field]
		if !ok {
			continue
		}
		cols = append(cols, col)
		byCol[col] = v
	}
	sort.Strings(cols)

	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = byCol[col]
	}
	return cols, vals
}
