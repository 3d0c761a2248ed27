package importer

import (
	"context"

	"github.com/sells-group/crm-import/internal/model"
)

// EntityStore is the slice of the persistence layer the pipeline consumes:
// a recent-entity window for cache preload, bulk insert with an
// individual-record fallback, and per-record field updates.
type EntityStore interface {
	RecentContacts(ctx context.Context, limit int) ([]model.Contact, error)
	RecentCompanies(ctx context.Context, limit int) ([]model.Company, error)

	InsertContacts(ctx context.Context, contacts []model.Contact) error
	InsertContact(ctx context.Context, contact *model.Contact) error
	UpdateContactFields(ctx context.Context, id int64, fields map[string]any) error

	InsertCompanies(ctx context.Context, companies []model.Company) error
	InsertCompany(ctx context.Context, company *model.Company) error
	UpdateCompanyFields(ctx context.Context, id int64, fields map[string]any) error
}

// JobStore persists import job records. Its snapshot is the single source
// of truth that both the push channel and the polling endpoint read from.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.ImportJob) error
	UpdateJob(ctx context.Context, job *model.ImportJob) error
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error)
}

// Store is the full persistence surface the import service requires.
type Store interface {
	EntityStore
	JobStore
}
