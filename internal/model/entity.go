package model

import "time"

// EntityKind selects which canonical field catalog and store tables an
// import job targets.
type EntityKind string

const (
	KindContact EntityKind = "contact"
	KindCompany EntityKind = "company"
)

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	return k == KindContact || k == KindCompany
}

// Contact is the canonical CRM contact record.
type Contact struct {
	ID          int64     `json:"id" db:"id"`
	FullName    string    `json:"full_name,omitempty" db:"full_name"`
	FirstName   string    `json:"first_name,omitempty" db:"first_name"`
	LastName    string    `json:"last_name,omitempty" db:"last_name"`
	Email       string    `json:"email,omitempty" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	MobilePhone string    `json:"mobile_phone,omitempty" db:"mobile_phone"`
	Title       string    `json:"title,omitempty" db:"title"`
	Company     string    `json:"company,omitempty" db:"company"`
	Industry    string    `json:"industry,omitempty" db:"industry"`
	City        string    `json:"city,omitempty" db:"city"`
	State       string    `json:"state,omitempty" db:"state"`
	Country     string    `json:"country,omitempty" db:"country"`
	LinkedInURL string    `json:"linkedin_url,omitempty" db:"linkedin_url"`
	Source      string    `json:"source,omitempty" db:"source"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Company is the canonical CRM company record.
type Company struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Domain        string    `json:"domain,omitempty" db:"domain"`
	Website       string    `json:"website,omitempty" db:"website"`
	Industry      string    `json:"industry,omitempty" db:"industry"`
	EmployeeCount int       `json:"employee_count,omitempty" db:"employee_count"`
	Revenue       int64     `json:"revenue,omitempty" db:"revenue"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	Street        string    `json:"street,omitempty" db:"street"`
	City          string    `json:"city,omitempty" db:"city"`
	State         string    `json:"state,omitempty" db:"state"`
	ZipCode       string    `json:"zip_code,omitempty" db:"zip_code"`
	Country       string    `json:"country,omitempty" db:"country"`
	Technologies  []string  `json:"technologies,omitempty" db:"technologies"`
	Source        string    `json:"source,omitempty" db:"source"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ImportOptions controls duplicate handling and batching for one job.
type ImportOptions struct {
	SkipDuplicates bool `json:"skip_duplicates"`
	UpdateExisting bool `json:"update_existing"`
	AutoEnrich     bool `json:"auto_enrich"`
	BatchSize      int  `json:"batch_size"`
}

// DefaultBatchSize is the row count per processing batch.
const DefaultBatchSize = 500

// Normalize fills unset options with defaults.
func (o ImportOptions) Normalize() ImportOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}
