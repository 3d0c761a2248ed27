// Package model defines the core types shared across the import pipeline.
package model

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

// Job lifecycle. Valid transitions are pending → processing → completed
// and pending → processing → failed. Terminal states are final.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// MaxJobErrors caps the per-job error detail list. Counters stay exact
// beyond the cap; only the detail entries are truncated.
const MaxJobErrors = 50

// RowError records a single rejected or failed row.
type RowError struct {
	Row     int    `json:"row" db:"row"`
	Message string `json:"message" db:"message"`
}

// ImportJob is the persisted record for one bulk import.
type ImportJob struct {
	ID             string            `json:"id" db:"id"`
	Filename       string            `json:"filename" db:"filename"`
	Kind           EntityKind        `json:"kind" db:"kind"`
	Status         JobStatus         `json:"status" db:"status"`
	TotalRows      int               `json:"total_rows" db:"total_rows"`
	ProcessedRows  int               `json:"processed_rows" db:"processed_rows"`
	SuccessfulRows int               `json:"successful_rows" db:"successful_rows"`
	ErrorRows      int               `json:"error_rows" db:"error_rows"`
	DuplicateRows  int               `json:"duplicate_rows" db:"duplicate_rows"`
	UpdatedRows    int               `json:"updated_rows" db:"updated_rows"`
	FieldMapping   map[string]string `json:"field_mapping,omitempty" db:"field_mapping"`
	Errors         []RowError        `json:"errors,omitempty" db:"errors"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// ApplyStats copies running counters onto the job record.
func (j *ImportJob) ApplyStats(s ProcessingStats) {
	j.ProcessedRows = s.Processed
	j.SuccessfulRows = s.Successful
	j.ErrorRows = s.Errors
	j.DuplicateRows = s.Duplicates
	j.UpdatedRows = s.Updated
}

// AddError appends a row error, honoring the MaxJobErrors cap.
func (j *ImportJob) AddError(row int, msg string) {
	if len(j.Errors) >= MaxJobErrors {
		return
	}
	j.Errors = append(j.Errors, RowError{Row: row, Message: msg})
}

// ProcessingStats holds the running counters for a job. All counters are
// monotonically non-decreasing for the life of the job and satisfy
// Processed == Successful + Errors + Duplicates + Updated.
type ProcessingStats struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Errors     int `json:"errors"`
	Duplicates int `json:"duplicates"`
	Updated    int `json:"updated"`
}

// Add merges per-batch counters into the running totals.
func (s *ProcessingStats) Add(batch ProcessingStats) {
	s.Processed += batch.Processed
	s.Successful += batch.Successful
	s.Errors += batch.Errors
	s.Duplicates += batch.Duplicates
	s.Updated += batch.Updated
}

// Consistent reports whether the counters balance.
func (s ProcessingStats) Consistent() bool {
	return s.Processed == s.Successful+s.Errors+s.Duplicates+s.Updated
}

// ProgressFrame is one push update delivered to subscribers. Counters are
// absolute, so a subscriber that misses frames converges on the next one.
type ProgressFrame struct {
	JobID          string     `json:"job_id"`
	Status         JobStatus  `json:"status"`
	TotalRows      int        `json:"total_rows"`
	ProcessedRows  int        `json:"processed_rows"`
	SuccessfulRows int        `json:"successful_rows"`
	ErrorRows      int        `json:"error_rows"`
	DuplicateRows  int        `json:"duplicate_rows"`
	UpdatedRows    int        `json:"updated_rows"`
	Message        string     `json:"message,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether this frame closes the subscription.
func (f ProgressFrame) Terminal() bool {
	return f.Status.Terminal()
}
