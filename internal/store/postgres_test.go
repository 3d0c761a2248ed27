package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-import/internal/model"
)

// anyArgs returns n wildcard matchers: pgxmock requires the expected
// argument count to match even when the values are irrelevant.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_InsertContacts_UsesCopy(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectCopyFrom(pgx.Identifier{"contacts"}, contactInsertColumns).WillReturnResult(2)

	contacts := []model.Contact{
		{FullName: "Jane Doe", Email: "jane@example.com"},
		{FullName: "John Smith", Email: "john@example.com"},
	}
	require.NoError(t, s.InsertContacts(context.Background(), contacts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertContact_ReturnsID(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO contacts")).
		WithArgs(anyArgs(16)...).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(42)))

	ct := model.Contact{FullName: "Jane Doe", Email: "jane@example.com"}
	require.NoError(t, s.InsertContact(context.Background(), &ct))
	assert.Equal(t, int64(42), ct.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateContactFields_TargetedColumns(t *testing.T) {
	s, mock := newMockPostgres(t)

	// Columns land in sorted order with sanitized identifiers.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "contacts" SET "city" = $1, "title" = $2, updated_at = $3 WHERE id = $4`)).
		WithArgs("Boston", "CEO", pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateContactFields(context.Background(), 7, map[string]any{
		"title":   "CEO",
		"city":    "Boston",
		"unknown": "dropped",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateContactFields_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE").
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateContactFields(context.Background(), 9999, map[string]any{"title": "CEO"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contact not found")
}

func TestPostgres_UpdateCompanyFields_ListAsJSON(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "companies" SET "technologies" = $1, updated_at = $2 WHERE id = $3`)).
		WithArgs([]byte(`["Go","Redis"]`), pgxmock.AnyArg(), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateCompanyFields(context.Background(), 3, map[string]any{
		"technologies": []string{"Go", "Redis"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateFields_EmptyPatchIsNoop(t *testing.T) {
	s, mock := newMockPostgres(t)
	// No expectations registered: an empty patch must not touch the pool.
	require.NoError(t, s.UpdateContactFields(context.Background(), 1, map[string]any{"bogus": 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecentCompanies_UnmarshalsTechnologies(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now()

	rows := mock.NewRows([]string{
		"id", "name", "domain", "website", "industry", "employee_count", "revenue",
		"phone", "street", "city", "state", "zip_code", "country", "technologies",
		"source", "created_at", "updated_at",
	}).AddRow(int64(1), "Acme", "acme.com", "", "", 100, int64(0), "", "", "", "", "", "",
		[]byte(`["Go","Postgres"]`), "bulk-import", now, now)

	mock.ExpectQuery("SELECT .+ FROM companies ORDER BY created_at DESC").
		WithArgs(50).
		WillReturnRows(rows)

	got, err := s.RecentCompanies(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Go", "Postgres"}, got[0].Technologies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJob(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now()

	rows := mock.NewRows([]string{
		"id", "filename", "kind", "status", "total_rows", "processed_rows",
		"successful_rows", "error_rows", "duplicate_rows", "updated_rows",
		"field_mapping", "errors", "created_at", "completed_at",
	}).AddRow("job-1", "contacts.csv", "contact", "processing", 100, 40, 38, 2, 0, 0,
		[]byte(`{"Name":"fullName"}`), []byte(`[{"row":7,"message":"bad row"}]`), now, nil)

	mock.ExpectQuery("SELECT .+ FROM import_jobs WHERE id =").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobProcessing, job.Status)
	assert.Equal(t, model.KindContact, job.Kind)
	assert.Equal(t, "fullName", job.FieldMapping["Name"])
	require.Len(t, job.Errors, 1)
	assert.Equal(t, 7, job.Errors[0].Row)
	assert.Nil(t, job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT .+ FROM import_jobs WHERE id =").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestPostgres_CreateJob(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_jobs")).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &model.ImportJob{
		ID:           "job-1",
		Filename:     "contacts.csv",
		Kind:         model.KindContact,
		Status:       model.JobPending,
		TotalRows:    100,
		FieldMapping: map[string]string{"Name": "fullName"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateJob_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE import_jobs SET")).
		WithArgs(anyArgs(9)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	job := &model.ImportJob{ID: "ghost", Status: model.JobProcessing}
	err := s.UpdateJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestPostgres_InsertCompanies_UsesCopy(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectCopyFrom(pgx.Identifier{"companies"}, companyInsertColumns).WillReturnResult(1)

	companies := []model.Company{{Name: "Acme", Technologies: []string{"Go"}}}
	require.NoError(t, s.InsertCompanies(context.Background(), companies))
	assert.NoError(t, mock.ExpectationsWereMet())
}
