package importer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-import/internal/model"
)

func newTestService(store *mockStore) *Service {
	return NewService(store, Options{
		PersistInterval: time.Millisecond,
		EmitInterval:    time.Millisecond,
	})
}

// awaitTerminal polls the persisted job record until it reaches a terminal
// state, mirroring how API clients observe completion.
func awaitTerminal(t *testing.T, svc *Service, jobID string) model.ImportJob {
	t.Helper()
	var job *model.ImportJob
	require.Eventually(t, func() bool {
		var err error
		job, err = svc.GetJob(context.Background(), jobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return *job
}

func TestStartImport_EndToEnd(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	path := writeCSV(t, "Full Name,E-mail,Company Name\nJane Doe,jane@example.com,Acme\nJohn Smith,john@example.com,Globex\n,,\n")

	opts := model.ImportOptions{SkipDuplicates: true}
	job, err := svc.StartImport(context.Background(), path, "contacts.csv", model.KindContact, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 3, job.TotalRows)
	assert.Equal(t, "fullName", job.FieldMapping["Full Name"])

	final := awaitTerminal(t, svc, job.ID)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 3, final.ProcessedRows)
	assert.Equal(t, 2, final.SuccessfulRows)
	assert.Equal(t, 1, final.ErrorRows) // the identity-less blank row
	require.Len(t, final.Errors, 1)
	assert.Equal(t, 3, final.Errors[0].Row)

	assert.Equal(t, 2, store.contactCount())

	// The spooled upload is removed once the job ends.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartImport_SecondRunAllDuplicates(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	content := "Name,Email\nJane Doe,jane@example.com\nJohn Smith,john@example.com\n"
	opts := model.ImportOptions{SkipDuplicates: true}

	first, err := svc.StartImport(context.Background(), writeCSV(t, content), "contacts.csv", model.KindContact, nil, opts)
	require.NoError(t, err)
	awaitTerminal(t, svc, first.ID)
	require.Equal(t, 2, store.contactCount())

	second, err := svc.StartImport(context.Background(), writeCSV(t, content), "contacts.csv", model.KindContact, nil, opts)
	require.NoError(t, err)
	final := awaitTerminal(t, svc, second.ID)

	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, final.TotalRows, final.DuplicateRows)
	assert.Zero(t, final.SuccessfulRows)
	assert.Equal(t, 2, store.contactCount())
}

func TestStartImport_ExplicitMappingWins(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	path := writeCSV(t, "col_a,col_b\nJane Doe,jane@example.com\n")

	mapping := map[string]string{"col_a": "fullName", "col_b": "email"}
	job, err := svc.StartImport(context.Background(), path, "x.csv", model.KindContact, mapping, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	final := awaitTerminal(t, svc, job.ID)
	assert.Equal(t, 1, final.SuccessfulRows)
	require.Equal(t, 1, store.contactCount())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "Jane Doe", store.contacts[0].FullName)
	assert.Equal(t, "jane@example.com", store.contacts[0].Email)
}

func TestStartImport_ZeroRowFileCompletes(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	path := writeCSV(t, "Name,Email\n")

	job, err := svc.StartImport(context.Background(), path, "empty.csv", model.KindContact, nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Zero(t, job.TotalRows)

	final := awaitTerminal(t, svc, job.ID)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Zero(t, final.ProcessedRows)
}

func TestStartImport_UnknownKindRejectedAndFileDiscarded(t *testing.T) {
	svc := newTestService(newMockStore())
	path := writeCSV(t, "Name\nJane\n")

	_, err := svc.StartImport(context.Background(), path, "x.csv", model.EntityKind("lead"), nil, model.ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity kind")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartImport_MissingFile(t *testing.T) {
	svc := newTestService(newMockStore())
	_, err := svc.StartImport(context.Background(), "/nonexistent/upload.csv", "x.csv", model.KindContact, nil, model.ImportOptions{})
	assert.Error(t, err)
}

func TestStartImport_CacheBuildFailureFailsJob(t *testing.T) {
	store := newMockStore()
	store.recentErr = os.ErrPermission
	svc := newTestService(store)
	path := writeCSV(t, "Name,Email\nJane,jane@example.com\n")

	job, err := svc.StartImport(context.Background(), path, "x.csv", model.KindContact, nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	final := awaitTerminal(t, svc, job.ID)
	assert.Equal(t, model.JobFailed, final.Status)
	require.NotEmpty(t, final.Errors)
	assert.Contains(t, final.Errors[0].Message, "build duplicate cache")
}

func TestStartImport_XLSX(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	path := writeXLSX(t, [][]string{
		{"Name", "Email"},
		{"Jane Doe", "jane@example.com"},
	})

	job, err := svc.StartImport(context.Background(), path, "contacts.xlsx", model.KindContact, nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	final := awaitTerminal(t, svc, job.ID)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 1, final.SuccessfulRows)
}

func TestServiceAutoMap(t *testing.T) {
	svc := newTestService(newMockStore())

	res, err := svc.AutoMap([]string{"Full Name", "E-mail"}, model.KindContact)
	require.NoError(t, err)
	assert.Equal(t, "fullName", res.Mapping["Full Name"])

	_, err = svc.AutoMap([]string{"x"}, model.EntityKind("lead"))
	assert.Error(t, err)
}

func TestListJobs(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	path := writeCSV(t, "Name\nJane\n")

	job, err := svc.StartImport(context.Background(), path, "x.csv", model.KindContact, nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	awaitTerminal(t, svc, job.ID)

	jobs, err := svc.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}
