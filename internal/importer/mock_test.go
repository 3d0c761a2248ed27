package importer

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/crm-import/internal/model"
)

// mockStore is an in-memory Store with per-call failure switches.
type mockStore struct {
	mu sync.Mutex

	contacts  []model.Contact
	companies []model.Company
	jobs      map[string]model.ImportJob

	nextID int64

	// Failure switches.
	bulkInsertErr  error
	insertErr      error
	updateFailures int // fail this many update calls before succeeding
	updateErr      error
	recentErr      error
	updateJobErr   error

	bulkInsertCalls int
	insertCalls     int
	updateCalls     []map[string]any
	updateIDs       []int64
	jobSnapshots    []model.ImportJob
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]model.ImportJob)}
}

func (m *mockStore) RecentContacts(_ context.Context, limit int) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	if limit > len(m.contacts) {
		limit = len(m.contacts)
	}
	out := make([]model.Contact, limit)
	copy(out, m.contacts[:limit])
	return out, nil
}

func (m *mockStore) RecentCompanies(_ context.Context, limit int) ([]model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	if limit > len(m.companies) {
		limit = len(m.companies)
	}
	out := make([]model.Company, limit)
	copy(out, m.companies[:limit])
	return out, nil
}

func (m *mockStore) InsertContacts(_ context.Context, contacts []model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkInsertCalls++
	if m.bulkInsertErr != nil {
		return m.bulkInsertErr
	}
	for i := range contacts {
		m.nextID++
		contacts[i].ID = m.nextID
	}
	m.contacts = append(m.contacts, contacts...)
	return nil
}

func (m *mockStore) InsertContact(_ context.Context, contact *model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	contact.ID = m.nextID
	m.contacts = append(m.contacts, *contact)
	return nil
}

func (m *mockStore) UpdateContactFields(_ context.Context, id int64, fields map[string]any) error {
	return m.update(id, fields)
}

func (m *mockStore) InsertCompanies(_ context.Context, companies []model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkInsertCalls++
	if m.bulkInsertErr != nil {
		return m.bulkInsertErr
	}
	for i := range companies {
		m.nextID++
		companies[i].ID = m.nextID
	}
	m.companies = append(m.companies, companies...)
	return nil
}

func (m *mockStore) InsertCompany(_ context.Context, company *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	company.ID = m.nextID
	m.companies = append(m.companies, *company)
	return nil
}

func (m *mockStore) UpdateCompanyFields(_ context.Context, id int64, fields map[string]any) error {
	return m.update(id, fields)
}

func (m *mockStore) update(id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateFailures > 0 {
		m.updateFailures--
		return errors.New("update failed: connection reset by peer")
	}
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updateCalls = append(m.updateCalls, fields)
	m.updateIDs = append(m.updateIDs, id)
	return nil
}

func (m *mockStore) CreateJob(_ context.Context, job *model.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *mockStore) UpdateJob(_ context.Context, job *model.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateJobErr != nil {
		return m.updateJobErr
	}
	m.jobs[job.ID] = *job
	m.jobSnapshots = append(m.jobSnapshots, *job)
	return nil
}

func (m *mockStore) GetJob(_ context.Context, id string) (*model.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return &job, nil
}

func (m *mockStore) ListJobs(_ context.Context, limit int) ([]model.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ImportJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) contactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contacts)
}

func (m *mockStore) savedJob(id string) (model.ImportJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}
