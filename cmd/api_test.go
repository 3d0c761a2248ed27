package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-import/internal/importer"
	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/store"
)

func newTestAPI(t *testing.T) (*apiServer, *importer.Service) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(t.Context()))

	svc := importer.NewService(st, importer.Options{
		PersistInterval: time.Millisecond,
		EmitInterval:    time.Millisecond,
	})
	api := newAPIServer(svc, apiConfig{
		TempDir:   t.TempDir(),
		BatchSize: 100,
	})
	return api, svc
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAPI_Health(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_AutoMap(t *testing.T) {
	api, _ := newTestAPI(t)

	body := `{"headers": ["Full Name", "E-mail", "Company Name"], "kind": "contact"}`
	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/automap", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Mapping    map[string]string  `json:"mapping"`
		Confidence map[string]float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "fullName", result.Mapping["Full Name"])
	assert.Equal(t, "email", result.Mapping["E-mail"])
	assert.Greater(t, result.Confidence["Full Name"], 0.7)
}

func TestAPI_AutoMap_BadRequests(t *testing.T) {
	api, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing headers", `{"kind": "contact"}`},
		{"unknown kind", `{"headers": ["Name"], "kind": "lead"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			api.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/automap", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAPI_ImportLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.router()

	csv := "Name,Email\nJane Doe,jane@example.com\nJohn Smith,john@example.com\n"
	buf, contentType := multipartUpload(t, "contacts.csv", csv, map[string]string{"kind": "contact"})

	req := httptest.NewRequest(http.MethodPost, "/api/imports", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job model.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 2, job.TotalRows)

	// Poll the job endpoint until the import lands.
	var final model.ImportJob
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports/"+job.ID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
			return false
		}
		return final.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessfulRows)

	// The job shows up in the listing.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []model.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestAPI_StartImport_ExplicitMapping(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.router()

	csv := "col_a,col_b\nJane Doe,jane@example.com\n"
	buf, contentType := multipartUpload(t, "x.csv", csv, map[string]string{
		"kind":    "contact",
		"mapping": `{"col_a": "fullName", "col_b": "email"}`,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/imports", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job model.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "fullName", job.FieldMapping["col_a"])
}

func TestAPI_StartImport_BadRequests(t *testing.T) {
	api, _ := newTestAPI(t)
	router := api.router()

	t.Run("unknown kind", func(t *testing.T) {
		buf, contentType := multipartUpload(t, "x.csv", "Name\nJane\n", map[string]string{"kind": "lead"})
		req := httptest.NewRequest(http.MethodPost, "/api/imports", buf)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("kind", "contact"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid mapping json", func(t *testing.T) {
		buf, contentType := multipartUpload(t, "x.csv", "Name\nJane\n", map[string]string{
			"kind":    "contact",
			"mapping": `{not json`,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/imports", buf)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("plain body"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_GetJob_NotFound(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_JobEvents_TerminalJobGetsSnapshotOnly(t *testing.T) {
	api, svc := newTestAPI(t)
	router := api.router()

	// Run a job to completion first.
	csv := "Name,Email\nJane Doe,jane@example.com\n"
	buf, contentType := multipartUpload(t, "contacts.csv", csv, map[string]string{"kind": "contact"})
	req := httptest.NewRequest(http.MethodPost, "/api/imports", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job model.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Eventually(t, func() bool {
		j, err := svc.GetJob(t.Context(), job.ID)
		return err == nil && j.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	// A late subscriber gets the terminal snapshot and the stream ends.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/imports/%s/events", job.ID), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: progress\ndata: "), body)

	var frame model.ProgressFrame
	payload := strings.TrimPrefix(strings.Split(body, "\n\n")[0], "event: progress\ndata: ")
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))
	assert.Equal(t, model.JobCompleted, frame.Status)
	assert.Equal(t, 1, frame.SuccessfulRows)
	assert.Equal(t, 1, strings.Count(body, "event: progress"))
}

// finishLineService reports the job as terminal only once the caller has
// subscribed, mimicking a job that finishes between the subscription and
// the snapshot read. Its frame channel never delivers.
type finishLineService struct {
	*importer.Service
	job        model.ImportJob
	subscribed atomic.Bool
	frames     chan model.ProgressFrame
}

func (s *finishLineService) Subscribe(string) (<-chan model.ProgressFrame, func()) {
	s.subscribed.Store(true)
	return s.frames, func() {}
}

func (s *finishLineService) GetJob(_ context.Context, _ string) (*model.ImportJob, error) {
	j := s.job
	if !s.subscribed.Load() {
		j.Status = model.JobProcessing
		j.CompletedAt = nil
	}
	return &j, nil
}

func TestAPI_JobEvents_JobFinishingDuringSetupStillEnds(t *testing.T) {
	now := time.Now().UTC()
	svc := &finishLineService{
		job: model.ImportJob{
			ID:             "job-1",
			Status:         model.JobCompleted,
			TotalRows:      2,
			ProcessedRows:  2,
			SuccessfulRows: 2,
			CompletedAt:    &now,
		},
		frames: make(chan model.ProgressFrame),
	}
	api := newAPIServer(svc, apiConfig{TempDir: t.TempDir(), BatchSize: 100})

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/imports/job-1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, ctx.Err(), "handler must end via the snapshot, not the deadline")

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: progress"))

	var frame model.ProgressFrame
	payload := strings.TrimPrefix(strings.Split(body, "\n\n")[0], "event: progress\ndata: ")
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))
	assert.Equal(t, model.JobCompleted, frame.Status)
}

func TestAPI_JobEvents_UnknownJob(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/imports/ghost/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
