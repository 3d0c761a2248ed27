package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/mapper"
	"github.com/sells-group/crm-import/internal/model"
)

// apiConfig tunes the HTTP API surface.
type apiConfig struct {
	MaxUploadBytes int64
	TempDir        string
	BatchSize      int
	AllowedOrigins []string
}

// importService is the slice of the import service the API depends on.
type importService interface {
	AutoMap(headers []string, kind model.EntityKind) (mapper.Result, error)
	StartImport(ctx context.Context, path, filename string, kind model.EntityKind, mapping map[string]string, opts model.ImportOptions) (*model.ImportJob, error)
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error)
	Subscribe(jobID string) (<-chan model.ProgressFrame, func())
}

// apiServer exposes the import service over HTTP.
type apiServer struct {
	svc importService
	cfg apiConfig
}

func newAPIServer(svc importService, cfg apiConfig) *apiServer {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &apiServer{svc: svc, cfg: cfg}
}

func (a *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/automap", a.handleAutoMap)
		r.Post("/imports", a.handleStartImport)
		r.Get("/imports", a.handleListJobs)
		r.Get("/imports/{jobID}", a.handleGetJob)
		r.Get("/imports/{jobID}/events", a.handleJobEvents)
	})
	return r
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) handleAutoMap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Headers []string `json:"headers"`
		Kind    string   `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Headers) == 0 {
		writeError(w, http.StatusBadRequest, "headers are required")
		return
	}

	result, err := a.svc.AutoMap(req.Headers, model.EntityKind(req.Kind))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStartImport spools the multipart upload to a temp file and hands
// it to the import service, which owns the file from then on.
func (a *apiServer) handleStartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	kind := model.EntityKind(r.FormValue("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", r.FormValue("kind")))
		return
	}

	var mapping map[string]string
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			writeError(w, http.StatusBadRequest, "invalid mapping JSON")
			return
		}
	}

	opts := model.ImportOptions{
		SkipDuplicates: formBool(r, "skip_duplicates", true),
		UpdateExisting: formBool(r, "update_existing", false),
		AutoEnrich:     formBool(r, "auto_enrich", false),
		BatchSize:      a.cfg.BatchSize,
	}

	path, err := a.spool(file, header.Filename)
	if err != nil {
		zap.L().Error("spool upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job, err := a.svc.StartImport(r.Context(), path, header.Filename, kind, mapping, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := a.svc.ListJobs(r.Context(), limit)
	if err != nil {
		zap.L().Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.ImportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.svc.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobEvents streams progress frames over SSE. A snapshot of the
// persisted job record is sent first so late subscribers converge
// immediately; if the job is already terminal that snapshot is the only
// event.
func (a *apiServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	jobID := chi.URLParam(r, "jobID")

	// Subscribe before reading the snapshot: a terminal frame published
	// between the two would go to nobody, and the select below would
	// then wait on a channel that never delivers.
	frames, cancel := a.svc.Subscribe(jobID)
	defer cancel()

	job, err := a.svc.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, snapshotFrame(job))
	flusher.Flush()
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-frames:
			if !open {
				return
			}
			writeSSE(w, frame)
			flusher.Flush()
			if frame.Terminal() {
				return
			}
		}
	}
}

func snapshotFrame(job *model.ImportJob) model.ProgressFrame {
	return model.ProgressFrame{
		JobID:          job.ID,
		Status:         job.Status,
		TotalRows:      job.TotalRows,
		ProcessedRows:  job.ProcessedRows,
		SuccessfulRows: job.SuccessfulRows,
		ErrorRows:      job.ErrorRows,
		DuplicateRows:  job.DuplicateRows,
		UpdatedRows:    job.UpdatedRows,
		CompletedAt:    job.CompletedAt,
	}
}

// spool copies the upload to a temp file, preserving the extension so
// the reader can pick the right format.
func (a *apiServer) spool(src io.Reader, filename string) (string, error) {
	f, err := os.CreateTemp(a.cfg.TempDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func formBool(r *http.Request, key string, def bool) bool {
	v := r.FormValue(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w io.Writer, frame model.ProgressFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}
