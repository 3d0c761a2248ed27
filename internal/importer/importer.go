package importer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/mapper"
	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/resilience"
)

// Options tunes a Service. Zero values fall back to package defaults.
type Options struct {
	CacheWindow     int
	PersistInterval time.Duration
	EmitInterval    time.Duration
	Retry           resilience.RetryConfig
}

// Service orchestrates import jobs: it accepts uploaded files, creates
// job records, and runs each job on its own goroutine through the
// read-transform-dedupe-persist pipeline.
type Service struct {
	store Store
	bcast *Broadcaster
	opts  Options
}

// NewService wires an import service over the given store.
func NewService(store Store, opts Options) *Service {
	if opts.CacheWindow <= 0 {
		opts.CacheWindow = DefaultCacheWindow
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = DefaultPersistInterval
	}
	if opts.EmitInterval <= 0 {
		opts.EmitInterval = DefaultEmitInterval
	}
	return &Service{store: store, bcast: NewBroadcaster(), opts: opts}
}

// AutoMap suggests a header-to-field mapping without starting a job.
func (s *Service) AutoMap(headers []string, kind model.EntityKind) (mapper.Result, error) {
	if !kind.Valid() {
		return mapper.Result{}, eris.Errorf("importer: unknown entity kind %q", kind)
	}
	return mapper.AutoMap(headers, kind), nil
}

// StartImport registers a new import job for the file at path and kicks
// off processing in the background. The file must already be spooled to
// local disk; the service deletes it when the job ends, whatever the
// outcome. When mapping is nil the header mapper supplies one.
func (s *Service) StartImport(ctx context.Context, path, filename string, kind model.EntityKind, mapping map[string]string, opts model.ImportOptions) (*model.ImportJob, error) {
	if !kind.Valid() {
		s.discard(path)
		return nil, eris.Errorf("importer: unknown entity kind %q", kind)
	}
	opts = opts.Normalize()

	total, err := CountRows(path)
	if err != nil {
		s.discard(path)
		return nil, eris.Wrap(err, "importer: count rows")
	}

	rs, err := Open(path)
	if err != nil {
		s.discard(path)
		return nil, eris.Wrap(err, "importer: open upload")
	}

	if mapping == nil {
		mapping = mapper.AutoMap(rs.Headers(), kind).Mapping
	}

	job := &model.ImportJob{
		ID:           uuid.NewString(),
		Filename:     filename,
		Kind:         kind,
		Status:       model.JobPending,
		TotalRows:    total,
		FieldMapping: mapping,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		_ = rs.Close()
		s.discard(path)
		return nil, eris.Wrap(err, "importer: create job")
	}

	zap.L().Info("import job accepted",
		zap.String("job_id", job.ID),
		zap.String("filename", filename),
		zap.String("kind", string(kind)),
		zap.Int("total_rows", total),
	)

	// The job outlives the request that started it.
	go s.run(context.WithoutCancel(ctx), job, rs, path, mapping, opts)

	snapshot := *job
	return &snapshot, nil
}

// GetJob returns the persisted job record, the single source of truth
// for polling clients.
func (s *Service) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	return s.store.ListJobs(ctx, limit)
}

// Subscribe attaches to a job's live progress frames.
func (s *Service) Subscribe(jobID string) (<-chan model.ProgressFrame, func()) {
	return s.bcast.Subscribe(jobID)
}

// run executes one job to a terminal state. It owns the stream and the
// spooled file and releases both unconditionally.
func (s *Service) run(ctx context.Context, job *model.ImportJob, rs RowStream, path string, mapping map[string]string, opts model.ImportOptions) {
	defer s.discard(path)
	defer rs.Close()

	tracker := NewTracker(s.store, s.bcast, job, s.opts.PersistInterval, s.opts.EmitInterval)
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("import job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
			)
			tracker.Finish(ctx, fmt.Errorf("internal error: %v", r))
		}
	}()

	tracker.MarkProcessing(ctx)

	cache, err := BuildCache(ctx, s.store, job.Kind, s.opts.CacheWindow)
	if err != nil {
		tracker.Finish(ctx, eris.Wrap(err, "importer: build duplicate cache"))
		return
	}

	proc := NewProcessor(s.store, cache, job.Kind, rs.Headers(), mapping, opts, s.opts.Retry)
	batches, wait := Batches(ctx, rs, opts.BatchSize)

	for batch := range batches {
		stats, rowErrs := proc.Process(ctx, batch)
		tracker.BatchDone(ctx, stats, rowErrs)
	}
	if err := wait(); err != nil {
		tracker.Finish(ctx, eris.Wrap(err, "importer: read rows"))
		return
	}

	tracker.Finish(ctx, nil)

	final := tracker.Job()
	zap.L().Info("import job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(final.Status)),
		zap.Int("processed", final.ProcessedRows),
		zap.Int("successful", final.SuccessfulRows),
		zap.Int("errors", final.ErrorRows),
		zap.Int("duplicates", final.DuplicateRows),
		zap.Int("updated", final.UpdatedRows),
	)
}

// discard removes the spooled upload. Missing files are fine; anything
// else is logged and ignored.
func (s *Service) discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("remove spooled upload failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
