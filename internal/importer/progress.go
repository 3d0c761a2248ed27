package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/model"
)

// Default side-effect throttles. Snapshot persistence bounds database
// writes; frame emission bounds push traffic.
const (
	DefaultPersistInterval = 2 * time.Second
	DefaultEmitInterval    = 100 * time.Millisecond
)

// Broadcaster fans progress frames out to subscribers by job ID.
// Delivery is last-value-wins: each subscriber channel holds at most one
// pending frame and a newer frame replaces it. Terminal frames are always
// delivered, after which the subscription channel is closed.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ProgressFrame]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan model.ProgressFrame]struct{})}
}

// Subscribe registers for a job's progress frames. The returned cancel
// function is safe to call more than once and after the terminal frame.
func (b *Broadcaster) Subscribe(jobID string) (<-chan model.ProgressFrame, func()) {
	ch := make(chan model.ProgressFrame, 1)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan model.ProgressFrame]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[jobID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
					if len(set) == 0 {
						delete(b.subs, jobID)
					}
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers a frame to every subscriber of the job, replacing any
// undelivered older frame. A terminal frame closes all subscriptions for
// the job.
func (b *Broadcaster) Publish(frame model.ProgressFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[frame.JobID]
	for ch := range set {
		// Drop the stale pending frame, if any, then push the new one.
		select {
		case <-ch:
		default:
		}
		ch <- frame
		if frame.Terminal() {
			delete(set, ch)
			close(ch)
		}
	}
	if frame.Terminal() {
		delete(b.subs, frame.JobID)
	}
}

// Tracker owns a job's authoritative counters. It persists snapshots to
// the job store at a bounded interval (always at terminal states) and
// emits throttled progress frames; neither side effect blocks batch
// processing.
type Tracker struct {
	jobs  JobStore
	bcast *Broadcaster

	mu    sync.Mutex
	job   *model.ImportJob
	stats model.ProcessingStats

	persistEvery time.Duration
	emitEvery    time.Duration
	lastPersist  time.Time
	lastEmit     time.Time

	// persistMu serializes snapshot writes; seq ordering discards a slow
	// older write that would otherwise clobber a newer one.
	persistMu    sync.Mutex
	seq          uint64
	persistedSeq uint64
}

// NewTracker creates a tracker for one job run.
func NewTracker(jobs JobStore, bcast *Broadcaster, job *model.ImportJob, persistEvery, emitEvery time.Duration) *Tracker {
	if persistEvery <= 0 {
		persistEvery = DefaultPersistInterval
	}
	if emitEvery <= 0 {
		emitEvery = DefaultEmitInterval
	}
	return &Tracker{
		jobs:         jobs,
		bcast:        bcast,
		job:          job,
		persistEvery: persistEvery,
		emitEvery:    emitEvery,
	}
}

// BatchDone merges one batch's counters and row errors, then fires the
// throttled persistence and emission side effects.
func (t *Tracker) BatchDone(ctx context.Context, batch model.ProcessingStats, rowErrs []model.RowError) {
	t.mu.Lock()
	t.stats.Add(batch)
	t.job.ApplyStats(t.stats)
	for _, re := range rowErrs {
		t.job.AddError(re.Row, re.Message)
	}

	now := time.Now()
	persist := now.Sub(t.lastPersist) >= t.persistEvery
	emit := now.Sub(t.lastEmit) >= t.emitEvery
	if persist {
		t.lastPersist = now
	}
	if emit {
		t.lastEmit = now
	}
	snapshot := *t.job
	seq := t.nextSeqLocked()
	frame := t.frameLocked("")
	t.mu.Unlock()

	if persist {
		go t.persist(ctx, &snapshot, seq)
	}
	if emit {
		t.bcast.Publish(frame)
	}
}

// Finish moves the job to its terminal state, persists the final
// snapshot, and publishes the one unthrottled terminal frame.
func (t *Tracker) Finish(ctx context.Context, jobErr error) {
	t.mu.Lock()
	if t.job.Status.Terminal() {
		// Terminal states are final; a second Finish is a no-op.
		t.mu.Unlock()
		return
	}

	now := time.Now()
	t.job.CompletedAt = &now
	t.job.ApplyStats(t.stats)

	var frame model.ProgressFrame
	if jobErr != nil {
		t.job.Status = model.JobFailed
		t.job.AddError(0, jobErr.Error())
		frame = t.frameLocked(fmt.Sprintf("import failed: %v", jobErr))
	} else {
		t.job.Status = model.JobCompleted
		frame = t.frameLocked(fmt.Sprintf(
			"imported %d of %d rows (%d updated, %d duplicates, %d errors)",
			t.stats.Successful, t.job.TotalRows, t.stats.Updated, t.stats.Duplicates, t.stats.Errors,
		))
	}
	frame.Summary = frame.Message
	snapshot := *t.job
	seq := t.nextSeqLocked()
	t.mu.Unlock()

	t.persist(ctx, &snapshot, seq)
	t.bcast.Publish(frame)
}

// MarkProcessing flips the job out of pending and persists immediately so
// pollers see the transition.
func (t *Tracker) MarkProcessing(ctx context.Context) {
	t.mu.Lock()
	t.job.Status = model.JobProcessing
	snapshot := *t.job
	seq := t.nextSeqLocked()
	frame := t.frameLocked("")
	t.mu.Unlock()

	t.persist(ctx, &snapshot, seq)
	t.bcast.Publish(frame)
}

// Job returns a copy of the current job state.
func (t *Tracker) Job() model.ImportJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.job
}

func (t *Tracker) frameLocked(message string) model.ProgressFrame {
	return model.ProgressFrame{
		JobID:          t.job.ID,
		Status:         t.job.Status,
		TotalRows:      t.job.TotalRows,
		ProcessedRows:  t.job.ProcessedRows,
		SuccessfulRows: t.job.SuccessfulRows,
		ErrorRows:      t.job.ErrorRows,
		DuplicateRows:  t.job.DuplicateRows,
		UpdatedRows:    t.job.UpdatedRows,
		Message:        message,
		CompletedAt:    t.job.CompletedAt,
	}
}

// nextSeqLocked stamps a snapshot order number. Callers hold t.mu.
func (t *Tracker) nextSeqLocked() uint64 {
	t.seq++
	return t.seq
}

func (t *Tracker) persist(ctx context.Context, snapshot *model.ImportJob, seq uint64) {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if seq <= t.persistedSeq {
		// A newer snapshot already landed; dropping this one keeps the
		// store monotone.
		return
	}
	t.persistedSeq = seq
	if err := t.jobs.UpdateJob(ctx, snapshot); err != nil {
		zap.L().Warn("persist job snapshot failed",
			zap.String("job_id", snapshot.ID),
			zap.Error(err),
		)
	}
}
