package importer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-import/internal/mapper"
	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/resilience"
)

// updateConcurrency bounds concurrent per-record update calls per batch.
const updateConcurrency = 4

// Processor validates, deduplicates, and persists one batch at a time.
// Batches for a job run strictly in file order through a single Processor,
// which keeps the duplicate cache consistent and progress monotone.
type Processor struct {
	store   EntityStore
	cache   *DuplicateCache
	catalog *mapper.Catalog
	kind    model.EntityKind
	opts    model.ImportOptions
	headers []string
	mapping map[string]string
	retry   resilience.RetryConfig
}

// NewProcessor builds a batch processor for one job run.
func NewProcessor(store EntityStore, cache *DuplicateCache, kind model.EntityKind, headers []string, mapping map[string]string, opts model.ImportOptions, retry resilience.RetryConfig) *Processor {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.Logged("update_" + string(kind))
	}
	return &Processor{
		store:   store,
		cache:   cache,
		catalog: mapper.ForKind(kind),
		kind:    kind,
		opts:    opts,
		headers: headers,
		mapping: mapping,
		retry:   retry,
	}
}

// pendingInsert pairs an accepted record with its source row for error
// attribution during the individual-insert fallback.
type pendingInsert struct {
	row int
	rec Record
}

// pendingUpdate is one fill-empty update candidate.
type pendingUpdate struct {
	row   int
	id    int64
	patch Record
}

// Process runs one batch end to end: transform and validate every row,
// resolve duplicates, bulk-insert new records, and apply update patches
// concurrently. Row- and batch-level failures are absorbed into the
// returned stats; Process itself never fails the job.
func (p *Processor) Process(ctx context.Context, batch Batch) (model.ProcessingStats, []model.RowError) {
	var (
		stats   model.ProcessingStats
		rowErrs []model.RowError
		inserts []pendingInsert
		updates []pendingUpdate
	)
	stats.Processed = len(batch.Rows)

	fail := func(row int, msg string) {
		stats.Errors++
		rowErrs = append(rowErrs, model.RowError{Row: row, Message: msg})
	}

	for _, row := range batch.Rows {
		if row.Err != "" {
			fail(row.Index, row.Err)
			continue
		}

		rec, err := Transform(p.headers, row.Values, p.mapping, p.catalog)
		if err != nil {
			fail(row.Index, err.Error())
			continue
		}

		outcome, id, patch := p.cache.Resolve(rec, p.opts)
		switch outcome {
		case OutcomeNew:
			inserts = append(inserts, pendingInsert{row: row.Index, rec: rec})
			p.cache.Stage(rec)
		case OutcomeSkip:
			stats.Duplicates++
		case OutcomeUpdate:
			updates = append(updates, pendingUpdate{row: row.Index, id: id, patch: patch})
		}
	}

	// Inserts and updates target disjoint entities, so they may run
	// against the store concurrently.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		inserted, failed := p.persistInserts(ctx, inserts)
		stats.Successful += inserted
		stats.Errors += len(failed)
		rowErrs = append(rowErrs, failed...)
	}()

	updated, failed := p.persistUpdates(ctx, updates)
	wg.Wait()
	stats.Updated += updated
	stats.Errors += len(failed)
	rowErrs = append(rowErrs, failed...)

	return stats, rowErrs
}

// persistInserts issues one bulk insert for the batch's new records,
// falling back to row-at-a-time inserts when the bulk call fails outright.
func (p *Processor) persistInserts(ctx context.Context, inserts []pendingInsert) (int, []model.RowError) {
	if len(inserts) == 0 {
		return 0, nil
	}

	err := p.bulkInsert(ctx, inserts)
	if err == nil {
		return len(inserts), nil
	}
	zap.L().Warn("bulk insert failed, falling back to individual inserts",
		zap.String("kind", string(p.kind)),
		zap.Int("records", len(inserts)),
		zap.Error(err),
	)

	var failed []model.RowError
	ok := 0
	for _, ins := range inserts {
		if err := p.insertOne(ctx, ins.rec); err != nil {
			failed = append(failed, model.RowError{Row: ins.row, Message: fmt.Sprintf("insert failed: %v", err)})
			continue
		}
		ok++
	}
	return ok, failed
}

func (p *Processor) bulkInsert(ctx context.Context, inserts []pendingInsert) error {
	switch p.kind {
	case model.KindCompany:
		companies := make([]model.Company, len(inserts))
		for i, ins := range inserts {
			companies[i] = buildCompany(ins.rec)
		}
		return p.store.InsertCompanies(ctx, companies)
	default:
		contacts := make([]model.Contact, len(inserts))
		for i, ins := range inserts {
			contacts[i] = buildContact(ins.rec)
		}
		return p.store.InsertContacts(ctx, contacts)
	}
}

func (p *Processor) insertOne(ctx context.Context, rec Record) error {
	if p.kind == model.KindCompany {
		co := buildCompany(rec)
		return p.store.InsertCompany(ctx, &co)
	}
	ct := buildContact(rec)
	return p.store.InsertContact(ctx, &ct)
}

// persistUpdates applies fill-empty patches concurrently, retrying
// transient store errors per record.
func (p *Processor) persistUpdates(ctx context.Context, updates []pendingUpdate) (int, []model.RowError) {
	if len(updates) == 0 {
		return 0, nil
	}

	var mu sync.Mutex
	var failed []model.RowError
	updated := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(updateConcurrency)
	for _, upd := range updates {
		g.Go(func() error {
			err := p.retry.Do(gctx, func(ctx context.Context) error {
				return p.updateOne(ctx, upd.id, upd.patch)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, model.RowError{Row: upd.row, Message: fmt.Sprintf("update failed: %v", err)})
				return nil // individual failures never abort the batch
			}
			updated++
			return nil
		})
	}
	_ = g.Wait()

	return updated, failed
}

func (p *Processor) updateOne(ctx context.Context, id int64, patch Record) error {
	if p.kind == model.KindCompany {
		return p.store.UpdateCompanyFields(ctx, id, patchFields(patch))
	}
	return p.store.UpdateContactFields(ctx, id, patchFields(patch))
}
