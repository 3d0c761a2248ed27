package importer

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/normalize"
)

// DefaultCacheWindow bounds how many recent entities are preloaded into
// the duplicate cache per job.
const DefaultCacheWindow = 10000

// Outcome classifies the result of duplicate resolution for one record.
type Outcome int

const (
	// OutcomeNew means no match: the record should be inserted.
	OutcomeNew Outcome = iota
	// OutcomeSkip means a match was found and the record is dropped.
	OutcomeSkip
	// OutcomeUpdate means a match was found and a fill-empty patch
	// should be applied to the existing entity.
	OutcomeUpdate
)

// cacheEntry references one known entity. ID 0 marks an entity staged by
// an earlier row of the same file; such entries catch intra-file
// duplicates but are never update targets.
type cacheEntry struct {
	id     int64
	fields Record
}

// DuplicateCache is the per-job in-memory index over existing entities.
// It is owned by a single job run, mutated only by that job's worker, and
// discarded when the job ends.
type DuplicateCache struct {
	kind  model.EntityKind
	byKey map[string]*cacheEntry
}

// BuildCache preloads a bounded window of the most recent entities from
// the store and indexes each by every duplicate key it exposes.
func BuildCache(ctx context.Context, store EntityStore, kind model.EntityKind, window int) (*DuplicateCache, error) {
	if window <= 0 {
		window = DefaultCacheWindow
	}
	c := &DuplicateCache{kind: kind, byKey: make(map[string]*cacheEntry)}

	switch kind {
	case model.KindContact:
		contacts, err := store.RecentContacts(ctx, window)
		if err != nil {
			return nil, err
		}
		for _, ct := range contacts {
			c.add(&cacheEntry{id: ct.ID, fields: contactRecord(ct)})
		}
	case model.KindCompany:
		companies, err := store.RecentCompanies(ctx, window)
		if err != nil {
			return nil, err
		}
		for _, co := range companies {
			c.add(&cacheEntry{id: co.ID, fields: companyRecord(co)})
		}
	}

	zap.L().Debug("duplicate cache built",
		zap.String("kind", string(kind)),
		zap.Int("keys", len(c.byKey)),
	)
	return c, nil
}

// Resolve checks the strongest available identity signals of rec against
// the cache, in priority order, and decides the record's fate under the
// job's duplicate policy. For updates, the returned patch contains only
// fields present on the incoming record and empty on the existing one;
// an empty patch degrades to a skip.
func (c *DuplicateCache) Resolve(rec Record, opts model.ImportOptions) (Outcome, int64, Record) {
	entry := c.lookup(rec)
	if entry == nil {
		return OutcomeNew, 0, nil
	}
	if !opts.UpdateExisting || entry.id == 0 {
		if !opts.SkipDuplicates && !opts.UpdateExisting {
			// Duplicate handling disabled entirely: insert anyway.
			return OutcomeNew, 0, nil
		}
		return OutcomeSkip, entry.id, nil
	}

	patch := fillEmptyPatch(entry.fields, rec)
	if len(patch) == 0 {
		return OutcomeSkip, entry.id, nil
	}
	// Keep the cache's view current so later rows don't re-stage the
	// same patch.
	for k, v := range patch {
		entry.fields[k] = v
	}
	return OutcomeUpdate, entry.id, patch
}

// Stage registers a record accepted for insertion so later rows in the
// same file resolve against it.
func (c *DuplicateCache) Stage(rec Record) {
	c.add(&cacheEntry{id: 0, fields: rec})
}

// lookup probes the record's keys strongest-first.
func (c *DuplicateCache) lookup(rec Record) *cacheEntry {
	for _, key := range c.keys(rec) {
		if e := c.byKey[key]; e != nil {
			return e
		}
	}
	return nil
}

func (c *DuplicateCache) add(entry *cacheEntry) {
	for _, key := range c.keys(entry.fields) {
		if _, exists := c.byKey[key]; !exists {
			c.byKey[key] = entry
		}
	}
}

// keys derives the normalized duplicate keys for a record, ordered by
// signal strength: exact identifiers (email, domain) before composites.
func (c *DuplicateCache) keys(rec Record) []string {
	var keys []string
	switch c.kind {
	case model.KindContact:
		if email := rec.Str("email"); email != "" {
			keys = append(keys, "email:"+strings.ToLower(email))
		}
		if composite := normalize.CompositeKey(rec.Str("fullName"), rec.Str("company")); composite != "" {
			keys = append(keys, "nc:"+composite)
		}
	case model.KindCompany:
		if domain := companyDomain(rec); domain != "" {
			keys = append(keys, "domain:"+domain)
		}
		if name := normalize.Name(rec.Str("name")); name != "" {
			keys = append(keys, "name:"+strings.ToLower(name))
		}
	}
	return keys
}

// companyDomain prefers an explicit domain field, falling back to the
// website URL.
func companyDomain(rec Record) string {
	if d := rec.Str("domain"); d != "" {
		return normalize.Domain(d)
	}
	return normalize.Domain(rec.Str("website"))
}

// fillEmptyPatch stages only fields present in the incoming record and
// empty or absent on the existing one. Existing non-empty data is never
// overwritten.
func fillEmptyPatch(existing, incoming Record) Record {
	patch := make(Record)
	for field, v := range incoming {
		switch val := v.(type) {
		case string:
			if val != "" && existing.Str(field) == "" {
				patch[field] = val
			}
		case []string:
			if len(val) > 0 && len(existing.List(field)) == 0 {
				patch[field] = val
			}
		}
	}
	return patch
}

// contactRecord projects a stored contact onto the canonical field space.
func contactRecord(ct model.Contact) Record {
	rec := make(Record, 12)
	setIf(rec, "fullName", ct.FullName)
	setIf(rec, "firstName", ct.FirstName)
	setIf(rec, "lastName", ct.LastName)
	setIf(rec, "email", ct.Email)
	setIf(rec, "phone", ct.Phone)
	setIf(rec, "mobilePhone", ct.MobilePhone)
	setIf(rec, "title", ct.Title)
	setIf(rec, "company", ct.Company)
	setIf(rec, "industry", ct.Industry)
	setIf(rec, "city", ct.City)
	setIf(rec, "state", ct.State)
	setIf(rec, "country", ct.Country)
	setIf(rec, "linkedinUrl", ct.LinkedInURL)
	return rec
}

// companyRecord projects a stored company onto the canonical field space.
func companyRecord(co model.Company) Record {
	rec := make(Record, 14)
	setIf(rec, "name", co.Name)
	setIf(rec, "domain", co.Domain)
	setIf(rec, "website", co.Website)
	setIf(rec, "industry", co.Industry)
	setIf(rec, "phone", co.Phone)
	setIf(rec, "street", co.Street)
	setIf(rec, "city", co.City)
	setIf(rec, "state", co.State)
	setIf(rec, "zipCode", co.ZipCode)
	setIf(rec, "country", co.Country)
	if co.EmployeeCount > 0 {
		rec["employeeCount"] = strconv.Itoa(co.EmployeeCount)
	}
	if co.Revenue > 0 {
		rec["revenue"] = strconv.FormatInt(co.Revenue, 10)
	}
	if len(co.Technologies) > 0 {
		rec["technologies"] = co.Technologies
	}
	return rec
}

func setIf(rec Record, field, value string) {
	if value != "" {
		rec[field] = value
	}
}
