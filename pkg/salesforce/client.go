// Package salesforce provides JWT-authenticated REST API access to
// Salesforce for pushing imported CRM records.
package salesforce

import (
	"context"
	"fmt"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-import/internal/resilience"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// Client defines the Salesforce API operations used by the push command.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
	UpdateCollection(ctx context.Context, sObjectName string, records []CollectionRecord) ([]CollectionResult, error)
}

// CollectionRecord represents a single record in a collection update.
// ID is the Salesforce record ID; Fields contains the field values to set.
type CollectionRecord struct {
	ID     string         `json:"Id"`
	Fields map[string]any `json:"fields"`
}

// CollectionResult is the outcome of a single record in a collection
// operation. Collections API calls succeed as a whole while individual
// records may still fail.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for SF API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry retries collection calls that fail with transient transport
// errors. Record-level failures inside a successful call are never
// retried; those are reported through CollectionResult.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *sfClient) {
		c.retry = &cfg
	}
}

// sfClient wraps the go-salesforce/v3 Salesforce struct.
//
// NOTE: The underlying go-salesforce/v3 library does not accept context.Context,
// so all methods discard the ctx parameter for the SF call itself. However, the
// ctx is used for rate limiter waiting, so callers can still cancel that wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
}

// NewClient creates a new Salesforce Client wrapping the given go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// do runs one API call, retrying per the client's retry config when set.
func (c *sfClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if c.retry == nil {
		return fn(ctx)
	}
	cfg := *c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.Logged(op)
	}
	return cfg.Do(ctx, fn)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}

func (c *sfClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	var out []CollectionResult
	err := c.do(ctx, "sf_insert_"+sObjectName, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
		sfResults, err := c.sf.InsertCollection(sObjectName, records, maxBatchSize)
		if err != nil {
			return eris.Wrap(err, fmt.Sprintf("sf: insert collection %s", sObjectName))
		}
		out = convertResults(sfResults.Results)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sfClient) UpdateCollection(ctx context.Context, sObjectName string, records []CollectionRecord) ([]CollectionResult, error) {
	maps := make([]map[string]any, len(records))
	for i, rec := range records {
		m := make(map[string]any, len(rec.Fields)+1)
		for k, v := range rec.Fields {
			m[k] = v
		}
		m["Id"] = rec.ID
		maps[i] = m
	}

	var out []CollectionResult
	err := c.do(ctx, "sf_update_"+sObjectName, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
		sfResults, err := c.sf.UpdateCollection(sObjectName, maps, maxBatchSize)
		if err != nil {
			return eris.Wrap(err, fmt.Sprintf("sf: update collection %s", sObjectName))
		}
		out = convertResults(sfResults.Results)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func convertResults(sfResults []salesforce.SalesforceResult) []CollectionResult {
	results := make([]CollectionResult, len(sfResults))
	for i, r := range sfResults {
		var errs []string
		for _, e := range r.Errors {
			errs = append(errs, e.Message)
		}
		results[i] = CollectionResult{
			ID:      r.Id,
			Success: r.Success,
			Errors:  errs,
		}
	}
	return results
}
