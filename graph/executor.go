package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultBatchSize is the service limit on subscriptions per query.
const DefaultBatchSize = 1000

// DefaultPageSize is the service limit on rows per page.
const DefaultPageSize = 1000

// DefaultConcurrency caps simultaneous outstanding queries across all
// callers sharing one executor.
const DefaultConcurrency = 4

// Executor fans a query out over subscription batches with bounded
// concurrency and merges the paged results.
type Executor struct {
	client    QueryClient
	logger    zerolog.Logger
	sem       *semaphore.Weighted
	retry     RetryPolicy
	batchSize int
	pageSize  int
}

// Option configures an Executor.
type Option func(*Executor)

// WithBatchSize overrides the per-query subscription limit.
func WithBatchSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithPageSize overrides the rows-per-page limit.
func WithPageSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithConcurrency overrides the cap on simultaneous outstanding queries.
func WithConcurrency(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithRetryPolicy overrides the page retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		e.retry = p
	}
}

// NewExecutor builds an executor around a query client. The concurrency
// bound is shared by every Execute call on the same instance.
func NewExecutor(client QueryClient, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		client:    client,
		logger:    logger,
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		retry:     DefaultRetryPolicy(),
		batchSize: DefaultBatchSize,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchError records one subscription batch that failed after retries.
type BatchError struct {
	SubscriptionIDs []string
	Err             error
}

// Result carries the merged rows from every completed page plus the
// batches that failed.
type Result struct {
	Rows          []Row
	BatchesTotal  int
	BatchesFailed []BatchError
	Cancelled     bool
}

// Execute runs one query against every subscription batch. Batches run
// concurrently under the shared bound; pages within a batch are
// sequential. A failed batch keeps the rows from its completed pages
// and surfaces in BatchesFailed. Cancellation stops issuing batches and
// returns everything gathered so far with Cancelled set.
func (e *Executor) Execute(ctx context.Context, query string, subscriptionIDs []string) Result {
	batches := splitBatches(subscriptionIDs, e.batchSize)
	result := Result{BatchesTotal: len(batches)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, batch := range batches {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			result.Cancelled = true
			break
		}
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			defer e.sem.Release(1)

			rows, err := e.queryBatch(ctx, query, ids)
			mu.Lock()
			defer mu.Unlock()
			result.Rows = append(result.Rows, rows...)
			if err != nil {
				e.logger.Warn().Err(err).Int("subscriptions", len(ids)).Msg("batch failed")
				result.BatchesFailed = append(result.BatchesFailed, BatchError{SubscriptionIDs: ids, Err: err})
				return
			}
			e.logger.Debug().Int("subscriptions", len(ids)).Int("rows", len(rows)).Msg("batch complete")
		}(batch)
	}
	wg.Wait()

	if ctx.Err() != nil {
		result.Cancelled = true
	}
	return result
}

// queryBatch pages through one batch sequentially. Rows from completed
// pages are returned even when a later page fails.
func (e *Executor) queryBatch(ctx context.Context, query string, ids []string) ([]Row, error) {
	var rows []Row
	req := Request{Query: query, SubscriptionIDs: ids, PageSize: e.pageSize}
	for {
		page, err := e.queryPage(ctx, req)
		if err != nil {
			return rows, fmt.Errorf("query batch of %d subscriptions: %w", len(ids), err)
		}
		rows = append(rows, page.Rows...)
		if page.SkipToken == "" {
			return rows, nil
		}
		req.SkipToken = page.SkipToken
		e.logger.Debug().Int("rows", len(rows)).Msg("fetching next page")
	}
}

func (e *Executor) queryPage(ctx context.Context, req Request) (Page, error) {
	op := func() (Page, error) {
		page, err := e.client.Query(ctx, req)
		if err != nil && !retryable(err) {
			return Page{}, backoff.Permanent(err)
		}
		return page, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(e.retry.backOff()),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
	)
}

// splitBatches chunks ids into groups of at most size.
func splitBatches(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for size < len(ids) {
		batches = append(batches, ids[:size])
		ids = ids[size:]
	}
	return append(batches, ids)
}
