package swr

import (
	"context"
	"sync"
	"time"
)

// QueryState represents the current state of a query.
type QueryState int

const (
	QueryPending QueryState = iota // Before the first fetch
	QueryLoading                   // Fetch in progress
	QueryReady                     // Data loaded into the store
	QueryError                     // Last fetch failed
)

// String returns the state name for logs.
func (s QueryState) String() string {
	switch s {
	case QueryPending:
		return "pending"
	case QueryLoading:
		return "loading"
	case QueryReady:
		return "ready"
	case QueryError:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher loads the full collection from its source of truth.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Query is the read path of the cache: it fetches a collection and
// writes the result into the Store entry for its key, replacing the
// entry wholesale. Fetch is stale-aware — it does nothing while the
// entry is fresh — and Refetch always hits the source. Retries, if
// configured, apply here and only here; Mutation never retries.
type Query[T any] struct {
	store *Store[T]
	key   Key
	fetch Fetcher[T]

	// Options, set via the fluent methods below before first use.
	staleTime  time.Duration
	retryCount int
	retryDelay time.Duration
	onSuccess  func(items []T)
	onError    func(err error)

	mu        sync.Mutex
	state     QueryState
	err       error
	lastFetch time.Time
	fetchID   uint64
}

// NewQuery creates a query for key backed by fetch. No request is
// issued until Fetch or Refetch is called.
func NewQuery[T any](store *Store[T], key Key, fetch Fetcher[T]) *Query[T] {
	return &Query[T]{
		store:      store,
		key:        key.Clone(),
		fetch:      fetch,
		retryDelay: time.Second,
	}
}

// WithStaleTime sets how long a successful fetch is considered fresh.
// Zero (the default) means every Fetch consults the store's stale flag
// only.
func (q *Query[T]) WithStaleTime(d time.Duration) *Query[T] {
	q.staleTime = d
	return q
}

// WithRetry configures how many times a failed fetch is retried and the
// delay between attempts.
func (q *Query[T]) WithRetry(count int, delay time.Duration) *Query[T] {
	q.retryCount = count
	if delay > 0 {
		q.retryDelay = delay
	}
	return q
}

// OnSuccess registers a callback invoked after each successful fetch.
func (q *Query[T]) OnSuccess(fn func(items []T)) *Query[T] {
	q.onSuccess = fn
	return q
}

// OnError registers a callback invoked after a fetch gives up.
func (q *Query[T]) OnError(fn func(err error)) *Query[T] {
	q.onError = fn
	return q
}

// State returns the query's current state.
func (q *Query[T]) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query[T]) IsLoading() bool {
	s := q.State()
	return s == QueryLoading || s == QueryPending
}

func (q *Query[T]) IsReady() bool {
	return q.State() == QueryReady
}

func (q *Query[T]) IsError() bool {
	return q.State() == QueryError
}

// Err returns the error from the last failed fetch, or nil.
func (q *Query[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Data returns the current store entry for the query's key.
func (q *Query[T]) Data() ([]T, bool) {
	return q.store.Get(q.key)
}

// Fetch loads the collection unless the cached entry is still fresh:
// ready, not invalidated, and within the stale time. To bypass
// freshness checks use Refetch.
func (q *Query[T]) Fetch(ctx context.Context) {
	q.mu.Lock()
	fresh := q.state == QueryReady &&
		!q.store.IsStale(q.key) &&
		(q.staleTime <= 0 || time.Since(q.lastFetch) < q.staleTime)
	q.mu.Unlock()

	if fresh {
		return
	}
	q.Refetch(ctx)
}

// Refetch forces a fetch, bypassing all freshness checks. The request
// runs on its own goroutine; the result lands in the store and in the
// query's state. A Refetch issued while another is in flight supersedes
// it: the superseded response is discarded.
func (q *Query[T]) Refetch(ctx context.Context) {
	q.mu.Lock()
	q.fetchID++
	id := q.fetchID
	q.state = QueryLoading
	q.err = nil
	q.mu.Unlock()

	go q.run(ctx, id)
}

func (q *Query[T]) run(ctx context.Context, id uint64) {
	var (
		items []T
		err   error
	)

	attempts := 1 + q.retryCount
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(q.retryDelay):
			case <-ctx.Done():
				q.finish(id, nil, ctx.Err())
				return
			}
		}
		if q.superseded(id) {
			return
		}
		items, err = q.fetch(ctx)
		if err == nil {
			break
		}
	}

	q.finish(id, items, err)
}

func (q *Query[T]) superseded(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetchID != id
}

func (q *Query[T]) finish(id uint64, items []T, err error) {
	q.mu.Lock()
	if q.fetchID != id {
		q.mu.Unlock()
		return
	}
	q.lastFetch = time.Now()
	if err != nil {
		q.state = QueryError
		q.err = err
	} else {
		q.state = QueryReady
	}
	q.mu.Unlock()

	if err != nil {
		q.store.metrics.recordFetch("error")
		q.store.logger.Warn("query fetch failed", "key", q.key.String(), "error", err)
		if q.onError != nil {
			q.onError(err)
		}
		return
	}

	q.store.Set(q.key, func([]T) []T { return items })
	q.store.metrics.recordFetch("success")
	if q.onSuccess != nil {
		q.onSuccess(items)
	}
}
