package swr

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

// Phase is the state of an optimistic submission.
//
// Every submission walks the same machine:
//
//	Idle -> Optimistic -> Reconciled   (write succeeded)
//	                   -> RolledBack   (write failed)
type Phase int32

const (
	PhaseIdle       Phase = iota // No submission yet
	PhaseOptimistic              // Placeholder inserted, write in flight
	PhaseReconciled              // Placeholder replaced by the server's version
	PhaseRolledBack              // Placeholder removed after a failed write
)

// String returns the phase name for logs.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOptimistic:
		return "optimistic"
	case PhaseReconciled:
		return "reconciled"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Writer sends one item to the collection's source of truth and returns
// the canonical version the server assigned, including its
// authoritative identity.
type Writer[T any] func(ctx context.Context, item T) (T, error)

// Mutation submits new items to a remote collection while keeping the
// local cache entry visually consistent.
//
// Submit prepends the item to the cache synchronously, so every current
// observer sees it before the network write resolves. When the write
// succeeds the placeholder is replaced in place by the server's
// canonical version; when it fails the placeholder is removed and the
// error recorded. Each submission tracks its own inserted item, so
// interleaved submissions reconcile and roll back independently.
type Mutation[T any] struct {
	store *Store[T]
	key   Key
	write Writer[T]

	same        func(a, b T) bool
	identity    func(item T) any
	validate    func(item T) error
	onReconcile func(item T)
	onRollback  func(item T, err error)

	mu      sync.Mutex
	phase   Phase
	lastErr error
}

// NewMutation creates a mutation writing to the store entry for key.
func NewMutation[T any](store *Store[T], key Key, write Writer[T]) *Mutation[T] {
	return &Mutation[T]{
		store: store,
		key:   key.Clone(),
		write: write,
		same:  defaultSame[T],
	}
}

// Match overrides how the submitted item is located in the cache during
// reconciliation and rollback. The default compares pointers for
// pointer types and falls back to deep equality otherwise.
//
// The provisional identity field must never be used here: it is not
// unique before the server assigns the real one.
func (m *Mutation[T]) Match(fn func(a, b T) bool) *Mutation[T] {
	if fn != nil {
		m.same = fn
	}
	return m
}

// Identity registers an extractor for the authoritative identity of an
// item. When set, reconciliation drops any pre-existing entry that
// already carries the identity the server just assigned, so the
// reconciled item wins. The returned value must be comparable.
func (m *Mutation[T]) Identity(fn func(item T) any) *Mutation[T] {
	m.identity = fn
	return m
}

// Validate registers a check run synchronously before the optimistic
// insert. A validation failure is returned from Submit directly and the
// cache is left untouched.
func (m *Mutation[T]) Validate(fn func(item T) error) *Mutation[T] {
	m.validate = fn
	return m
}

// OnReconcile registers a callback invoked with the server's canonical
// item after a successful write.
func (m *Mutation[T]) OnReconcile(fn func(item T)) *Mutation[T] {
	m.onReconcile = fn
	return m
}

// OnRollback registers a callback invoked with the submitted item and
// the write error after a rollback.
func (m *Mutation[T]) OnRollback(fn func(item T, err error)) *Mutation[T] {
	m.onRollback = fn
	return m
}

// Phase returns the phase of the most recent submission.
func (m *Mutation[T]) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Err returns the transport error recorded by the most recent rollback,
// or nil. A successful submission clears it.
func (m *Mutation[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Flight tracks a single submission through the phase machine. The
// caller may ignore it entirely — the cache and the mutation's error
// slot carry the outcome — or wait on Done to observe the result.
type Flight[T any] struct {
	item  T
	phase atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// Phase returns the submission's current phase.
func (f *Flight[T]) Phase() Phase {
	return Phase(f.phase.Load())
}

// Err returns the transport error that rolled this submission back, or
// nil. It is fully settled once Done is closed.
func (f *Flight[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed once the submission has reconciled or rolled back.
func (f *Flight[T]) Done() <-chan struct{} {
	return f.done
}

// Submit runs the optimistic workflow for item.
//
// The optimistic insert happens synchronously: by the time Submit
// returns, every observer of the key sees item at the front of the
// entry (a missing entry is initialized to the single-element
// collection). The remote write then runs on its own goroutine and the
// submission reconciles or rolls back as side effects on the cache.
//
// The only error returned directly is a synchronous validation failure,
// in which case no optimistic mutation occurred. Transport failures
// surface via the returned Flight and the mutation's Err slot.
func (m *Mutation[T]) Submit(ctx context.Context, item T) (*Flight[T], error) {
	if m.validate != nil {
		if err := m.validate(item); err != nil {
			return nil, err
		}
	}

	// Whether the entry existed before this submission decides what a
	// rollback restores: the prior sequence, or nothing at all.
	_, existed := m.store.Get(m.key)

	m.store.Set(m.key, func(items []T) []T {
		next := make([]T, 0, len(items)+1)
		next = append(next, item)
		return append(next, items...)
	})

	f := &Flight[T]{item: item, done: make(chan struct{})}
	f.phase.Store(int32(PhaseOptimistic))
	m.setPhase(PhaseOptimistic, nil)

	go m.resolve(ctx, f, existed)
	return f, nil
}

func (m *Mutation[T]) resolve(ctx context.Context, f *Flight[T], existed bool) {
	defer close(f.done)

	canonical, err := m.write(ctx, f.item)
	if err != nil {
		m.rollback(f, existed, err)
		return
	}
	m.reconcile(f, canonical)
}

// reconcile replaces the optimistic placeholder with the server's
// canonical item. The placeholder is located by the submitted object
// itself, never by position: a concurrent submission may have moved it.
// If a wholesale refetch already removed the placeholder there is
// nothing to replace and the entry is left alone.
func (m *Mutation[T]) reconcile(f *Flight[T], canonical T) {
	m.store.Set(m.key, func(items []T) []T {
		at := -1
		for i, it := range items {
			if m.same(it, f.item) {
				at = i
				break
			}
		}
		if at < 0 {
			// Placeholder gone: a wholesale refetch replaced the entry
			// and already reflects the server. Leave it alone.
			return items
		}

		next := make([]T, 0, len(items))
		for i, it := range items {
			switch {
			case i == at:
				next = append(next, canonical)
			case m.identity != nil && m.identity(it) == m.identity(canonical):
				// Another entry already carries the authoritative
				// identity the server just assigned. Last write wins:
				// keep the reconciled item, drop the stale duplicate.
			default:
				next = append(next, it)
			}
		}
		return next
	})

	f.phase.Store(int32(PhaseReconciled))
	m.setPhase(PhaseReconciled, nil)
	m.store.metrics.recordMutation("reconciled")
	m.store.logger.Debug("submission reconciled", "key", m.key.String())
	if m.onReconcile != nil {
		m.onReconcile(canonical)
	}
}

// rollback removes this submission's placeholder from the entry,
// leaving every other submission's work in place. When the entry did
// not exist before the submission and removing the placeholder empties
// it, the entry is deleted so the cache returns to "absent".
func (m *Mutation[T]) rollback(f *Flight[T], existed bool, err error) {
	m.store.apply(m.key, func(items []T) []T {
		next := make([]T, 0, len(items))
		removed := false
		for _, it := range items {
			if !removed && m.same(it, f.item) {
				removed = true
				continue
			}
			next = append(next, it)
		}
		return next
	}, !existed)

	terr := asTransport(err)
	f.mu.Lock()
	f.err = terr
	f.mu.Unlock()
	f.phase.Store(int32(PhaseRolledBack))
	m.setPhase(PhaseRolledBack, terr)
	m.store.metrics.recordMutation("rolled_back")
	m.store.logger.Warn("submission rolled back", "key", m.key.String(), "error", terr)
	if m.onRollback != nil {
		m.onRollback(f.item, terr)
	}
}

func (m *Mutation[T]) setPhase(p Phase, err error) {
	m.mu.Lock()
	m.phase = p
	m.lastErr = err
	m.mu.Unlock()
}

// asTransport coerces a write failure into a *TransportError, keeping
// one the writer already produced.
func asTransport(err error) error {
	var terr *TransportError
	if errors.As(err, &terr) {
		return err
	}
	return &TransportError{Err: err}
}

// defaultSame is the default placeholder matcher: pointer identity for
// pointer types, deep equality for everything else.
func defaultSame[T any](a, b T) bool {
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return reflect.DeepEqual(a, b)
}
