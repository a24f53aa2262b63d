package swr

import (
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// subscriber is an observer of a single cache entry.
type subscriber[T any] struct {
	id uint64
	fn func(items []T)
}

// entry is one cached collection. All writes replace the items slice
// wholesale; a slice handed out by Get is never mutated afterwards.
type entry[T any] struct {
	items      []T
	stale      bool
	lastActive time.Time
}

// Store is a process-wide cache of ordered collections keyed by Key.
//
// Consumers read via Get and observe changes via Subscribe; all writes
// go through Set (or the higher-level Query and Mutation types), which
// apply pure updater functions and replace the entry's slice as a
// whole. Entries with no subscribers are evicted after a configurable
// inactivity window.
//
// Subscriptions are independent of entry lifecycle: deleting or
// evicting an entry leaves its subscribers registered, and they fire
// again when the key is repopulated.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	subs    map[string][]subscriber[T]
	nextSub uint64

	config  storeConfig
	logger  *slog.Logger
	metrics *storeMetrics

	// now is a test seam for the sweeper clock.
	now func() time.Time

	done      chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewStore creates a Store and starts its eviction sweeper. Call Close
// when the store is no longer needed.
func NewStore[T any](opts ...StoreOption) *Store[T] {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store[T]{
		entries:   make(map[string]*entry[T]),
		subs:      make(map[string][]subscriber[T]),
		config:    cfg,
		logger:    cfg.logger.With("component", "swr_store"),
		now:       time.Now,
		done:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if cfg.registry != nil {
		s.metrics = newStoreMetrics(cfg)
	}

	go s.sweepLoop()
	return s
}

// Get returns the cached collection for key, or (nil, false) when the
// key has no entry. The returned slice must be treated as read-only;
// writers always replace it rather than mutate it, so a caller may hold
// on to it as an immutable snapshot.
func (s *Store[T]) Get(key Key) ([]T, bool) {
	ck := key.Canonical()

	s.mu.Lock()
	e, ok := s.entries[ck]
	if !ok {
		s.mu.Unlock()
		s.metrics.recordGet(false)
		return nil, false
	}
	e.lastActive = s.now()
	items := e.items
	s.mu.Unlock()

	s.metrics.recordGet(true)
	return items, true
}

// Set applies a pure updater to the entry for key, creating the entry
// if it does not exist (the updater then receives nil). The updater
// must return a new slice rather than mutate its argument.
//
// A panic in the updater propagates to the caller and leaves the entry
// untouched. Subscribers are notified after the lock is released, and
// only when the update actually changed the entry.
func (s *Store[T]) Set(key Key, update func(items []T) []T) {
	s.apply(key, update, false)
}

// apply is the single write path shared by Set and rollback. When
// dropEmpty is true and the updater returns an empty slice, the entry
// is removed entirely (subscribers see nil).
func (s *Store[T]) apply(key Key, update func(items []T) []T, dropEmpty bool) {
	ck := key.Canonical()

	var (
		subs    []subscriber[T]
		items   []T
		changed bool
	)

	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		e, ok := s.entries[ck]
		if !ok {
			e = &entry[T]{}
		}
		old := e.items
		items = update(old)

		changed = !ok || !reflect.DeepEqual(old, items)
		if dropEmpty && len(items) == 0 {
			if ok {
				delete(s.entries, ck)
				items = nil
			}
			// When the entry never existed there is nothing to drop
			// and nobody to notify.
			changed = ok
		} else {
			// A write always refreshes the entry, even when the data is
			// unchanged: staleness is about the write, not the bytes.
			e.stale = false
			if changed {
				e.items = items
			}
			e.lastActive = s.now()
			s.entries[ck] = e
		}

		if changed {
			subs = s.copySubsLocked(ck)
		}
	}()

	if !changed {
		return
	}
	s.metrics.recordSet()
	s.metrics.setEntries(s.Size())
	for _, sub := range subs {
		sub.fn(items)
	}
}

// Delete removes the entry for key. Subscribers are notified with a nil
// slice; their subscriptions stay registered in case the key is
// repopulated.
func (s *Store[T]) Delete(key Key) {
	ck := key.Canonical()

	s.mu.Lock()
	if _, ok := s.entries[ck]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, ck)
	subs := s.copySubsLocked(ck)
	s.mu.Unlock()

	s.metrics.setEntries(s.Size())
	for _, sub := range subs {
		sub.fn(nil)
	}
}

// Invalidate marks the entry for key as stale and notifies subscribers
// with the current items. Queries check staleness on their next Fetch;
// the data itself is left in place so observers keep rendering it.
func (s *Store[T]) Invalidate(key Key) {
	ck := key.Canonical()

	s.mu.Lock()
	e, ok := s.entries[ck]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.stale = true
	items := e.items
	subs := s.copySubsLocked(ck)
	s.mu.Unlock()

	s.logger.Debug("entry invalidated", "key", key.String())
	for _, sub := range subs {
		sub.fn(items)
	}
}

// IsStale reports whether the entry for key has been invalidated since
// it was last written. Missing entries are stale by definition.
func (s *Store[T]) IsStale(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.Canonical()]
	if !ok {
		return true
	}
	return e.stale
}

// Subscribe registers fn to be called with the entry's items after
// every change to key: writes, invalidations (current items), and
// deletions (nil). It returns a cancel function.
//
// An entry with at least one subscriber is never evicted.
func (s *Store[T]) Subscribe(key Key, fn func(items []T)) (cancel func()) {
	ck := key.Canonical()

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[ck] = append(s.subs[ck], subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		subs := s.subs[ck]
		for i, sub := range subs {
			if sub.id == id {
				// Swap-remove; notification order is unspecified.
				subs[i] = subs[len(subs)-1]
				subs = subs[:len(subs)-1]
				if len(subs) == 0 {
					delete(s.subs, ck)
				} else {
					s.subs[ck] = subs
				}
				return
			}
		}
	}
}

// copySubsLocked snapshots the subscriber list for a key so callbacks
// run without holding the store lock. Callers must hold s.mu.
func (s *Store[T]) copySubsLocked(ck string) []subscriber[T] {
	subs := s.subs[ck]
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscriber[T], len(subs))
	copy(out, subs)
	return out
}

// Contains reports whether the store currently holds an entry for key,
// without touching its activity clock.
func (s *Store[T]) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key.Canonical()]
	return ok
}

// Size returns the number of entries currently held.
func (s *Store[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the eviction sweeper. The store remains usable for reads
// and writes afterwards, but nothing is evicted anymore.
func (s *Store[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.sweepDone
	})
}

// sweepLoop periodically evicts entries that have no subscribers and
// have been inactive longer than the configured window.
func (s *Store[T]) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.config.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *Store[T]) sweep() {
	window := s.config.inactivityWindow
	if window <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for ck, e := range s.entries {
		if len(s.subs[ck]) == 0 && now.Sub(e.lastActive) > window {
			delete(s.entries, ck)
			evicted++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.recordEvictions(evicted)
		s.metrics.setEntries(remaining)
		s.logger.Debug("evicted inactive entries", "count", evicted, "remaining", remaining)
	}
}
