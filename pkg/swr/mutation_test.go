package swr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// gatedWriter returns a Writer that blocks until release is closed,
// then returns the given result.
func gatedWriter(release <-chan struct{}, canonical todo, err error) Writer[todo] {
	return func(ctx context.Context, item todo) (todo, error) {
		<-release
		return canonical, err
	}
}

func awaitFlight(t *testing.T, f *Flight[todo]) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for submission to settle")
	}
}

func TestSubmitOptimisticInsertIsSynchronous(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	s.Set(key, func([]todo) []todo { return []todo{} })

	release := make(chan struct{})
	m := NewMutation(s, key, gatedWriter(release, todo{ID: 42, Title: "buy milk"}, nil))

	placeholder := todo{ID: 0, Title: "buy milk"}
	f, err := m.Submit(context.Background(), placeholder)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Before the write resolves, the placeholder must already be at the
	// front of the entry.
	items, ok := s.Get(key)
	if !ok || len(items) != 1 || items[0] != placeholder {
		t.Fatalf("expected [%v] before write resolves, got %v (ok=%v)", placeholder, items, ok)
	}
	if f.Phase() != PhaseOptimistic {
		t.Errorf("phase = %v, want optimistic", f.Phase())
	}

	close(release)
	awaitFlight(t, f)
}

func TestSubmitReconcilesWithCanonicalItem(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	s.Set(key, func([]todo) []todo { return []todo{} })

	release := make(chan struct{})
	canonical := todo{ID: 42, Title: "buy milk"}
	m := NewMutation(s, key, gatedWriter(release, canonical, nil))

	f, err := m.Submit(context.Background(), todo{ID: 0, Title: "buy milk"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	close(release)
	awaitFlight(t, f)

	items, _ := s.Get(key)
	if diff := cmp.Diff([]todo{canonical}, items); diff != "" {
		t.Errorf("cache after reconcile (-want +got):\n%s", diff)
	}
	if f.Phase() != PhaseReconciled {
		t.Errorf("flight phase = %v, want reconciled", f.Phase())
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil", m.Err())
	}
}

func TestSubmitRollbackRestoresSnapshot(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	before := []todo{{ID: 7, Title: "existing"}}
	s.Set(key, func([]todo) []todo { return before })

	release := make(chan struct{})
	writeErr := errors.New("connection refused")
	m := NewMutation(s, key, gatedWriter(release, todo{}, writeErr))

	f, err := m.Submit(context.Background(), todo{Title: "doomed"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	close(release)
	awaitFlight(t, f)

	items, ok := s.Get(key)
	if !ok {
		t.Fatal("entry must survive rollback when it existed before")
	}
	if diff := cmp.Diff(before, items); diff != "" {
		t.Errorf("cache after rollback (-want +got):\n%s", diff)
	}
	if f.Phase() != PhaseRolledBack {
		t.Errorf("flight phase = %v, want rolled_back", f.Phase())
	}

	var terr *TransportError
	if !errors.As(f.Err(), &terr) {
		t.Fatalf("flight error %v is not a *TransportError", f.Err())
	}
	if !errors.Is(f.Err(), writeErr) {
		t.Error("flight error should wrap the writer's error")
	}
	if !errors.Is(m.Err(), writeErr) {
		t.Error("mutation error slot should hold the rollback error")
	}
}

func TestSubmitEmptyEntryRevertsToEmpty(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	s.Set(key, func([]todo) []todo { return []todo{} })

	release := make(chan struct{})
	m := NewMutation(s, key, gatedWriter(release, todo{}, errors.New("boom")))

	f, _ := m.Submit(context.Background(), todo{Title: "buy milk"})
	close(release)
	awaitFlight(t, f)

	items, ok := s.Get(key)
	if !ok {
		t.Fatal("pre-existing empty entry must survive rollback")
	}
	if len(items) != 0 {
		t.Errorf("expected empty entry after rollback, got %v", items)
	}
}

func TestSubmitMissingEntryInitializesAndRollbackRemoves(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}

	release := make(chan struct{})
	m := NewMutation(s, key, gatedWriter(release, todo{}, errors.New("boom")))

	item := todo{Title: "buy milk"}
	f, _ := m.Submit(context.Background(), item)

	// Missing entry is initialized to a single-element sequence.
	items, ok := s.Get(key)
	if !ok || len(items) != 1 || items[0] != item {
		t.Fatalf("expected single-element entry, got %v (ok=%v)", items, ok)
	}

	close(release)
	awaitFlight(t, f)

	// Rollback of a submission that created the entry removes it again.
	if s.Contains(key) {
		t.Error("entry should be gone after rollback")
	}
}

func TestInterleavedSubmissions(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	s.Set(key, func([]todo) []todo { return []todo{} })

	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	canonicalA := todo{ID: 41, Title: "alpha"}
	mA := NewMutation(s, key, gatedWriter(releaseA, canonicalA, nil))
	mB := NewMutation(s, key, gatedWriter(releaseB, todo{}, errors.New("rejected")))

	fA, _ := mA.Submit(context.Background(), todo{Title: "alpha"})
	fB, _ := mB.Submit(context.Background(), todo{Title: "beta"})

	items, _ := s.Get(key)
	if len(items) != 2 || items[0].Title != "beta" || items[1].Title != "alpha" {
		t.Fatalf("expected [beta alpha] while both in flight, got %v", items)
	}

	// B fails first: only B's item may disappear.
	close(releaseB)
	awaitFlight(t, fB)
	items, _ = s.Get(key)
	if diff := cmp.Diff([]todo{{Title: "alpha"}}, items); diff != "" {
		t.Errorf("cache after B's rollback (-want +got):\n%s", diff)
	}

	// A succeeds afterwards and reconciles its own item.
	close(releaseA)
	awaitFlight(t, fA)
	items, _ = s.Get(key)
	if diff := cmp.Diff([]todo{canonicalA}, items); diff != "" {
		t.Errorf("cache after A's reconcile (-want +got):\n%s", diff)
	}
}

func TestSubmitValidationFailsSynchronously(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}

	wantErr := errors.New("title required")
	m := NewMutation(s, key, func(ctx context.Context, item todo) (todo, error) {
		t.Error("writer must not be called for invalid items")
		return item, nil
	}).Validate(func(item todo) error {
		if item.Title == "" {
			return wantErr
		}
		return nil
	})

	f, err := m.Submit(context.Background(), todo{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Submit error = %v, want %v", err, wantErr)
	}
	if f != nil {
		t.Error("no flight should be returned for a rejected item")
	}
	if s.Contains(key) {
		t.Error("cache must be untouched by a rejected submission")
	}
}

func TestReconcileIdentityCollisionLastWriteWins(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	// A stale copy of id 42 is already cached.
	s.Set(key, func([]todo) []todo {
		return []todo{{ID: 42, Title: "stale copy"}}
	})

	release := make(chan struct{})
	canonical := todo{ID: 42, Title: "fresh"}
	m := NewMutation(s, key, gatedWriter(release, canonical, nil)).
		Identity(func(item todo) any { return item.ID })

	f, _ := m.Submit(context.Background(), todo{ID: 0, Title: "fresh"})
	close(release)
	awaitFlight(t, f)

	items, _ := s.Get(key)
	if diff := cmp.Diff([]todo{canonical}, items); diff != "" {
		t.Errorf("expected the reconciled item to win the identity collision (-want +got):\n%s", diff)
	}
}

func TestReconcileAfterRefetchLeavesEntryUntouched(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}
	s.Set(key, func([]todo) []todo { return []todo{} })

	release := make(chan struct{})
	canonical := todo{ID: 42, Title: "buy milk"}
	m := NewMutation(s, key, gatedWriter(release, canonical, nil)).
		Identity(func(item todo) any { return item.ID })

	f, err := m.Submit(context.Background(), todo{ID: 0, Title: "buy milk"})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// A full refetch lands while the write is still in flight and
	// replaces the entry, placeholder included, with the server's
	// state.
	refetched := []todo{canonical}
	s.Set(key, func([]todo) []todo { return refetched })

	close(release)
	awaitFlight(t, f)

	// The placeholder is gone, so reconciliation has nothing to swap;
	// the server's item must still be there.
	items, ok := s.Get(key)
	if !ok {
		t.Fatal("entry vanished after reconcile")
	}
	if diff := cmp.Diff(refetched, items); diff != "" {
		t.Errorf("cache after reconcile (-want +got):\n%s", diff)
	}
	if f.Phase() != PhaseReconciled {
		t.Errorf("flight phase = %v, want reconciled", f.Phase())
	}
}

func TestSubmitCallbacks(t *testing.T) {
	s := NewStore[todo]()
	defer s.Close()
	key := Key{"items"}

	reconciled := make(chan todo, 1)
	m := NewMutation(s, key, func(ctx context.Context, item todo) (todo, error) {
		item.ID = 1
		return item, nil
	}).OnReconcile(func(item todo) {
		reconciled <- item
	})

	if _, err := m.Submit(context.Background(), todo{Title: "x"}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	select {
	case item := <-reconciled:
		if item.ID != 1 {
			t.Errorf("OnReconcile got %v, want canonical item", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for OnReconcile")
	}
}
