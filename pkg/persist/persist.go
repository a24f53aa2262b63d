// Package persist stores cache entries outside the process so a
// restart can warm the cache instead of starting cold. Backends are
// byte-oriented; the generic helpers in this file handle the JSON
// encoding and the store wiring.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-dev/swr/pkg/swr"
)

// Persister saves and loads one serialized collection per key.
type Persister interface {
	// Save stores data under key, replacing any previous value.
	Save(ctx context.Context, key swr.Key, data []byte) error

	// Load returns the data stored under key. The second return value
	// is false when nothing is stored.
	Load(ctx context.Context, key swr.Key) ([]byte, bool, error)

	// Delete removes the data stored under key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key swr.Key) error
}

// objectKey is the storage path for a key. Segments are joined with
// "/" for readable bolt keys and S3 paths; key segments must therefore
// not contain "/" themselves.
func objectKey(key swr.Key) string {
	return strings.Join(key, "/")
}

// SaveItems JSON-encodes items and stores them under key.
func SaveItems[T any](ctx context.Context, p Persister, key swr.Key, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", key, err)
	}
	return p.Save(ctx, key, data)
}

// LoadItems loads and decodes the collection stored under key. The
// second return value is false when nothing is stored.
func LoadItems[T any](ctx context.Context, p Persister, key swr.Key) ([]T, bool, error) {
	data, ok, err := p.Load(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("persist: decode %s: %w", key, err)
	}
	return items, true, nil
}

// Restore loads the persisted collection for key into the store,
// replacing whatever the entry holds. It reports whether anything was
// restored. The restored entry is marked stale so the next query still
// refetches; persisted data is a warm start, not a source of truth.
func Restore[T any](ctx context.Context, p Persister, store *swr.Store[T], key swr.Key) (bool, error) {
	items, ok, err := LoadItems[T](ctx, p, key)
	if err != nil || !ok {
		return false, err
	}
	store.Set(key, func([]T) []T { return items })
	store.Invalidate(key)
	return true, nil
}

// Mirror subscribes to key and persists the entry after every change;
// a deletion removes the persisted value too. It returns the
// subscription's cancel function. Persistence errors are logged, never
// escalated: the cache keeps working without its mirror.
func Mirror[T any](ctx context.Context, p Persister, store *swr.Store[T], key swr.Key, logger *slog.Logger) (cancel func()) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persist_mirror", "key", key.String())

	return store.Subscribe(key, func(items []T) {
		var err error
		if items == nil {
			err = p.Delete(ctx, key)
		} else {
			err = SaveItems(ctx, p, key, items)
		}
		if err != nil {
			logger.Warn("mirror write failed", "error", err)
		}
	})
}
