package swr

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInactivityWindow is how long an unobserved entry may stay in
// the store before the sweeper evicts it.
const DefaultInactivityWindow = 5 * time.Minute

// defaultSweepInterval is how often the sweeper scans for evictable
// entries.
const defaultSweepInterval = time.Minute

// storeConfig holds Store configuration assembled from options.
type storeConfig struct {
	inactivityWindow time.Duration
	sweepInterval    time.Duration
	logger           *slog.Logger
	registry         prometheus.Registerer
	namespace        string
}

// defaultStoreConfig returns the default store configuration.
func defaultStoreConfig() storeConfig {
	return storeConfig{
		inactivityWindow: DefaultInactivityWindow,
		sweepInterval:    defaultSweepInterval,
		logger:           slog.Default(),
		namespace:        "swr",
	}
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

// WithInactivityWindow sets how long an entry with no subscribers is
// kept before eviction. Zero or negative disables eviction.
func WithInactivityWindow(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.inactivityWindow = d
	}
}

// WithSweepInterval sets how often the store scans for evictable
// entries.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithLogger sets the logger used by the store and everything built on
// top of it.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers Prometheus metrics with the given registerer.
// Metrics are disabled when this option is not supplied, so tests can
// construct as many stores as they like without registration conflicts.
func WithMetrics(registry prometheus.Registerer) StoreOption {
	return func(c *storeConfig) {
		c.registry = registry
	}
}

// WithMetricsNamespace sets the metrics namespace (default: "swr").
func WithMetricsNamespace(namespace string) StoreOption {
	return func(c *storeConfig) {
		if namespace != "" {
			c.namespace = namespace
		}
	}
}
