package buildcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jbcom/buildcache/internal/evict"
	"github.com/jbcom/buildcache/internal/metrics"
)

// EvictionConfig holds the ten recognised eviction knobs, each with a
// documented default. Aliased from internal/evict so the eviction engine
// and the public Cache agree on a single concrete type.
type EvictionConfig = evict.Config

// CleanupReport summarizes one completed eviction pass, as returned by
// ForceCleanup and RecentEvictions. Aliased from internal/evict so the
// engine's own report type is nameable by external callers.
type CleanupReport = evict.Report

// defaultEvictionConfig returns the documented defaults.
func defaultEvictionConfig() EvictionConfig { return evict.DefaultConfig() }

// Config is the owned, explicit configuration of a Cache, constructed via
// New and a chain of Options. There is no global singleton: every Cache
// is an object with its own lifecycle, shared only by handle passing.
type Config struct {
	Root     string
	Eviction EvictionConfig

	logger  *zap.Logger
	metrics metrics.Sink

	// indexPath overrides where the Badger accelerator index lives;
	// empty means "<Root>/.index", set by WithIndexPath.
	indexPath string
	// disableIndex skips opening the Badger index entirely, falling back
	// to a full filesystem walk for every eviction pass.
	disableIndex bool
}

// Option configures a Cache at construction time.
type Option func(*Config)

// WithLogger attaches structured logging. The default is a no-op logger;
// the cache never logs on a successful hot path, only on rollbacks,
// corruption, and eviction passes.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithMetrics attaches a Prometheus registry. The default is a no-op sink
// that still accumulates in-memory stats for Stats/HealthReport.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) { c.metrics = metrics.NewPromSink(reg) }
}

// WithEviction overrides the default eviction configuration.
func WithEviction(ec EvictionConfig) Option {
	return func(c *Config) { c.Eviction = ec }
}

// WithIndexPath overrides the directory the Badger accelerator index is
// stored in. Default is "<Root>/.index".
func WithIndexPath(path string) Option {
	return func(c *Config) { c.indexPath = path }
}

// WithoutIndex disables the Badger accelerator index entirely; the
// eviction engine falls back to walking the filesystem on every pass. Only
// useful for small caches or tests where standing up Badger is unwanted.
func WithoutIndex() Option {
	return func(c *Config) { c.disableIndex = true }
}

var errInvalidRoot = errors.New("buildcache: cache_root must not be empty")

func defaultConfig(root string) Config {
	return Config{
		Root:     root,
		Eviction: defaultEvictionConfig(),
		logger:   zap.NewNop(),
		metrics:  metrics.NewNoopSink(),
	}
}

func applyOptions(root string, opts []Option) (Config, error) {
	cfg := defaultConfig(root)
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Root == "" {
		return Config{}, errInvalidRoot
	}
	if err := cfg.Eviction.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewNoopSink()
	}
	return cfg, nil
}
