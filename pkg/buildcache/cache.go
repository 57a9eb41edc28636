// Package buildcache implements the multi-stage, content-addressable
// build cache: fingerprinting, staged on-disk storage, atomic publication,
// concurrency-safe reads/writes, and size/age/recency-bounded eviction.
// Cache is the single entry point a host process constructs and owns;
// there is no package-level singleton.
package buildcache

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jbcom/buildcache/internal/cerr"
	"github.com/jbcom/buildcache/internal/evict"
	"github.com/jbcom/buildcache/internal/index"
	"github.com/jbcom/buildcache/internal/lock"
	"github.com/jbcom/buildcache/internal/metrics"
	"github.com/jbcom/buildcache/internal/store"
)

// Cache owns one cache_root directory: its lock table, its Badger
// accelerator index (unless disabled), and its background eviction engine.
type Cache struct {
	cfg     Config
	store   *store.Store
	table   *lock.Table
	idx     *index.Index
	engine  *evict.Engine
	metrics metrics.Sink
	logger  *zap.Logger

	group  loaderGroup
	cancel context.CancelFunc

	opsSinceExport atomic.Int64
}

// New constructs a Cache rooted at root, sweeping any orphaned tmp_*/
// backup_* directories left behind by a prior crashed process, opening the
// accelerator index (unless WithoutIndex was passed), and starting the
// background eviction loop.
func New(root string, opts ...Option) (*Cache, error) {
	cfg, err := applyOptions(root, opts)
	if err != nil {
		return nil, err
	}

	if err := store.Sweep(cfg.Root, cfg.logger); err != nil {
		return nil, cerr.Wrap("buildcache.New", "", err)
	}

	table := lock.NewTable()
	st := store.New(cfg.Root, table, cfg.metrics, cfg.logger)

	var idx *index.Index
	if !cfg.disableIndex {
		indexPath := cfg.indexPath
		if indexPath == "" {
			indexPath = filepath.Join(cfg.Root, ".index")
		}
		idx, err = index.Open(indexPath)
		if err != nil {
			return nil, cerr.Wrap("buildcache.New", "", err)
		}
	}

	engine := evict.NewEngine(cfg.Eviction, st, idx, cfg.metrics, cfg.logger)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	return &Cache{
		cfg:     cfg,
		store:   st,
		table:   table,
		idx:     idx,
		engine:  engine,
		metrics: cfg.metrics,
		logger:  cfg.logger,
		cancel:  cancel,
	}, nil
}

// Close stops the background eviction loop and releases the accelerator
// index. It does not remove any on-disk entry.
func (c *Cache) Close() error {
	c.cancel()
	c.engine.Stop()
	c.exportMetrics(context.Background())
	if c.idx != nil {
		return c.idx.Close()
	}
	return nil
}

// Put stores data and metadata under key, publishing it atomically. If an
// entry already occupies key it is fully replaced.
func (c *Cache) Put(ctx context.Context, key CacheKey, data []byte, metadata map[string]any) error {
	return c.PutWithBuildTime(ctx, key, data, metadata, 0)
}

// PutWithBuildTime is Put plus a build-time sample recorded into the
// per-stage EWMA exposed as StatsSnapshot.BuildTimeAvg.
func (c *Cache) PutWithBuildTime(ctx context.Context, key CacheKey, data []byte, metadata map[string]any, buildTime time.Duration) error {
	if err := c.store.Put(ctx, key, store.Entry{Data: data, Metadata: metadata}, buildTime); err != nil {
		return err
	}
	if c.idx != nil {
		size, _ := c.store.Size(key)
		access, _ := c.store.LastAccess(key)
		_ = c.idx.Put(key, index.Record{
			Scope:       key.Scope(),
			Fingerprint: key.Fingerprint(),
			Stage:       string(key.Stage()),
			SizeBytes:   size,
			AccessTime:  access,
			CreatedAt:   access,
		})
	}
	c.maybeExportMetrics(ctx)
	return nil
}

// Get retrieves key's entry. found is false on a miss. A corrupt entry is
// repair-deleted, counted in the errors counter, and reported as a plain
// miss; only I/O and locking failures surface as a non-nil err.
func (c *Cache) Get(ctx context.Context, key CacheKey) (data []byte, metadata map[string]any, found bool, err error) {
	e, found, err := c.store.Get(ctx, key)
	if err != nil {
		if c.idx != nil {
			_ = c.idx.Delete(key)
		}
		c.maybeExportMetrics(ctx)
		if errors.Is(err, cerr.ErrCorrupt) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	if !found {
		c.maybeExportMetrics(ctx)
		return nil, nil, false, nil
	}
	// The store has just touched the on-disk last_access marker; mirror
	// the refreshed instant into the index so index-sourced eviction
	// ranking sees the same recency the fallback walk would.
	if c.idx != nil {
		if access, aerr := c.store.LastAccess(key); aerr == nil {
			_ = c.idx.Touch(key, access)
		}
	}
	c.maybeExportMetrics(ctx)
	return e.Data, e.Metadata, true, nil
}

// Invalidate removes every entry under scope whose fingerprint matches
// pattern, in path.Match syntax. "*" (or an empty pattern) matches every
// fingerprint. It returns the number of entries removed; failures on
// individual entries are skipped, not fatal.
func (c *Cache) Invalidate(ctx context.Context, scope, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	entries, err := c.store.ListEntries()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, info := range entries {
		if info.Key.Scope() != scope {
			continue
		}
		matched, err := path.Match(pattern, info.Key.Fingerprint())
		if err != nil {
			return count, cerr.Wrap("buildcache.Invalidate", info.Key.String(), err)
		}
		if !matched {
			continue
		}
		if err := c.store.Delete(ctx, info.Key); err != nil {
			continue
		}
		if c.idx != nil {
			_ = c.idx.Delete(info.Key)
		}
		count++
	}
	return count, nil
}

// ForceCleanup runs an eviction pass immediately, regardless of the
// configured triggers, targeting targetUtilizationPercent (or the
// configured default when 0).
func (c *Cache) ForceCleanup(ctx context.Context, targetUtilizationPercent float64) (CleanupReport, error) {
	return c.engine.ForceCleanup(ctx, targetUtilizationPercent)
}

// RecordBuildTime records a build_time sample for stage without performing
// a Put, for callers that regenerate a value and only want the timing
// recorded in StatsSnapshot.BuildTimeAvg.
func (c *Cache) RecordBuildTime(stage Stage, buildTime time.Duration) {
	c.metrics.ObserveBuildTime(stage, buildTime)
}

// RecentEvictions returns up to limit of the most recent cleanup reports
// recorded to the accelerator index's eviction ledger, newest first. It
// returns an empty slice, not an error, when the index was disabled via
// WithoutIndex: ledger history is an observability convenience, not part
// of the core contract.
func (c *Cache) RecentEvictions(limit int) ([]CleanupReport, error) {
	return c.engine.RecentReports(limit)
}
