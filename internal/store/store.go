// Package store implements the atomic on-disk entry protocol: staged
// temp-directory writes, fsync, backup-rename, final-rename, and
// backup-delete, with rollback on any step's failure, guarded by the
// two-level lock discipline in internal/lock. The final rename is the
// linearisation point: before it readers see the old entry or nothing,
// after it they see the new entry.
package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbcom/buildcache/internal/cachekey"
	"github.com/jbcom/buildcache/internal/cerr"
	"github.com/jbcom/buildcache/internal/lock"
	"github.com/jbcom/buildcache/internal/metrics"
)

// Store owns the filesystem root and the lock table every Put/Get/Delete
// serializes through.
type Store struct {
	root    string
	table   *lock.Table
	metrics metrics.Sink
	logger  *zap.Logger
}

// New constructs a Store rooted at root. table is shared with any other
// collaborator (e.g. the eviction engine) that must take the same per-key
// locks.
func New(root string, table *lock.Table, sink metrics.Sink, logger *zap.Logger) *Store {
	return &Store{root: root, table: table, metrics: sink, logger: logger}
}

// Put stages e in a fresh tmp_* directory, fsyncs it, and publishes it to
// key's final directory via backup-rename -> final-rename -> backup-delete.
// If a prior entry already occupies the final directory, it is preserved as
// backup_* until the new entry is durably in place, and restored on any
// failure after the backup-rename step.
func (s *Store) Put(ctx context.Context, key cachekey.CacheKey, e Entry, buildTime time.Duration) error {
	start := time.Now()

	finalDir := key.ToPath(s.root)
	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return cerr.Wrap("store.Put", key.String(), err)
	}

	h, err := lock.AcquireExclusive(ctx, s.table, key.String(), paths(finalDir).lock)
	if err != nil {
		return cerr.Wrap("store.Put", key.String(), err)
	}
	defer h.Release()

	if err := s.atomicPublish(key, parent, finalDir, e); err != nil {
		s.metrics.IncError()
		return err
	}

	size, _ := dirSize(finalDir)
	s.metrics.IncWrite(key.Stage(), size, time.Since(start))
	if buildTime > 0 {
		s.metrics.ObserveBuildTime(key.Stage(), buildTime)
	}
	return nil
}

func (s *Store) atomicPublish(key cachekey.CacheKey, parent, finalDir string, e Entry) error {
	tmpDir := filepath.Join(parent, tmpPrefix+uuid.NewString())
	if err := writeEntry(tmpDir, e); err != nil {
		_ = os.RemoveAll(tmpDir)
		return cerr.Wrap("store.atomicPublish.stage", key.String(), err)
	}

	if _, err := os.Stat(finalDir); err == nil {
		backupDir := filepath.Join(parent, backupPrefix+uuid.NewString())
		if err := os.Rename(finalDir, backupDir); err != nil {
			_ = os.RemoveAll(tmpDir)
			return cerr.Wrap("store.atomicPublish.backup", key.String(), err)
		}
		if err := os.Rename(tmpDir, finalDir); err != nil {
			// Roll back: restore the previous entry, discard the staged one.
			if rerr := os.Rename(backupDir, finalDir); rerr != nil {
				s.logger.Error("atomic publish rollback failed",
					zap.String("key", key.String()), zap.Error(rerr))
			}
			_ = os.RemoveAll(tmpDir)
			return cerr.Wrap("store.atomicPublish.rename", key.String(), cerr.ErrAtomicPublishFailed)
		}
		if err := os.RemoveAll(backupDir); err != nil {
			s.logger.Warn("failed to remove backup directory after publish",
				zap.String("key", key.String()), zap.Error(err))
		}
		return nil
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return cerr.Wrap("store.atomicPublish.rename", key.String(), cerr.ErrAtomicPublishFailed)
	}
	return nil
}

// Get reads key's entry if present. A missing data file is a plain miss
// (found=false, err=nil); a present-but-unreadable entry is corruption:
// Get repair-deletes it and returns cerr.ErrCorrupt, resolving the "what
// should a reader do about an entry it can't parse" open question in favor
// of eager cleanup on first sighting rather than leaving it for the next
// eviction pass.
func (s *Store) Get(ctx context.Context, key cachekey.CacheKey) (Entry, bool, error) {
	start := time.Now()
	finalDir := key.ToPath(s.root)
	p := paths(finalDir)

	if !p.exists() {
		s.metrics.IncMiss(key.Stage())
		return Entry{}, false, nil
	}

	h := lock.AcquireShared(s.table, key.String())
	defer h.Release()

	if !p.exists() {
		s.metrics.IncMiss(key.Stage())
		return Entry{}, false, nil
	}

	e, err := readEntry(finalDir)
	if err != nil {
		s.metrics.IncError()
		s.logger.Warn("corrupt entry detected, repair-deleting",
			zap.String("key", key.String()), zap.Error(err))
		_ = os.RemoveAll(finalDir)
		return Entry{}, false, cerr.Wrap("store.Get", key.String(), cerr.ErrCorrupt)
	}

	_ = touchAccess(p)
	size, _ := dirSize(finalDir)
	s.metrics.IncHit(key.Stage())
	s.metrics.IncRead(key.Stage(), size, time.Since(start))
	_ = ctx
	return e, true, nil
}

// Delete removes key's entire entry directory if present.
func (s *Store) Delete(ctx context.Context, key cachekey.CacheKey) error {
	finalDir := key.ToPath(s.root)
	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return cerr.Wrap("store.Delete", key.String(), err)
	}

	h, err := lock.AcquireExclusive(ctx, s.table, key.String(), paths(finalDir).lock)
	if err != nil {
		return cerr.Wrap("store.Delete", key.String(), err)
	}
	defer h.Release()

	if err := os.RemoveAll(finalDir); err != nil {
		return cerr.Wrap("store.Delete", key.String(), err)
	}
	return nil
}

// LastAccess returns the last recorded access time for key's entry.
func (s *Store) LastAccess(key cachekey.CacheKey) (time.Time, error) {
	return readAccess(paths(key.ToPath(s.root)))
}

// Size returns the total on-disk size of key's entry.
func (s *Store) Size(key cachekey.CacheKey) (int64, error) {
	return dirSize(key.ToPath(s.root))
}

// Root returns the store's filesystem root, used by callers (the eviction
// walker, the index builder) that need to enumerate entries directly.
func (s *Store) Root() string { return s.root }
