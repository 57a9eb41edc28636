// Package lock implements the two-level concurrency discipline required by
// an entry's lifecycle: a process-wide table guards lazy creation of one
// sync.RWMutex per key (so same-process readers parallelize and same-process
// writers serialize without ever touching the filesystem), and a per-key
// advisory syscall.Flock file lock extends that same exclusion across
// processes. Acquisition always proceeds table -> in-process lock -> file
// lock, and a caller holds at most one key's locks at a time, which is what
// rules out the lock-order cycles a naive per-key map of mutexes + files
// could otherwise produce.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jbcom/buildcache/internal/cerr"
)

type keyLock struct {
	mu       sync.RWMutex
	refCount int
}

// Table is the process-wide registry of per-key in-process locks. The zero
// value is not usable; construct with NewTable.
type Table struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewTable constructs an empty lock table.
func NewTable() *Table {
	return &Table{locks: make(map[string]*keyLock)}
}

func (t *Table) acquire(key string, exclusive bool) *keyLock {
	t.mu.Lock()
	kl, ok := t.locks[key]
	if !ok {
		kl = &keyLock{}
		t.locks[key] = kl
	}
	kl.refCount++
	t.mu.Unlock()

	if exclusive {
		kl.mu.Lock()
	} else {
		kl.mu.RLock()
	}
	return kl
}

func (t *Table) release(key string, kl *keyLock, exclusive bool) {
	if exclusive {
		kl.mu.Unlock()
	} else {
		kl.mu.RUnlock()
	}

	t.mu.Lock()
	kl.refCount--
	if kl.refCount == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// Handle represents a held lock (in-process, and optionally a cross-process
// file lock) on one key. Release must be called exactly once.
type Handle struct {
	table     *Table
	key       string
	kl        *keyLock
	exclusive bool
	file      *os.File
}

// Release unwinds the file lock (if held) and the in-process lock, in the
// reverse order of acquisition.
func (h *Handle) Release() {
	if h.file != nil {
		_ = syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN)
		_ = h.file.Close()
		h.file = nil
	}
	h.table.release(h.key, h.kl, h.exclusive)
}

// AcquireExclusive takes the in-process write lock and then the
// cross-process advisory file lock for key, retrying the file lock until
// ctx is done. lockFilePath is typically the entry's .lock sibling.
func AcquireExclusive(ctx context.Context, table *Table, key, lockFilePath string) (*Handle, error) {
	kl := table.acquire(key, true)

	f, err := lockFile(ctx, lockFilePath)
	if err != nil {
		table.release(key, kl, true)
		return nil, err
	}

	return &Handle{table: table, key: key, kl: kl, exclusive: true, file: f}, nil
}

// AcquireShared takes the in-process read lock for key. Reads do not take
// the cross-process file lock: a writer's exclusive flock already excludes
// concurrent readers in other processes from observing a half-written
// entry, and in-process readers are already serialized against the
// in-process writer by the RWMutex.
func AcquireShared(table *Table, key string) *Handle {
	kl := table.acquire(key, false)
	return &Handle{table: table, key: key, kl: kl, exclusive: false}
}

// lockFile opens (creating if necessary) and exclusively flocks path,
// retrying with backoff until ctx is done. Unlike a bare non-blocking
// attempt, this lets a Get/Put bounded by a deadline queue behind a slow
// eviction pass instead of failing the first time it loses a race.
func lockFile(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, cerr.Wrap("lock.open", "", err)
	}

	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			_ = f.Close()
			return nil, cerr.Wrap("lock.flock", "", err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, cerr.Wrap("lock.flock", "", fmt.Errorf("%w: %v", cerr.ErrLockTimeout, ctx.Err()))
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
