package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbcom/buildcache/internal/cerr"
)

func TestAcquireExclusiveSerializesWriters(t *testing.T) {
	table := NewTable()
	lockPath := filepath.Join(t.TempDir(), "entry.lock")

	var active atomic.Int32
	var maxActive atomic.Int32
	var wg sync.WaitGroup

	const writers = 8
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h, err := AcquireExclusive(ctx, table, "k1", lockPath)
			if err != nil {
				t.Errorf("AcquireExclusive: %v", err)
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			h.Release()
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Fatalf("expected exactly one exclusive holder at a time, observed %d concurrent", maxActive.Load())
	}
}

func TestAcquireSharedAllowsConcurrentReaders(t *testing.T) {
	table := NewTable()

	var active atomic.Int32
	var maxActive atomic.Int32
	var wg sync.WaitGroup

	const readers = 16
	start := make(chan struct{})
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			h := AcquireShared(table, "k1")
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			h.Release()
		}()
	}
	close(start)
	wg.Wait()

	if maxActive.Load() <= 1 {
		t.Fatalf("expected concurrent shared holders, observed max %d", maxActive.Load())
	}
}

func TestAcquireSharedExcludedByExclusiveHolder(t *testing.T) {
	table := NewTable()
	lockPath := filepath.Join(t.TempDir(), "entry.lock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	writer, err := AcquireExclusive(ctx, table, "k1", lockPath)
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}

	readerDone := make(chan struct{})
	go func() {
		h := AcquireShared(table, "k1")
		h.Release()
		close(readerDone)
	}()

	select {
	case <-readerDone:
		t.Fatal("reader acquired the shared lock while the writer still held it")
	case <-time.After(20 * time.Millisecond):
	}

	writer.Release()

	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired the shared lock after the writer released it")
	}
}

func TestAcquireExclusiveHonorsContextDeadline(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "entry.lock")

	tableA := NewTable()
	holder, err := AcquireExclusive(context.Background(), tableA, "k1", lockPath)
	if err != nil {
		t.Fatalf("AcquireExclusive (holder): %v", err)
	}
	defer holder.Release()

	// A distinct Table simulates a second process: the in-process RWMutex
	// in tableA's keyLock is never consulted, so only the flock on
	// lockPath should block the second acquirer.
	tableB := NewTable()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = AcquireExclusive(ctx, tableB, "k1", lockPath)
	if err == nil {
		t.Fatal("expected a timeout error while the first holder retains the flock")
	}
	if !errors.Is(err, cerr.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
