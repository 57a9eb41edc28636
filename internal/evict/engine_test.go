package evict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jbcom/buildcache/internal/cachekey"
	"github.com/jbcom/buildcache/internal/lock"
	"github.com/jbcom/buildcache/internal/metrics"
	"github.com/jbcom/buildcache/internal/store"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), lock.NewTable(), metrics.NewNoopSink(), zap.NewNop())
	return NewEngine(cfg, st, nil, metrics.NewNoopSink(), zap.NewNop()), st
}

func seedEntries(t *testing.T, st *store.Store, n int, payloadSize int) []cachekey.CacheKey {
	t.Helper()
	ctx := context.Background()
	payload := make([]byte, payloadSize)
	keys := make([]cachekey.CacheKey, 0, n)
	for i := 0; i < n; i++ {
		key := mustKey(t, "compilation", fmt.Sprintf("%064x", i), cachekey.StageAssets)
		if err := st.Put(ctx, key, store.Entry{Data: payload}, 0); err != nil {
			t.Fatalf("seed Put %d: %v", i, err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestForceCleanupDrivesUtilizationToTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSizeBytes = 1 << 20
	cfg.CleanupThresholdPercent = 80
	cfg.TargetUtilizationPercent = 40
	cfg.MinAccessInterval = 0

	e, st := newTestEngine(t, cfg)
	seedEntries(t, st, 10, 100<<10)

	report, err := e.ForceCleanup(context.Background(), 0)
	if err != nil {
		t.Fatalf("ForceCleanup: %v", err)
	}
	if report.EntriesRemoved == 0 {
		t.Fatal("expected at least one entry removed")
	}
	if report.UtilizationAfter >= report.UtilizationBefore {
		t.Fatalf("utilization did not drop: before %.1f%%, after %.1f%%",
			report.UtilizationBefore, report.UtilizationAfter)
	}
	if report.BytesRemoved == 0 {
		t.Fatal("report should account for removed bytes")
	}
	if report.PerStageRemoved[cachekey.StageAssets] != report.EntriesRemoved {
		t.Fatalf("per-stage breakdown %v does not sum to %d entries",
			report.PerStageRemoved, report.EntriesRemoved)
	}
}

func TestMaybeCleanupDoesNothingBelowAllTriggers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSizeBytes = 1 << 30 // seeded entries are a rounding error

	e, st := newTestEngine(t, cfg)
	seedEntries(t, st, 3, 1024)

	_, ran, err := e.MaybeCleanup(context.Background())
	if err != nil {
		t.Fatalf("MaybeCleanup: %v", err)
	}
	if ran {
		t.Fatal("no trigger fired, yet a pass ran")
	}
	if got := e.State(); got != StateIdle {
		t.Fatalf("state = %d, want Idle", got)
	}
}

func TestMaybeCleanupFiresOnSizeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSizeBytes = 1 << 20
	cfg.CleanupThresholdPercent = 50
	cfg.TargetUtilizationPercent = 20
	cfg.MinAccessInterval = 0

	e, st := newTestEngine(t, cfg)
	seedEntries(t, st, 10, 100<<10) // 1000 KiB of payload, ~1.33 MB once base64-encoded on disk: above a 1 MiB cap

	report, ran, err := e.MaybeCleanup(context.Background())
	if err != nil {
		t.Fatalf("MaybeCleanup: %v", err)
	}
	if !ran {
		t.Fatal("size threshold breached, yet no pass ran")
	}
	if report.EntriesRemoved == 0 {
		t.Fatal("expected the pass to remove entries")
	}
}

func TestEngineCoolsDownThenReturnsToIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSizeBytes = 1 << 20
	cfg.MinAccessInterval = 0

	e, st := newTestEngine(t, cfg)
	seedEntries(t, st, 4, 64<<10)

	if _, err := e.ForceCleanup(context.Background(), 10); err != nil {
		t.Fatalf("ForceCleanup: %v", err)
	}
	if got := e.State(); got != StateCooldown {
		t.Fatalf("state immediately after a pass = %d, want Cooldown", got)
	}

	deadline := time.Now().Add(5 * cooldownDebounce)
	for e.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("engine never debounced back to Idle")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConcurrentForceCleanupsCoalesce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSizeBytes = 1 << 20
	cfg.MinAccessInterval = 0

	e, st := newTestEngine(t, cfg)
	seedEntries(t, st, 20, 50<<10)

	const workers = 8
	results := make(chan int, workers)
	for i := 0; i < workers; i++ {
		go func() {
			report, err := e.ForceCleanup(context.Background(), 10)
			if err != nil {
				results <- -1
				return
			}
			results <- report.EntriesRemoved
		}()
	}

	passesThatRemoved := 0
	for i := 0; i < workers; i++ {
		n := <-results
		if n < 0 {
			t.Fatal("ForceCleanup returned an error")
		}
		if n > 0 {
			passesThatRemoved++
		}
	}
	// All but the winning pass either coalesced into the pending flag
	// (empty report) or found nothing left to remove.
	if passesThatRemoved == 0 {
		t.Fatal("no pass removed anything")
	}

	entries, err := st.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	for _, info := range entries {
		if info.SizeBytes == 0 {
			t.Fatalf("entry %s left half-removed", fmt.Sprint(info.Key))
		}
	}
}
