package evict

import (
	"testing"
	"time"

	"github.com/jbcom/buildcache/internal/cachekey"
)

func mustKey(t *testing.T, scope, fingerprint string, stage cachekey.Stage) cachekey.CacheKey {
	t.Helper()
	k, err := cachekey.New(scope, fingerprint, stage)
	if err != nil {
		t.Fatalf("cachekey.New: %v", err)
	}
	return k
}

func fp(b byte) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = "0123456789abcdef"[b%16]
	}
	return string(out)
}

func TestBatchSizeScalesWithUtilization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinEvictionBatchSize = 5
	cfg.MaxEvictionBatchSize = 100

	if got := batchSize(cfg, 96, 1000); got != cfg.MaxEvictionBatchSize {
		t.Fatalf("above 95%%: got %d, want %d", got, cfg.MaxEvictionBatchSize)
	}
	if got := batchSize(cfg, 92, 300); got != 50 {
		t.Fatalf("90-95%% with a third over cap: got %d, want 50", got)
	}
	if got := batchSize(cfg, 92, 12); got != cfg.MinEvictionBatchSize {
		t.Fatalf("90-95%% with a third below minimum: got %d, want %d", got, cfg.MinEvictionBatchSize)
	}
	if got := batchSize(cfg, 60, 1000); got != cfg.MinEvictionBatchSize {
		t.Fatalf("below 90%%: got %d, want %d", got, cfg.MinEvictionBatchSize)
	}
}

func TestPriorityPenalizesRecentAccess(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	stale := Candidate{
		Key:        mustKey(t, "compilation", fp(1), cachekey.StageCode),
		SizeBytes:  1 << 20,
		CreatedAt:  now.Add(-48 * time.Hour),
		AccessTime: now.Add(-48 * time.Hour),
	}
	recent := stale
	recent.Key = mustKey(t, "compilation", fp(2), cachekey.StageCode)
	recent.AccessTime = now

	staleScore := priority(stale, cfg, now)
	recentScore := priority(recent, cfg, now)

	if !(staleScore.priority > recentScore.priority) {
		t.Fatalf("expected the stale entry to rank above the recently-accessed one: stale=%.3f recent=%.3f",
			staleScore.priority, recentScore.priority)
	}
	if !recentScore.isRecent {
		t.Fatal("expected the just-accessed entry to be flagged isRecent")
	}
}

func TestPriorityWeighsStageImportance(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	cheap := Candidate{
		Key:        mustKey(t, "compilation", fp(3), cachekey.StageWeb),
		SizeBytes:  1 << 20,
		CreatedAt:  now.Add(-2 * time.Hour),
		AccessTime: now.Add(-2 * time.Hour),
	}
	costly := cheap
	costly.Key = mustKey(t, "compilation", fp(4), cachekey.StageInputs)

	cheapScore := priority(cheap, cfg, now)
	costlyScore := priority(costly, cfg, now)

	// A stage with higher StageImportance has a smaller importanceFactor
	// (1/importance), so all else equal it ranks lower priority (evicted
	// later) than a less-important stage.
	if !(cheapScore.priority > costlyScore.priority) {
		t.Fatalf("expected web-stage entry to outrank inputs-stage entry for eviction: web=%.3f inputs=%.3f",
			cheapScore.priority, costlyScore.priority)
	}
}

func TestSelectPrefersAgedEntriesRegardlessOfPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntryAge = 24 * time.Hour
	cfg.MinAccessInterval = 0
	cfg.MinEvictionBatchSize = 4
	cfg.MaxEvictionBatchSize = 4
	now := time.Now()

	// Aged but small and high-importance (normally cheap to keep).
	aged := Candidate{
		Key:        mustKey(t, "compilation", fp(10), cachekey.StageInputs),
		SizeBytes:  1024,
		CreatedAt:  now.Add(-72 * time.Hour),
		AccessTime: now.Add(-72 * time.Hour),
	}
	// Fresh but huge and low-importance (normally the first evicted by
	// priority alone).
	huge := Candidate{
		Key:        mustKey(t, "compilation", fp(11), cachekey.StageWeb),
		SizeBytes:  100 << 20,
		CreatedAt:  now.Add(-1 * time.Hour),
		AccessTime: now.Add(-1 * time.Hour),
	}

	selected := Select([]Candidate{aged, huge}, cfg, 96, 1<<30, now)

	foundAged := false
	for _, c := range selected {
		if c.Key == aged.Key {
			foundAged = true
		}
	}
	if !foundAged {
		t.Fatal("expected the aged entry to be selected via the phase-one aged pass regardless of its low priority score")
	}
}

func TestSelectShieldsRecentlyAccessedEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntryAge = 365 * 24 * time.Hour // disable age-based eviction
	cfg.MinAccessInterval = time.Hour
	cfg.MinEvictionBatchSize = 10
	cfg.MaxEvictionBatchSize = 10
	now := time.Now()

	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, Candidate{
			Key:        mustKey(t, "compilation", fp(byte(20+i)), cachekey.StageCode),
			SizeBytes:  1 << 20,
			CreatedAt:  now.Add(-10 * time.Hour),
			AccessTime: now, // accessed moments ago, inside MinAccessInterval
		})
	}

	selected := Select(candidates, cfg, 96, 1<<30, now)
	if len(selected) != 0 {
		t.Fatalf("expected recently-accessed entries to be shielded from phase two, got %d selected", len(selected))
	}
}

func TestSelectIsDeterministicOnExactTies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntryAge = 365 * 24 * time.Hour
	cfg.MinAccessInterval = 0
	cfg.MinEvictionBatchSize = 3
	cfg.MaxEvictionBatchSize = 3
	now := time.Now()
	sameAccess := now.Add(-2 * time.Hour)

	var candidates []Candidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates, Candidate{
			Key:        mustKey(t, "compilation", fp(byte(60+i)), cachekey.StageCode),
			SizeBytes:  1 << 20,
			CreatedAt:  sameAccess,
			AccessTime: sameAccess, // identical priority score for every candidate
		})
	}

	first := Select(candidates, cfg, 92, 1<<30, now)
	second := Select(candidates, cfg, 92, 1<<30, now)

	if len(first) != len(second) {
		t.Fatalf("non-deterministic batch size: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Fatalf("non-deterministic tie-break ordering at index %d: %v vs %v", i, first[i].Key, second[i].Key)
		}
	}

	// The lexicographically smallest key among the tied candidates must be
	// selected first.
	smallest := candidates[0].Key.String()
	for _, c := range candidates[1:] {
		if c.Key.String() < smallest {
			smallest = c.Key.String()
		}
	}
	if len(first) > 0 && first[0].Key.String() != smallest {
		t.Fatalf("expected the lexicographically smallest key %q to sort first among ties, got %v", smallest, first[0].Key)
	}
}

func TestSelectStopsAtTargetBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntryAge = 365 * 24 * time.Hour
	cfg.MinAccessInterval = 0
	cfg.MinEvictionBatchSize = 2
	cfg.MaxEvictionBatchSize = 50
	now := time.Now()

	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{
			Key:        mustKey(t, "compilation", fp(byte(40+i)), cachekey.StageCode),
			SizeBytes:  1 << 20, // 1 MiB each
			CreatedAt:  now.Add(-2 * time.Hour),
			AccessTime: now.Add(-2 * time.Hour),
		})
	}

	selected := Select(candidates, cfg, 92, 3<<20, now) // target exactly 3 MiB
	var total int64
	for _, c := range selected {
		total += c.SizeBytes
	}
	if total < 3<<20 {
		t.Fatalf("expected at least the target bytes removed, removed %d", total)
	}
	if len(selected) > cfg.MaxEvictionBatchSize {
		t.Fatalf("selected batch %d exceeds MaxEvictionBatchSize %d", len(selected), cfg.MaxEvictionBatchSize)
	}
}
