package evict

import (
	"sort"
	"time"

	"github.com/jbcom/buildcache/internal/cachekey"
)

// Candidate is one entry under eviction consideration, sourced from either
// internal/index (the fast path) or internal/store.ListEntries (the
// fallback when the index is unavailable or being rebuilt).
type Candidate struct {
	Key        cachekey.CacheKey
	SizeBytes  int64
	AccessTime time.Time
	CreatedAt  time.Time
}

// scored is a Candidate annotated with the fields the ranking formula and
// batch policy both need.
type scored struct {
	Candidate
	priority float64
	ageHours float64
	isAged   bool
	isRecent bool
}

const sizeFactorDivisor = 10 * 1024 * 1024 // 10 MiB baseline for the size factor

// priority computes an entry's eviction score: higher priority means
// evict sooner. Weighted sum of age (x2.0), size against a 10 MiB
// baseline (x1.0), and the reciprocal of the stage's importance (x1.0),
// minus a flat 10-point shield for recently accessed entries.
func priority(c Candidate, cfg Config, now time.Time) scored {
	ageHours := now.Sub(c.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	maxAgeHours := cfg.MaxEntryAge.Hours()
	if maxAgeHours < 1 {
		maxAgeHours = 1
	}

	isAged := ageHours > cfg.MaxEntryAge.Hours()
	isRecent := now.Sub(c.AccessTime) < cfg.MinAccessInterval

	ageFactor := ageHours / maxAgeHours
	sizeFactor := float64(c.SizeBytes) / sizeFactorDivisor

	importance, ok := cachekey.StageImportance[c.Key.Stage()]
	if !ok || importance == 0 {
		importance = 1.0
	}
	importanceFactor := 1.0 / importance

	recencyPenalty := 0.0
	if isRecent {
		recencyPenalty = -10
	}

	p := ageFactor*2.0 + sizeFactor*1.0 + importanceFactor + recencyPenalty

	return scored{Candidate: c, priority: p, ageHours: ageHours, isAged: isAged, isRecent: isRecent}
}

// batchSize scales the pass with current pressure: a cache already over
// 95% utilized empties out the full configured max batch, 90-95% takes a
// third of all entries (capped at 50), and anything below that uses the
// configured minimum.
func batchSize(cfg Config, utilizationPercent float64, numEntries int) int {
	switch {
	case utilizationPercent > 95:
		return cfg.MaxEvictionBatchSize
	case utilizationPercent > 90:
		third := numEntries / 3
		if third > 50 {
			return 50
		}
		if third < cfg.MinEvictionBatchSize {
			return cfg.MinEvictionBatchSize
		}
		return third
	default:
		return cfg.MinEvictionBatchSize
	}
}

// Select runs the two-phase eviction policy: phase one removes up to half
// the batch from the aged set (oldest-beyond-MaxEntryAge entries,
// regardless of priority score), phase two fills the remainder of the batch
// from the highest-priority non-aged, non-recently-accessed entries until
// either the batch is full or targetBytes have been reclaimed.
func Select(candidates []Candidate, cfg Config, utilizationPercent float64, targetBytes int64, now time.Time) []Candidate {
	scoredEntries := make([]scored, 0, len(candidates))
	var aged []scored
	for _, c := range candidates {
		s := priority(c, cfg, now)
		scoredEntries = append(scoredEntries, s)
		if s.isAged {
			aged = append(aged, s)
		}
	}

	sort.Slice(aged, func(i, j int) bool {
		if aged[i].ageHours != aged[j].ageHours {
			return aged[i].ageHours > aged[j].ageHours
		}
		return lessByAccessThenKey(aged[i], aged[j])
	})
	sort.Slice(scoredEntries, func(i, j int) bool {
		if scoredEntries[i].priority != scoredEntries[j].priority {
			return scoredEntries[i].priority > scoredEntries[j].priority
		}
		return lessByAccessThenKey(scoredEntries[i], scoredEntries[j])
	})

	batch := batchSize(cfg, utilizationPercent, len(candidates))

	selected := make(map[string]bool)
	var out []Candidate
	var bytesRemoved int64

	half := batch / 2
	for i := 0; i < half && i < len(aged); i++ {
		k := aged[i].Key.String()
		if selected[k] {
			continue
		}
		selected[k] = true
		out = append(out, aged[i].Candidate)
		bytesRemoved += aged[i].SizeBytes
	}

	for _, s := range scoredEntries {
		if len(out) >= batch || bytesRemoved >= targetBytes {
			break
		}
		if s.isAged || s.isRecent {
			continue
		}
		k := s.Key.String()
		if selected[k] {
			continue
		}
		selected[k] = true
		out = append(out, s.Candidate)
		bytesRemoved += s.SizeBytes
	}

	return out
}

// lessByAccessThenKey breaks a priority or age tie deterministically: the
// entry with the smaller (older) AccessTime sorts first (evicted sooner),
// and a tie on that falls back to lexicographic key order so two passes
// over an identical snapshot always pick the same batch.
func lessByAccessThenKey(a, b scored) bool {
	if !a.AccessTime.Equal(b.AccessTime) {
		return a.AccessTime.Before(b.AccessTime)
	}
	return a.Key.String() < b.Key.String()
}
