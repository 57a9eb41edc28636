package buildcache

import (
	"time"
)

// StageStats is the public per-stage breakdown returned by Stats.
type StageStats struct {
	Hits, Misses, Writes      int64
	BytesWritten, BytesRead   int64
	AvgReadTime, AvgWriteTime time.Duration
}

// StatsSnapshot is the public view of accumulated cache metrics: session
// totals, EWMA-smoothed latencies, and the per-stage breakdown.
type StatsSnapshot struct {
	Hits, Misses, Writes, Evictions, Errors int64
	HitRate                                 float64
	AvgReadTime, AvgWriteTime               time.Duration
	SessionStart                            time.Time
	LastCleanup                             time.Time
	StageStats                              map[Stage]StageStats
	BuildTimeAvg                            map[Stage]time.Duration
}

// Stats returns a snapshot of the cache's hit/miss/write/eviction/error
// counters, EWMA-smoothed read/write latencies, and per-stage breakdown.
func (c *Cache) Stats() StatsSnapshot {
	snap := c.metrics.Snapshot()

	stageStats := make(map[Stage]StageStats, len(snap.StageStats))
	for stage, s := range snap.StageStats {
		stageStats[stage] = StageStats{
			Hits:         s.Hits,
			Misses:       s.Misses,
			Writes:       s.Writes,
			BytesWritten: s.BytesWritten,
			BytesRead:    s.BytesRead,
			AvgReadTime:  s.AvgReadTime,
			AvgWriteTime: s.AvgWriteTime,
		}
	}

	buildAvg := make(map[Stage]time.Duration, len(snap.BuildTimeAvg))
	for stage, d := range snap.BuildTimeAvg {
		buildAvg[stage] = d
	}

	return StatsSnapshot{
		Hits:         snap.Hits,
		Misses:       snap.Misses,
		Writes:       snap.Writes,
		Evictions:    snap.Evictions,
		Errors:       snap.Errors,
		HitRate:      snap.HitRate,
		AvgReadTime:  snap.AvgReadTime,
		AvgWriteTime: snap.AvgWriteTime,
		SessionStart: snap.SessionStart,
		LastCleanup:  snap.LastCleanup,
		StageStats:   stageStats,
		BuildTimeAvg: buildAvg,
	}
}

// StageHitRate returns the hit rate percentage for one stage, or 0 if the
// stage has no recorded hits or misses.
func (s StatsSnapshot) StageHitRate(stage Stage) float64 {
	ss, ok := s.StageStats[stage]
	if !ok {
		return 0
	}
	total := ss.Hits + ss.Misses
	if total == 0 {
		return 0
	}
	return float64(ss.Hits) / float64(total) * 100
}
