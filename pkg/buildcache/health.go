package buildcache

import (
	"context"
	"fmt"
	"time"
)

// HealthSnapshot combines current utilization and hit-rate indicators
// with a rule-based set of recommendations and a projected time until the
// next cleanup is needed.
type HealthSnapshot struct {
	OverallStatus       string // "healthy", "warning", or "critical"
	UtilizationPercent  float64
	HitRatePercent      float64
	ErrorRatePercent    float64
	HoursSinceCleanup   float64
	Recommendations     []string
	NextCleanupEstimate string
}

// HealthReport computes a HealthSnapshot from the cache's current on-disk
// footprint and accumulated metrics.
func (c *Cache) HealthReport(ctx context.Context) (HealthSnapshot, error) {
	entries, err := c.store.ListEntries()
	if err != nil {
		return HealthSnapshot{}, err
	}
	var currentSize int64
	for _, e := range entries {
		currentSize += e.SizeBytes
	}

	stats := c.Stats()
	utilization := float64(currentSize) / float64(c.cfg.Eviction.MaxCacheSizeBytes) * 100

	totalOps := stats.Hits + stats.Misses
	errorRate := 0.0
	if totalOps > 0 {
		errorRate = float64(stats.Errors) / float64(totalOps) * 100
	}

	hoursSinceCleanup := time.Since(stats.LastCleanup).Hours()
	if stats.LastCleanup.IsZero() {
		hoursSinceCleanup = time.Since(stats.SessionStart).Hours()
	}

	status := healthStatus(utilization, stats.HitRate, errorRate, hoursSinceCleanup, totalOps)
	recs := recommendations(utilization, stats)
	estimate := nextCleanupEstimate(utilization, c.cfg.Eviction.CleanupThresholdPercent, c.cfg.Eviction.MaxCacheSizeBytes, currentSize, stats)

	return HealthSnapshot{
		OverallStatus:       status,
		UtilizationPercent:  utilization,
		HitRatePercent:      stats.HitRate,
		ErrorRatePercent:    errorRate,
		HoursSinceCleanup:   hoursSinceCleanup,
		Recommendations:     recs,
		NextCleanupEstimate: estimate,
	}, nil
}

// healthStatus is critical on high utilization, low hit rate with
// meaningful traffic, a high error rate, or a long-stale cleanup; warning
// on elevated utilization; healthy otherwise.
func healthStatus(utilization, hitRate, errorRate, hoursSinceCleanup float64, totalOps int64) string {
	switch {
	case utilization > 95:
		return "critical"
	case totalOps > 100 && hitRate < 50:
		return "critical"
	case errorRate > 5:
		return "critical"
	case hoursSinceCleanup > 24:
		return "critical"
	case utilization > 85:
		return "warning"
	default:
		return "healthy"
	}
}

// recommendations applies the rule set: utilization bounds, aggregate
// hit-rate bounds, write latency, and per-stage hit-rate call-outs.
func recommendations(utilization float64, stats StatsSnapshot) []string {
	var recs []string

	switch {
	case utilization > 90:
		recs = append(recs, "Consider increasing cache size or lowering the eviction target utilization; the cache is running close to capacity.")
	case utilization < 30:
		recs = append(recs, "Cache is underutilized; consider lowering max_cache_size_bytes to reclaim disk space.")
	}

	switch {
	case stats.HitRate < 60:
		recs = append(recs, "Hit rate is low; eviction may be too aggressive or entries may be expiring before reuse.")
	case stats.HitRate > 90:
		recs = append(recs, "Hit rate is well optimized.")
	}

	if stats.AvgWriteTime > 500*time.Millisecond {
		recs = append(recs, "Average write time exceeds 500ms; investigate fsync cost or storage latency.")
	}

	for stage, ss := range stats.StageStats {
		total := ss.Hits + ss.Misses
		if total < 10 {
			continue
		}
		rate := float64(ss.Hits) / float64(total) * 100
		if rate < 40 {
			recs = append(recs, fmt.Sprintf("Stage %q has a low hit rate (%.0f%%); review its caching strategy.", stage, rate))
		}
	}

	return recs
}

// nextCleanupEstimate: if already at or past the cleanup threshold,
// cleanup is due now. Otherwise it projects forward linearly from total
// write throughput since session start.
func nextCleanupEstimate(utilization, thresholdPercent float64, maxBytes, currentBytes int64, stats StatsSnapshot) string {
	if utilization >= thresholdPercent {
		return "Cleanup needed now"
	}

	elapsedHours := time.Since(stats.SessionStart).Hours()
	if elapsedHours <= 0 || stats.Writes == 0 {
		return "Insufficient data to project next cleanup"
	}

	var bytesWritten int64
	for _, ss := range stats.StageStats {
		bytesWritten += ss.BytesWritten
	}
	bytesPerHour := float64(bytesWritten) / elapsedHours
	if bytesPerHour <= 0 {
		return "Insufficient data to project next cleanup"
	}

	thresholdBytes := float64(maxBytes) * thresholdPercent / 100
	remaining := thresholdBytes - float64(currentBytes)
	if remaining <= 0 {
		return "Cleanup needed now"
	}

	hoursUntil := remaining / bytesPerHour
	return fmt.Sprintf("Approximately %.1f hours until cleanup threshold is reached", hoursUntil)
}
