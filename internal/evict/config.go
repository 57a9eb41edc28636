// Package evict implements the eviction engine: the Idle/Running/Cooldown
// trigger policy, the weighted multi-factor ranking formula, and
// two-phase batch removal.
package evict

import (
	"errors"
	"time"
)

// Config holds the ten recognised eviction knobs.
type Config struct {
	MaxCacheSizeBytes        int64
	CleanupThresholdPercent  float64
	TargetUtilizationPercent float64
	MinEvictionBatchSize     int
	MaxEvictionBatchSize     int
	MaxEntryAge              time.Duration
	MinAccessInterval        time.Duration
	CleanupInterval          time.Duration
	ForcedCleanupInterval    time.Duration
	MaxConcurrentEvictions   int
}

// DefaultConfig returns the documented defaults: 1GiB cap, cleanup at 90%
// utilization targeting 75%, batches of 5-100 entries, a 7-day max age, a
// 15-minute regular check interval, and a 6-hour forced check regardless of
// utilization.
func DefaultConfig() Config {
	return Config{
		MaxCacheSizeBytes:        1 << 30,
		CleanupThresholdPercent:  90,
		TargetUtilizationPercent: 75,
		MinEvictionBatchSize:     5,
		MaxEvictionBatchSize:     100,
		MaxEntryAge:              168 * time.Hour,
		MinAccessInterval:        1 * time.Hour,
		CleanupInterval:          15 * time.Minute,
		ForcedCleanupInterval:    6 * time.Hour,
		MaxConcurrentEvictions:   1,
	}
}

var (
	ErrInvalidSizeBound   = errors.New("buildcache: max_cache_size_bytes must be > 0")
	ErrInvalidThresholds  = errors.New("buildcache: cleanup_threshold_percent must be > target_utilization_percent")
	ErrInvalidBatchSizes  = errors.New("buildcache: min_eviction_batch_size must be <= max_eviction_batch_size")
	ErrInvalidInterval    = errors.New("buildcache: cleanup_interval_minutes must be > 0")
)

// Validate checks the cross-field invariants construction depends on; a
// zero MaxConcurrentEvictions is coerced to 1 rather than rejected, since
// the knob has an obvious safe floor. CleanupInterval must be strictly
// positive: the background loop drives a time.Ticker off it directly,
// which panics on a zero or negative duration.
func (c *Config) Validate() error {
	if c.MaxCacheSizeBytes <= 0 {
		return ErrInvalidSizeBound
	}
	if c.CleanupThresholdPercent <= c.TargetUtilizationPercent {
		return ErrInvalidThresholds
	}
	if c.MinEvictionBatchSize > c.MaxEvictionBatchSize {
		return ErrInvalidBatchSizes
	}
	if c.CleanupInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.MaxConcurrentEvictions <= 0 {
		c.MaxConcurrentEvictions = 1
	}
	return nil
}
