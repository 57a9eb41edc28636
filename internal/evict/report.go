package evict

import (
	"time"

	"github.com/jbcom/buildcache/internal/cachekey"
)

// Report summarizes one completed eviction pass for the health report and
// the eviction ledger.
type Report struct {
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at"`
	UtilizationBefore float64                `json:"utilization_before_percent"`
	UtilizationAfter  float64                `json:"utilization_after_percent"`
	EntriesRemoved    int                    `json:"entries_removed"`
	BytesRemoved      int64                  `json:"bytes_removed"`
	PerStageRemoved   map[cachekey.Stage]int `json:"per_stage_removed"`
	PerScopeRemoved   map[string]int         `json:"per_scope_removed"`
	EfficiencyScore   float64                `json:"efficiency_score"`
}

// BuildReport computes the derived fields (per-stage/scope breakdown,
// efficiency score) from a list of removed candidates plus the
// before/after snapshot the engine already has in hand.
func BuildReport(started, finished time.Time, utilizationBefore, utilizationAfter float64, removed []Candidate) Report {
	perStage := make(map[cachekey.Stage]int)
	perScope := make(map[string]int)
	var bytesRemoved int64

	for _, c := range removed {
		perStage[c.Key.Stage()]++
		perScope[c.Key.Scope()]++
		bytesRemoved += c.SizeBytes
	}

	// efficiency_score: utilization points reclaimed per MiB removed,
	// rewarding passes that free a lot of headroom without removing an
	// excessive volume of data. Zero bytes removed yields a zero score
	// rather than dividing by zero.
	efficiency := 0.0
	if bytesRemoved > 0 {
		mib := float64(bytesRemoved) / (1024 * 1024)
		efficiency = (utilizationBefore - utilizationAfter) / mib
	}

	return Report{
		StartedAt:         started,
		FinishedAt:        finished,
		UtilizationBefore: utilizationBefore,
		UtilizationAfter:  utilizationAfter,
		EntriesRemoved:    len(removed),
		BytesRemoved:      bytesRemoved,
		PerStageRemoved:   perStage,
		PerScopeRemoved:   perScope,
		EfficiencyScore:   efficiency,
	}
}
