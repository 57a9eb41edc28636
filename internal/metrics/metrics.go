// Package metrics implements a dual no-op/Prometheus sink. Both sinks
// share an in-memory accumulator of EWMA-smoothed read/write timings and
// per-stage hit/miss/byte counters, because Stats and HealthReport need
// those figures back in-process, which Prometheus's own query layer
// cannot hand to the process that produced it.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbcom/buildcache/internal/cachekey"
)

// Sink is the interface pkg/buildcache depends on; NoopSink and PromSink
// both satisfy it.
type Sink interface {
	IncHit(stage cachekey.Stage)
	IncMiss(stage cachekey.Stage)
	IncWrite(stage cachekey.Stage, bytesWritten int64, d time.Duration)
	IncRead(stage cachekey.Stage, bytesRead int64, d time.Duration)
	IncEviction(stage cachekey.Stage, n int)
	IncError()
	ObserveBuildTime(stage cachekey.Stage, d time.Duration)
	RecordCleanup(at time.Time)
	Snapshot() Snapshot
}

// StageStats is the per-stage breakdown mirroring CacheMetrics.stage_stats.
type StageStats struct {
	Hits, Misses, Writes      int64
	BytesWritten, BytesRead   int64
	AvgReadTime, AvgWriteTime time.Duration
	LastAccess                time.Time
}

// Snapshot is an immutable copy of accumulated metrics, safe to serialize or
// hold after the call returns.
type Snapshot struct {
	Hits, Misses, Writes, Evictions, Errors int64
	AvgReadTime, AvgWriteTime               time.Duration
	HitRate                                 float64
	SessionStart                            time.Time
	LastCleanup                             time.Time
	StageStats                              map[cachekey.Stage]StageStats
	BuildTimeAvg                            map[cachekey.Stage]time.Duration
}

// ewmaWeight smooths latency samples: new = 0.9*old + 0.1*sample. The
// first sample seeds the average directly.
const ewmaWeight = 0.1

type ewma struct {
	value float64
	seen  bool
}

func (e *ewma) observe(sample float64) {
	if !e.seen {
		e.value = sample
		e.seen = true
		return
	}
	e.value = (1-ewmaWeight)*e.value + ewmaWeight*sample
}

// tracker is the in-memory accumulator shared by NoopSink and PromSink.
type tracker struct {
	mu sync.Mutex

	sessionStart time.Time
	lastCleanup  time.Time

	hits, misses, writes, evictions, errorsCount int64

	readEWMA, writeEWMA ewma

	stageStats map[cachekey.Stage]*perStage
}

type perStage struct {
	hits, misses, writes    int64
	bytesWritten, bytesRead int64
	readEWMA, writeEWMA     ewma
	buildEWMA               ewma
	lastAccess              time.Time
}

func newTracker() *tracker {
	return &tracker{
		sessionStart: time.Now(),
		stageStats:   make(map[cachekey.Stage]*perStage),
	}
}

func (t *tracker) stage(s cachekey.Stage) *perStage {
	ps, ok := t.stageStats[s]
	if !ok {
		ps = &perStage{}
		t.stageStats[s] = ps
	}
	return ps
}

func (t *tracker) incHit(stage cachekey.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits++
	ps := t.stage(stage)
	ps.hits++
	ps.lastAccess = time.Now()
}

func (t *tracker) incMiss(stage cachekey.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.misses++
	t.stage(stage).misses++
}

func (t *tracker) incWrite(stage cachekey.Stage, bytesWritten int64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	t.writeEWMA.observe(float64(d))
	ps := t.stage(stage)
	ps.writes++
	ps.bytesWritten += bytesWritten
	ps.writeEWMA.observe(float64(d))
	ps.lastAccess = time.Now()
}

func (t *tracker) incRead(stage cachekey.Stage, bytesRead int64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readEWMA.observe(float64(d))
	ps := t.stage(stage)
	ps.bytesRead += bytesRead
	ps.readEWMA.observe(float64(d))
	ps.lastAccess = time.Now()
}

func (t *tracker) incEviction(stage cachekey.Stage, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictions += int64(n)
}

func (t *tracker) incError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorsCount++
}

func (t *tracker) observeBuildTime(stage cachekey.Stage, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage(stage).buildEWMA.observe(float64(d))
}

func (t *tracker) recordCleanup(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCleanup = at
}

func (t *tracker) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.hits + t.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(t.hits) / float64(total) * 100
	}

	stageStats := make(map[cachekey.Stage]StageStats, len(t.stageStats))
	buildAvg := make(map[cachekey.Stage]time.Duration, len(t.stageStats))
	for stage, ps := range t.stageStats {
		stageStats[stage] = StageStats{
			Hits:         ps.hits,
			Misses:       ps.misses,
			Writes:       ps.writes,
			BytesWritten: ps.bytesWritten,
			BytesRead:    ps.bytesRead,
			AvgReadTime:  time.Duration(ps.readEWMA.value),
			AvgWriteTime: time.Duration(ps.writeEWMA.value),
			LastAccess:   ps.lastAccess,
		}
		buildAvg[stage] = time.Duration(ps.buildEWMA.value)
	}

	return Snapshot{
		Hits:         t.hits,
		Misses:       t.misses,
		Writes:       t.writes,
		Evictions:    t.evictions,
		Errors:       t.errorsCount,
		AvgReadTime:  time.Duration(t.readEWMA.value),
		AvgWriteTime: time.Duration(t.writeEWMA.value),
		HitRate:      hitRate,
		SessionStart: t.sessionStart,
		LastCleanup:  t.lastCleanup,
		StageStats:   stageStats,
		BuildTimeAvg: buildAvg,
	}
}

// NoopSink accumulates in-memory stats (needed for Stats/HealthReport
// regardless of whether Prometheus is wired) but never touches a registry.
// It is the default sink.
type NoopSink struct{ t *tracker }

// NewNoopSink constructs a NoopSink.
func NewNoopSink() *NoopSink { return &NoopSink{t: newTracker()} }

func (s *NoopSink) IncHit(stage cachekey.Stage)                                  { s.t.incHit(stage) }
func (s *NoopSink) IncMiss(stage cachekey.Stage)                                 { s.t.incMiss(stage) }
func (s *NoopSink) IncWrite(stage cachekey.Stage, n int64, d time.Duration)      { s.t.incWrite(stage, n, d) }
func (s *NoopSink) IncRead(stage cachekey.Stage, n int64, d time.Duration)       { s.t.incRead(stage, n, d) }
func (s *NoopSink) IncEviction(stage cachekey.Stage, n int)                      { s.t.incEviction(stage, n) }
func (s *NoopSink) IncError()                                                    { s.t.incError() }
func (s *NoopSink) ObserveBuildTime(stage cachekey.Stage, d time.Duration)       { s.t.observeBuildTime(stage, d) }
func (s *NoopSink) RecordCleanup(at time.Time)                                   { s.t.recordCleanup(at) }
func (s *NoopSink) Snapshot() Snapshot                                           { return s.t.snapshot() }

// PromSink does everything NoopSink does and additionally mirrors counters
// into a Prometheus registry, labeled by stage.
type PromSink struct {
	t *tracker

	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	writes    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	errors    prometheus.Counter
	readDur   *prometheus.HistogramVec
	writeDur  *prometheus.HistogramVec
}

// NewPromSink registers buildcache_* collectors on reg and returns a Sink
// that updates both the registry and the in-memory tracker.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	label := []string{"stage"}
	p := &PromSink{
		t: newTracker(),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache", Name: "hits_total", Help: "Number of cache hits.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache", Name: "misses_total", Help: "Number of cache misses.",
		}, label),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache", Name: "writes_total", Help: "Number of cache writes.",
		}, label),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache", Name: "evictions_total", Help: "Number of entries evicted.",
		}, label),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildcache", Name: "errors_total", Help: "Number of store errors encountered.",
		}),
		readDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildcache", Name: "read_duration_seconds", Help: "Cache read latency.",
		}, label),
		writeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildcache", Name: "write_duration_seconds", Help: "Cache write latency.",
		}, label),
	}
	reg.MustRegister(p.hits, p.misses, p.writes, p.evictions, p.errors, p.readDur, p.writeDur)
	return p
}

func (p *PromSink) IncHit(stage cachekey.Stage) {
	p.t.incHit(stage)
	p.hits.WithLabelValues(string(stage)).Inc()
}

func (p *PromSink) IncMiss(stage cachekey.Stage) {
	p.t.incMiss(stage)
	p.misses.WithLabelValues(string(stage)).Inc()
}

func (p *PromSink) IncWrite(stage cachekey.Stage, n int64, d time.Duration) {
	p.t.incWrite(stage, n, d)
	p.writes.WithLabelValues(string(stage)).Inc()
	p.writeDur.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (p *PromSink) IncRead(stage cachekey.Stage, n int64, d time.Duration) {
	p.t.incRead(stage, n, d)
	p.readDur.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (p *PromSink) IncEviction(stage cachekey.Stage, n int) {
	p.t.incEviction(stage, n)
	p.evictions.WithLabelValues(string(stage)).Add(float64(n))
}

func (p *PromSink) IncError() {
	p.t.incError()
	p.errors.Inc()
}

func (p *PromSink) ObserveBuildTime(stage cachekey.Stage, d time.Duration) {
	p.t.observeBuildTime(stage, d)
}

func (p *PromSink) RecordCleanup(at time.Time) { p.t.recordCleanup(at) }

func (p *PromSink) Snapshot() Snapshot { return p.t.snapshot() }
