// engine.go implements the background eviction state machine: Idle,
// Running, and Cooldown, driven by a ticker at Config.CleanupInterval and
// bounded to Config.MaxConcurrentEvictions concurrent passes via
// golang.org/x/sync/semaphore. Three trigger conditions start a pass:
// size threshold, forced interval, and aged entries on a regular check.
package evict

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jbcom/buildcache/internal/cachekey"
	"github.com/jbcom/buildcache/internal/index"
	"github.com/jbcom/buildcache/internal/metrics"
	"github.com/jbcom/buildcache/internal/store"
)

func candidateKey(r index.Record) (cachekey.CacheKey, error) {
	return cachekey.New(r.Scope, r.Fingerprint, cachekey.Stage(r.Stage))
}

// State names a point in the engine's Idle/Running/Cooldown cycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCooldown
)

// Engine owns the background cleanup loop for one Store.
type Engine struct {
	cfg     Config
	store   *store.Store
	idx     *index.Index // nil is valid: falls back to a full store walk
	sem     *semaphore.Weighted
	sink    metrics.Sink
	logger  *zap.Logger

	state atomic.Int32

	mu                sync.Mutex // guards cleaningNow/pending and the cleanup timestamps
	cleaningNow       bool
	pending           bool // a trigger fired while a pass was running
	lastCleanup       time.Time
	lastForcedCleanup time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine constructs an Engine. idx may be nil, in which case candidate
// collection falls back to store.ListEntries's filesystem walk.
func NewEngine(cfg Config, st *store.Store, idx *index.Index, sink metrics.Sink, logger *zap.Logger) *Engine {
	now := time.Now()
	return &Engine{
		cfg:               cfg,
		store:             st,
		idx:               idx,
		sem:               semaphore.NewWeighted(int64(cfg.MaxConcurrentEvictions)),
		sink:              sink,
		logger:            logger,
		lastCleanup:       now,
		lastForcedCleanup: now,
		stopCh:            make(chan struct{}),
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Start launches the background ticker goroutine. Stop must be called to
// release it.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				if _, _, err := e.MaybeCleanup(ctx); err != nil {
					e.logger.Warn("background cleanup pass failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop signals the background goroutine to exit and waits for it.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// candidates returns the current entry list, preferring the Badger index
// and falling back to a filesystem walk when it is unavailable.
func (e *Engine) candidates() ([]Candidate, error) {
	if e.idx != nil {
		records, err := e.idx.List()
		if err == nil && len(records) > 0 {
			out := make([]Candidate, 0, len(records))
			for _, r := range records {
				key, kerr := candidateKey(r)
				if kerr != nil {
					continue
				}
				out = append(out, Candidate{
					Key:        key,
					SizeBytes:  r.SizeBytes,
					AccessTime: r.AccessTime,
					CreatedAt:  r.CreatedAt,
				})
			}
			return out, nil
		}
	}

	entries, err := e.store.ListEntries()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(entries))
	for _, info := range entries {
		out = append(out, Candidate{
			Key:        info.Key,
			SizeBytes:  info.SizeBytes,
			AccessTime: info.AccessTime,
			CreatedAt:  info.CreatedAt,
		})
	}
	return out, nil
}

func totalSize(candidates []Candidate) int64 {
	var total int64
	for _, c := range candidates {
		total += c.SizeBytes
	}
	return total
}

// MaybeCleanup evaluates the three trigger conditions and runs a cleanup
// pass if any fires: current utilization at/above CleanupThresholdPercent,
// ForcedCleanupInterval elapsed since the last forced check regardless of
// utilization, or CleanupInterval elapsed with aged entries present.
func (e *Engine) MaybeCleanup(ctx context.Context) (Report, bool, error) {
	candidates, err := e.candidates()
	if err != nil {
		return Report{}, false, err
	}

	currentSize := totalSize(candidates)
	utilization := float64(currentSize) / float64(e.cfg.MaxCacheSizeBytes) * 100

	e.mu.Lock()
	now := time.Now()
	sinceRegular := now.Sub(e.lastCleanup)
	sinceForced := now.Sub(e.lastForcedCleanup)
	e.mu.Unlock()

	sizeTrigger := utilization >= e.cfg.CleanupThresholdPercent
	forcedTrigger := sinceForced >= e.cfg.ForcedCleanupInterval

	agedTrigger := false
	if sinceRegular >= e.cfg.CleanupInterval {
		for _, c := range candidates {
			if now.Sub(c.CreatedAt) > e.cfg.MaxEntryAge {
				agedTrigger = true
				break
			}
		}
	}

	if !sizeTrigger && !forcedTrigger && !agedTrigger {
		return Report{}, false, nil
	}

	report, err := e.run(ctx, candidates, currentSize, utilization, e.cfg.TargetUtilizationPercent)
	return report, true, err
}

// ForceCleanup runs a pass immediately regardless of triggers, targeting
// targetUtilizationPercent instead of the configured default when positive.
func (e *Engine) ForceCleanup(ctx context.Context, targetUtilizationPercent float64) (Report, error) {
	candidates, err := e.candidates()
	if err != nil {
		return Report{}, err
	}
	currentSize := totalSize(candidates)
	utilization := float64(currentSize) / float64(e.cfg.MaxCacheSizeBytes) * 100

	target := e.cfg.TargetUtilizationPercent
	if targetUtilizationPercent > 0 {
		target = targetUtilizationPercent
	}
	return e.run(ctx, candidates, currentSize, utilization, target)
}

// cooldownDebounce is how long the engine lingers in Cooldown before the
// timer returns it to Idle.
const cooldownDebounce = time.Second

// run performs one cleanup pass: it acquires the semaphore slot (bounding
// MaxConcurrentEvictions) and a non-blocking "only one pass at a time for
// this engine" guard, selects candidates, removes them through the Store
// (and mirror index), and records the report. A trigger arriving while a
// pass is already running sets the pending flag
// instead of starting a second pass; the finishing pass re-evaluates the
// triggers on its way into Cooldown.
func (e *Engine) run(ctx context.Context, candidates []Candidate, currentSize int64, utilizationBefore, targetUtilizationPercent float64) (Report, error) {
	e.mu.Lock()
	if e.cleaningNow {
		e.pending = true
		e.mu.Unlock()
		return Report{}, nil
	}
	e.cleaningNow = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cleaningNow = false
		pending := e.pending
		e.pending = false
		e.mu.Unlock()

		e.state.Store(int32(StateCooldown))
		time.AfterFunc(cooldownDebounce, func() {
			e.state.CompareAndSwap(int32(StateCooldown), int32(StateIdle))
		})

		if pending {
			go func() {
				if _, _, err := e.MaybeCleanup(context.Background()); err != nil {
					e.logger.Warn("coalesced cleanup pass failed", zap.Error(err))
				}
			}()
		}
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Report{}, err
	}
	defer e.sem.Release(1)

	e.state.Store(int32(StateRunning))

	started := time.Now()

	targetBytes := currentSize - int64(float64(e.cfg.MaxCacheSizeBytes)*targetUtilizationPercent/100)
	if targetBytes < 0 {
		targetBytes = 0
	}

	toEvict := Select(candidates, e.cfg, utilizationBefore, targetBytes, started)

	var bytesRemoved int64
	removed := make([]Candidate, 0, len(toEvict))
	for _, c := range toEvict {
		if err := e.store.Delete(ctx, c.Key); err != nil {
			e.logger.Warn("failed to remove eviction candidate", zap.String("key", c.Key.String()), zap.Error(err))
			continue
		}
		if e.idx != nil {
			if err := e.idx.Delete(c.Key); err != nil {
				e.logger.Warn("failed to remove index record for evicted entry", zap.String("key", c.Key.String()), zap.Error(err))
			}
		}
		e.sink.IncEviction(c.Key.Stage(), 1)
		bytesRemoved += c.SizeBytes
		removed = append(removed, c)
	}

	finished := time.Now()
	afterSize := currentSize - bytesRemoved
	utilizationAfter := float64(afterSize) / float64(e.cfg.MaxCacheSizeBytes) * 100

	report := BuildReport(started, finished, utilizationBefore, utilizationAfter, removed)

	if e.idx != nil {
		if payload, err := json.Marshal(report); err == nil {
			if err := e.idx.AppendLedger(payload); err != nil {
				e.logger.Warn("failed to append cleanup report to eviction ledger", zap.Error(err))
			}
		}
	}

	e.mu.Lock()
	e.lastCleanup = finished
	e.lastForcedCleanup = finished
	e.mu.Unlock()
	e.sink.RecordCleanup(finished)

	return report, nil
}

// RecentReports returns up to limit of the most recently recorded cleanup
// reports from the Badger-backed eviction ledger, newest first. Returns nil
// without error when the engine has no index (ledger history is simply
// unavailable, not a failure).
func (e *Engine) RecentReports(limit int) ([]Report, error) {
	if e.idx == nil {
		return nil, nil
	}
	payloads, err := e.idx.LastLedgerEntries(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(payloads))
	for _, p := range payloads {
		var r Report
		if err := json.Unmarshal(p, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
