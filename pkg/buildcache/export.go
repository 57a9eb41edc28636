package buildcache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// exportEvery bounds snapshot churn: a JSON snapshot is written every
// exportEvery operations, plus once on Close, rather than on every
// single Get/Put.
const exportEvery = 50

const (
	metricsFileName = "cache_metrics.json"
	healthFileName  = "cache_health.json"
)

// maybeExportMetrics increments the operation counter and, every
// exportEvery calls, writes cache_metrics.json and cache_health.json to
// the cache root. Export errors are logged, never returned: metrics export
// is diagnostic and must not fail a Get/Put.
func (c *Cache) maybeExportMetrics(ctx context.Context) {
	n := c.opsSinceExport.Add(1)
	if n%exportEvery != 0 {
		return
	}
	c.exportMetrics(ctx)
}

func (c *Cache) exportMetrics(ctx context.Context) {
	stats := c.Stats()
	if err := writeJSONFile(filepath.Join(c.cfg.Root, metricsFileName), stats); err != nil {
		c.logger.Warn("failed to export cache_metrics.json", zap.Error(err))
	}

	health, err := c.HealthReport(ctx)
	if err != nil {
		c.logger.Warn("failed to compute health report for export", zap.Error(err))
		return
	}
	if err := writeJSONFile(filepath.Join(c.cfg.Root, healthFileName), health); err != nil {
		c.logger.Warn("failed to export cache_health.json", zap.Error(err))
	}
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
