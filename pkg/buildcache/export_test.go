package buildcache_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jbcom/buildcache/pkg/buildcache"
)

func TestMetricsAreExportedPeriodicallyAndOnClose(t *testing.T) {
	root := t.TempDir()
	c, err := buildcache.New(root, buildcache.WithoutIndex())
	if err != nil {
		t.Fatalf("buildcache.New: %v", err)
	}
	ctx := context.Background()

	metricsPath := filepath.Join(root, "cache_metrics.json")
	healthPath := filepath.Join(root, "cache_health.json")

	if _, err := os.Stat(metricsPath); !os.IsNotExist(err) {
		t.Fatal("did not expect a metrics export before any operations")
	}

	// exportEvery is 50; a single Put should not trigger an export yet.
	fp := digestOf("export-wiring")
	key, err := buildcache.NewCacheKey("compilation", fp, buildcache.StageCode)
	if err != nil {
		t.Fatalf("NewCacheKey: %v", err)
	}
	if err := c.Put(ctx, key, []byte("x"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(metricsPath); !os.IsNotExist(err) {
		t.Fatal("did not expect a metrics export after a single operation")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	metricsBytes, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("expected cache_metrics.json to exist after Close: %v", err)
	}
	var metricsDoc map[string]any
	if err := json.Unmarshal(metricsBytes, &metricsDoc); err != nil {
		t.Fatalf("cache_metrics.json is not valid JSON: %v", err)
	}
	if _, ok := metricsDoc["Writes"]; !ok {
		t.Fatal(`expected a "Writes" field in the exported metrics document`)
	}

	healthBytes, err := os.ReadFile(healthPath)
	if err != nil {
		t.Fatalf("expected cache_health.json to exist after Close: %v", err)
	}
	var healthDoc map[string]any
	if err := json.Unmarshal(healthBytes, &healthDoc); err != nil {
		t.Fatalf("cache_health.json is not valid JSON: %v", err)
	}
	if _, ok := healthDoc["OverallStatus"]; !ok {
		t.Fatal(`expected an "OverallStatus" field in the exported health document`)
	}
}

func TestMetricsExportTriggersOnThreshold(t *testing.T) {
	root := t.TempDir()
	c, err := buildcache.New(root, buildcache.WithoutIndex())
	if err != nil {
		t.Fatalf("buildcache.New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	metricsPath := filepath.Join(root, "cache_metrics.json")

	// exportEvery is 50 operations; 50 Gets (all misses) should trigger one.
	for i := 0; i < 50; i++ {
		fp := digestOf("export-threshold")
		key, err := buildcache.NewCacheKey("compilation", fp, buildcache.StageCode)
		if err != nil {
			t.Fatalf("NewCacheKey: %v", err)
		}
		if _, _, _, err := c.Get(ctx, key); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
	}

	if _, err := os.Stat(metricsPath); err != nil {
		t.Fatalf("expected cache_metrics.json to exist after 50 operations, got %v", err)
	}
}

func TestRecentEvictionsReflectsLedgerAppends(t *testing.T) {
	root := t.TempDir()
	c, err := buildcache.New(root)
	if err != nil {
		t.Fatalf("buildcache.New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	payload := make([]byte, 1024)
	for i := 0; i < 5; i++ {
		fp := digestOf("ledger-entry-" + string(rune('a'+i)))
		key, err := buildcache.NewCacheKey("compilation", fp, buildcache.StageCode)
		if err != nil {
			t.Fatalf("NewCacheKey: %v", err)
		}
		if err := c.Put(ctx, key, payload, nil); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	before, err := c.RecentEvictions(10)
	if err != nil {
		t.Fatalf("RecentEvictions (before): %v", err)
	}

	if _, err := c.ForceCleanup(ctx, 0); err != nil {
		t.Fatalf("ForceCleanup: %v", err)
	}

	after, err := c.RecentEvictions(10)
	if err != nil {
		t.Fatalf("RecentEvictions (after): %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("expected exactly one new ledger entry after ForceCleanup: before=%d after=%d", len(before), len(after))
	}
}
