// buildcache-inspect reads the cache_metrics.json and cache_health.json
// snapshots a running Cache periodically writes to its cache_root, and
// prints them pretty or as JSON, one-shot or on a watch interval.
//
// The cache itself has no built-in HTTP server, so the inspector reads
// the on-disk snapshots directly from -root. When -target is set it is used
// instead of -root, for a host process that chooses to expose the same
// JSON over HTTP.
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"`.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

var version = "dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

type options struct {
	root     string
	target   string
	metrics  bool
	health   bool
	json     bool
	watch    bool
	interval time.Duration
	version  bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.root, "root", "", "cache_root directory to read cache_metrics.json/cache_health.json from")
	flag.StringVar(&o.target, "target", "", "base URL of a host exposing the same JSON over HTTP, instead of -root")
	flag.BoolVar(&o.metrics, "metrics", true, "include cache_metrics.json")
	flag.BoolVar(&o.health, "health", true, "include cache_health.json")
	flag.BoolVar(&o.json, "json", false, "print raw JSON instead of a formatted summary")
	flag.BoolVar(&o.watch, "watch", false, "poll repeatedly at -interval instead of one-shot")
	flag.DurationVar(&o.interval, "interval", 5*time.Second, "poll interval in watch mode")
	flag.BoolVar(&o.version, "version", false, "print the inspector version and exit")
	flag.Parse()

	if o.root == "" && o.target == "" && !o.version {
		fmt.Fprintln(os.Stderr, "buildcache-inspect: one of -root or -target is required")
		os.Exit(2)
	}
	return o
}

func dumpOnce(ctx context.Context, opts *options) error {
	var metricsDoc, healthDoc map[string]any
	var err error

	if opts.metrics {
		metricsDoc, err = fetch(ctx, opts, "cache_metrics.json")
		if err != nil {
			return fmt.Errorf("cache_metrics.json: %w", err)
		}
	}
	if opts.health {
		healthDoc, err = fetch(ctx, opts, "cache_health.json")
		if err != nil {
			return fmt.Errorf("cache_health.json: %w", err)
		}
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"metrics": metricsDoc, "health": healthDoc})
	}
	return prettyPrint(metricsDoc, healthDoc)
}

func fetch(ctx context.Context, opts *options, name string) (map[string]any, error) {
	if opts.target != "" {
		return fetchHTTP(ctx, opts.target, name)
	}
	return fetchFile(filepath.Join(opts.root, name))
}

func fetchFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func fetchHTTP(ctx context.Context, base, name string) (map[string]any, error) {
	url := base + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("unexpected status %s: %s", res.Status, body)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(metricsDoc, healthDoc map[string]any) error {
	if metricsDoc != nil {
		fmt.Println("== cache_metrics.json ==")
		fmt.Printf("Hits:      %v\n", metricsDoc["Hits"])
		fmt.Printf("Misses:    %v\n", metricsDoc["Misses"])
		fmt.Printf("Writes:    %v\n", metricsDoc["Writes"])
		fmt.Printf("Evictions: %v\n", metricsDoc["Evictions"])
		fmt.Printf("Errors:    %v\n", metricsDoc["Errors"])
		fmt.Printf("HitRate:   %.1f%%\n", toFloat(metricsDoc["HitRate"]))
	}
	if healthDoc != nil {
		fmt.Println("== cache_health.json ==")
		fmt.Printf("Status:       %v\n", healthDoc["OverallStatus"])
		fmt.Printf("Utilization:  %.1f%%\n", toFloat(healthDoc["UtilizationPercent"]))
		fmt.Printf("NextCleanup:  %v\n", healthDoc["NextCleanupEstimate"])
		if recs, ok := healthDoc["Recommendations"].([]any); ok {
			for _, r := range recs {
				fmt.Printf("  - %v\n", r)
			}
		}
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "buildcache-inspect:", err)
	os.Exit(1)
}
