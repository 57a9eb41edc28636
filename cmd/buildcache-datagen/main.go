// buildcache-datagen is a tiny helper utility to generate deterministic
// CompilationRequest fixtures for standalone load-testing of the
// Fingerprint Engine and Cache.Put/Get at scale, outside `go test`.
//
// It emits newline-delimited JSON (one CompilationRequest per line),
// selecting template/component/asset identifiers from a small fixed pool
// either uniformly or via a Zipf distribution, so a handful of "hot" keys
// dominate the traffic the way a real template catalog's usage skews.
//
// Usage:
//
//	go run ./cmd/buildcache-datagen -n 100000 -dist=zipf -seed=42 -out requests.jsonl
//
// Flags:
//
//	-n       number of requests to generate (default 10000)
//	-dist    distribution: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1) (default 1.2)
//	-zipfv   Zipf v parameter (>0) (default 1.0)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

var templatePool = []string{"platformer", "top-down-rpg", "arcade-shooter", "puzzle", "visual-novel"}

var componentPool = []string{"physics", "inventory", "dialogue", "save-system", "audio-mixer", "particle-fx"}

var assetTypePool = []string{"sprite", "tilemap", "audio", "font", "shader"}

type request struct {
	TemplateID    string         `json:"template_id"`
	Components    []component    `json:"components"`
	Configuration map[string]any `json:"configuration"`
	Assets        []asset        `json:"assets"`
}

type component struct {
	ID            string         `json:"id"`
	Configuration map[string]any `json:"configuration"`
}

type asset struct {
	Path            string `json:"path"`
	Type            string `json:"type"`
	LogicalPath     string `json:"logical_path"`
	TransformParams map[string]any `json:"transform_params"`
}

func main() {
	var (
		n       = flag.Int("n", 10_000, "number of requests to generate")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>0)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var pick func(poolSize int) int
	switch *dist {
	case "uniform":
		pick = func(poolSize int) int { return rnd.Intn(poolSize) }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV <= 0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >0")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, uint64(len(templatePool)-1))
		pick = func(poolSize int) int {
			v := int(z.Uint64())
			if v >= poolSize {
				v = poolSize - 1
			}
			return v
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	enc := json.NewEncoder(w)
	for i := 0; i < *n; i++ {
		if err := enc.Encode(synthesize(rnd, pick)); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(1)
		}
	}
}

func synthesize(rnd *rand.Rand, pick func(int) int) request {
	req := request{
		TemplateID:    templatePool[pick(len(templatePool))],
		Configuration: map[string]any{"difficulty": rnd.Intn(5), "enable_debug": rnd.Intn(10) == 0},
	}

	numComponents := 1 + rnd.Intn(3)
	seen := map[string]bool{}
	for len(req.Components) < numComponents {
		id := componentPool[pick(len(componentPool))]
		if seen[id] {
			continue
		}
		seen[id] = true
		req.Components = append(req.Components, component{
			ID:            id,
			Configuration: map[string]any{"tier": rnd.Intn(3)},
		})
	}

	numAssets := rnd.Intn(4)
	for j := 0; j < numAssets; j++ {
		typ := assetTypePool[pick(len(assetTypePool))]
		req.Assets = append(req.Assets, asset{
			Path:        fmt.Sprintf("assets/%s/%d.bin", typ, rnd.Intn(1000)),
			Type:        typ,
			LogicalPath: fmt.Sprintf("%s_%d", typ, j),
		})
	}

	return req
}
