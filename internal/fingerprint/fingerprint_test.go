package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func basicRequest() CompilationRequest {
	return CompilationRequest{
		TemplateID: "basic",
		Components: []Component{
			{ID: "c1", Configuration: map[string]any{}},
		},
		Configuration: map[string]any{},
		Assets:        nil,
	}
}

func TestComputeDeterministic(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	req := basicRequest()

	d1, err := e.Compute(req)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	d2, err := e.Compute(req)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("fingerprint not stable across runs: %s != %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %s", len(d1), d1)
	}
}

func TestComputeParameterSensitivity(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	reqA := basicRequest()
	reqA.Configuration = map[string]any{"a": 1.0}
	reqB := basicRequest()
	reqB.Configuration = map[string]any{"a": 2.0}
	reqC := basicRequest()
	reqC.Configuration = map[string]any{"a": 2.0}

	fpA, err := e.Compute(reqA)
	if err != nil {
		t.Fatal(err)
	}
	fpB, err := e.Compute(reqB)
	if err != nil {
		t.Fatal(err)
	}
	fpC, err := e.Compute(reqC)
	if err != nil {
		t.Fatal(err)
	}

	if fpA == fpB {
		t.Fatalf("expected different fingerprints for different configuration values")
	}
	if fpB != fpC {
		t.Fatalf("expected identical fingerprints for identical configuration values")
	}
}

func TestComputeComponentAndAssetOrderIndependence(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	req1 := basicRequest()
	req1.Components = []Component{{ID: "b"}, {ID: "a"}}

	req2 := basicRequest()
	req2.Components = []Component{{ID: "a"}, {ID: "b"}}

	fp1, err := e.Compute(req1)
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := e.Compute(req2)
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Fatalf("component order should not affect fingerprint: %s != %s", fp1, fp2)
	}

	assetA := Asset{Path: "assets/a.png", Type: "sprite", LogicalPath: "a"}
	assetB := Asset{Path: "assets/b.png", Type: "sprite", LogicalPath: "b"}
	req3 := basicRequest()
	req3.Assets = []Asset{assetA, assetB}
	req4 := basicRequest()
	req4.Assets = []Asset{assetB, assetA}

	fp3, err := e.Compute(req3)
	if err != nil {
		t.Fatal(err)
	}
	fp4, err := e.Compute(req4)
	if err != nil {
		t.Fatal(err)
	}
	if fp3 != fp4 {
		t.Fatalf("asset order should not affect fingerprint: %s != %s", fp3, fp4)
	}
}

func TestTemplateFilesHashWalksAndFilters(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "base.j2"), "hello {{ name }}")
	mustWrite(t, filepath.Join(dir, "README.md"), "docs")
	mustWrite(t, filepath.Join(dir, "ignored.png"), "binary-ish")
	if err := os.MkdirAll(filepath.Join(dir, "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "__pycache__", "cached.py"), "denied")

	e := NewEngine(nil, nil, func(id string) (string, bool) {
		if id == "basic" {
			return dir, true
		}
		return "", false
	})

	h1, err := e.templateFilesHash("basic")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := e.templateFilesHash("basic")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("template files hash not stable: %s != %s", h1, h2)
	}

	// Files outside the extension allow-list or under a denied directory do
	// not contribute: changing them leaves the hash unchanged.
	mustWrite(t, filepath.Join(dir, "ignored.png"), "other binary-ish")
	mustWrite(t, filepath.Join(dir, "__pycache__", "cached.py"), "other denied")
	h3, err := e.templateFilesHash("basic")
	if err != nil {
		t.Fatal(err)
	}
	if h3 != h1 {
		t.Fatalf("filtered files changed the template files hash: %s != %s", h3, h1)
	}

	// An allow-listed file does contribute.
	mustWrite(t, filepath.Join(dir, "README.md"), "changed docs")
	h4, err := e.templateFilesHash("basic")
	if err != nil {
		t.Fatal(err)
	}
	if h4 == h1 {
		t.Fatalf("changing an allow-listed file did not change the template files hash")
	}

	missing, err := e.templateFilesHash("does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if missing == h1 {
		t.Fatalf("missing template directory should not hash the same as a populated one")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
