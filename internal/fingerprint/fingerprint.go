// Package fingerprint computes the deterministic 256-bit compilation
// fingerprint that seeds every CacheKey. It is a pure function of its
// inputs: the same CompilationRequest, registries, template directory
// contents, and hasher version always produce the same digest, independent
// of host OS, locale, time zone, or the iteration order of any unordered
// input container.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Digest is the 64-hex-character lowercase fingerprint.
type Digest string

// Component is one entry in a CompilationRequest's component list.
type Component struct {
	ID            string
	Configuration map[string]any
}

// Asset describes one input asset referenced by a compilation.
type Asset struct {
	Path            string
	Type            string
	LogicalPath     string
	TransformParams map[string]any
}

// CompilationRequest is the full input to a fingerprint computation.
type CompilationRequest struct {
	TemplateID    string
	Components    []Component
	Configuration map[string]any
	Assets        []Asset
}

// TemplateDef is a template registry entry, looked up by identity and
// never itself hashed wholesale; only an enumerated subset of its fields
// flows into the fingerprint.
type TemplateDef struct {
	Name              string
	Version           string
	Structure         map[string]any
	RequiredSystems   []string
	RequiredMechanics []string
	Slots             []string
}

// ComponentDef is a component registry entry.
type ComponentDef struct {
	Name         string
	Version      string
	Type         string
	Dependencies []string
	Systems      []string
	Mechanics    []string
}

// TemplateDirResolver returns the on-disk directory backing a template ID,
// or ok == false if no such directory exists. The Engine never guesses at
// search paths itself; the caller owns the template layout.
type TemplateDirResolver func(templateID string) (dir string, ok bool)

// Engine computes fingerprints from registries and a template directory
// resolver. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	Templates  map[string]TemplateDef
	Components map[string]ComponentDef
	ResolveDir TemplateDirResolver
}

// NewEngine constructs a fingerprint Engine. resolveDir may be nil, in
// which case every template is treated as having no on-disk directory and
// template_files_hash degrades to the SHA-256 of zero bytes.
func NewEngine(templates map[string]TemplateDef, components map[string]ComponentDef, resolveDir TemplateDirResolver) *Engine {
	return &Engine{Templates: templates, Components: components, ResolveDir: resolveDir}
}

// Compute derives the 256-bit fingerprint for req. It never returns an
// error for missing registry entries or missing asset files — those
// degrade to documented defaults. It returns an error only when a
// referenced template directory exists but cannot be walked.
func (e *Engine) Compute(req CompilationRequest) (Digest, error) {
	configHash, err := canonicalJSON(orEmptyMap(req.Configuration))
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize configuration: %w", err)
	}

	templateHash, err := e.templateHash(req.TemplateID)
	if err != nil {
		return "", err
	}

	componentsHash, err := e.componentsHash(req.Components)
	if err != nil {
		return "", err
	}

	assetsHash, err := assetsHash(req.Assets)
	if err != nil {
		return "", err
	}

	versionsHash, err := versionsHash()
	if err != nil {
		return "", err
	}

	securityHash, err := securityHash(req.Configuration)
	if err != nil {
		return "", err
	}

	sections := []section{
		{"configuration", string(configHash)},
		{"template", templateHash},
		{"components", componentsHash},
		{"assets", assetsHash},
		{"versions", versionsHash},
		{"security", securityHash},
	}

	payload := struct {
		HasherVersion string    `json:"hasher_version"`
		Components    []section `json:"components"`
	}{
		HasherVersion: hasherVersion,
		Components:    sections,
	}

	encoded, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize payload: %w", err)
	}

	sum := sha256.Sum256(encoded)
	return Digest(hex.EncodeToString(sum[:])), nil
}

// section is (section_name, section_hash); it marshals as a two-element
// JSON array so the pair ordering is itself part of the hashed bytes,
// unlike an object whose key order canonicalisation would erase.
type section struct {
	Name string
	Hash string
}

func (s section) MarshalJSON() ([]byte, error) {
	return canonicalJSON([2]string{s.Name, s.Hash})
}

func (e *Engine) templateHash(templateID string) (string, error) {
	def := e.Templates[templateID]

	filesHash, err := e.templateFilesHash(templateID)
	if err != nil {
		return "", err
	}

	content := struct {
		ID                string   `json:"id"`
		Name              string   `json:"name"`
		Version           string   `json:"version"`
		Structure         any      `json:"structure"`
		RequiredSystems   []string `json:"required_systems"`
		RequiredMechanics []string `json:"required_mechanics"`
		Slots             []string `json:"slots"`
		TemplateFilesHash string   `json:"template_files_hash"`
	}{
		ID:                templateID,
		Name:              def.Name,
		Version:           orDefault(def.Version, "1.0"),
		Structure:         orEmptyMap(def.Structure),
		RequiredSystems:   sortedCopy(def.RequiredSystems),
		RequiredMechanics: sortedCopy(def.RequiredMechanics),
		Slots:             def.Slots,
		TemplateFilesHash: filesHash,
	}

	encoded, err := canonicalJSON(content)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize template: %w", err)
	}
	return hashHex(encoded), nil
}

func (e *Engine) componentsHash(components []Component) (string, error) {
	type pair struct {
		id   string
		hash string
	}
	pairs := make([]pair, 0, len(components))
	for _, c := range components {
		def := e.Components[c.ID]
		input := struct {
			ID            string   `json:"id"`
			Name          string   `json:"name"`
			Version       string   `json:"version"`
			Type          string   `json:"type"`
			Dependencies  []string `json:"dependencies"`
			Systems       []string `json:"systems"`
			Mechanics     []string `json:"mechanics"`
			Configuration any      `json:"configuration"`
		}{
			ID:            c.ID,
			Name:          def.Name,
			Version:       orDefault(def.Version, "1.0"),
			Type:          def.Type,
			Dependencies:  def.Dependencies,
			Systems:       sortedCopy(def.Systems),
			Mechanics:     sortedCopy(def.Mechanics),
			Configuration: orEmptyMap(c.Configuration),
		}
		encoded, err := canonicalJSON(input)
		if err != nil {
			return "", fmt.Errorf("fingerprint: canonicalize component %q: %w", c.ID, err)
		}
		pairs = append(pairs, pair{id: c.ID, hash: hashHex(encoded)})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	tuples := make([][2]string, len(pairs))
	for i, p := range pairs {
		tuples[i] = [2]string{p.id, p.hash}
	}

	encoded, err := canonicalJSON(tuples)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize components list: %w", err)
	}
	return hashHex(encoded), nil
}

func assetsHash(assets []Asset) (string, error) {
	hashes := make([]string, 0, len(assets))
	for _, a := range assets {
		contentHash := "none"
		if a.Path != "" {
			if h, err := fileChecksum(a.Path); err == nil {
				contentHash = h
			}
		}

		input := struct {
			Metadata struct {
				Path            string `json:"path"`
				Type            string `json:"type"`
				LogicalPath     string `json:"logical_path"`
				TransformParams any    `json:"transform_params"`
			} `json:"metadata"`
			ContentHash string `json:"content_hash"`
		}{}
		input.Metadata.Path = a.Path
		input.Metadata.Type = a.Type
		input.Metadata.LogicalPath = a.LogicalPath
		input.Metadata.TransformParams = orEmptyMap(a.TransformParams)
		input.ContentHash = contentHash

		encoded, err := canonicalJSON(input)
		if err != nil {
			return "", fmt.Errorf("fingerprint: canonicalize asset %q: %w", a.Path, err)
		}
		hashes = append(hashes, hashHex(encoded))
	}

	sort.Strings(hashes)

	encoded, err := canonicalJSON(hashes)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize assets list: %w", err)
	}
	return hashHex(encoded), nil
}

func versionsHash() (string, error) {
	versions := struct {
		Hasher            string `json:"hasher"`
		PygameRuntime     string `json:"pygame_runtime_version"`
		WasmCompiler      string `json:"wasm_compiler_version"`
		HostLanguageMinor string `json:"host_language_minor"`
	}{
		Hasher:            hasherVersion,
		PygameRuntime:     pygameRuntimeVer,
		WasmCompiler:      wasmCompilerVer,
		HostLanguageMinor: hostLanguageMinor,
	}
	encoded, err := canonicalJSON(versions)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize versions: %w", err)
	}
	return hashHex(encoded), nil
}

func securityHash(configuration map[string]any) (string, error) {
	flags := struct {
		EnableDebug         bool `json:"enable_debug"`
		EnableConsole       bool `json:"enable_console"`
		AllowExternalAssets bool `json:"allow_external_assets"`
		SandboxMode         bool `json:"sandbox_mode"`
	}{
		EnableDebug:         boolField(configuration, "enable_debug", false),
		EnableConsole:       boolField(configuration, "enable_console", false),
		AllowExternalAssets: boolField(configuration, "allow_external_assets", false),
		SandboxMode:         boolField(configuration, "sandbox_mode", true),
	}
	encoded, err := canonicalJSON(flags)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize security flags: %w", err)
	}
	return hashHex(encoded), nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func boolField(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
