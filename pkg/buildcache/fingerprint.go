package buildcache

import "github.com/jbcom/buildcache/internal/fingerprint"

// The fingerprint algorithm is a published contract — bumping the hasher,
// runtime, or compiler version is the only supported invalidation
// mechanism for toolchain upgrades — so its types are re-exported here
// the same way CacheKey is: aliases into internal/fingerprint, where the
// hashing lives alongside the store and eviction layers that consume its
// output.

// Fingerprint is the 64-hex-character lowercase compilation fingerprint.
type Fingerprint = fingerprint.Digest

// CompilationRequest is the full input to a fingerprint computation: the
// template, its ordered component list, the free-form configuration
// mapping, and any referenced assets.
type CompilationRequest = fingerprint.CompilationRequest

// CompilationComponent is one entry in a CompilationRequest's component
// list.
type CompilationComponent = fingerprint.Component

// CompilationAsset describes one input asset referenced by a compilation.
type CompilationAsset = fingerprint.Asset

// TemplateDef and ComponentDef are registry entries the engine looks up by
// ID; only the fields the hashing algorithm names flow into the digest.
type (
	TemplateDef  = fingerprint.TemplateDef
	ComponentDef = fingerprint.ComponentDef
)

// TemplateDirResolver maps a template ID to its on-disk directory. The
// engine never guesses at search paths itself; the caller owns the
// template layout.
type TemplateDirResolver = fingerprint.TemplateDirResolver

// FingerprintEngine computes deterministic compilation fingerprints. It
// holds no mutable state and is safe for concurrent use.
type FingerprintEngine = fingerprint.Engine

// NewFingerprintEngine constructs a FingerprintEngine over the given
// registries. resolveDir may be nil, in which case every template is
// treated as having no on-disk directory.
func NewFingerprintEngine(templates map[string]TemplateDef, components map[string]ComponentDef, resolveDir TemplateDirResolver) *FingerprintEngine {
	return fingerprint.NewEngine(templates, components, resolveDir)
}

// FingerprintKey computes req's fingerprint and binds it into a CacheKey
// for stage under scope, the first step of both the put and get flows.
func FingerprintKey(engine *FingerprintEngine, scope string, req CompilationRequest, stage Stage) (CacheKey, error) {
	digest, err := engine.Compute(req)
	if err != nil {
		return CacheKey{}, err
	}
	return NewCacheKey(scope, string(digest), stage)
}
