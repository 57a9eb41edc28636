// Package cachekey implements the (scope, fingerprint, stage) cache key
// triple and its mapping onto a filesystem path. It has no dependency on
// pkg/buildcache so the store, lock, and eviction layers can all depend on
// it directly without creating a cycle back through the public package.
package cachekey

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jbcom/buildcache/internal/cerr"
)

// Stage names a point in the compilation pipeline a cache entry belongs to.
// Stages carry different importance weights during eviction ranking (see
// StageImportance below, read by internal/evict's priority formula).
type Stage string

const (
	StageInputs  Stage = "inputs"
	StageAssets  Stage = "assets"
	StageCode    Stage = "code"
	StageDesktop Stage = "desktop"
	StageWeb     Stage = "web"
)

var validStages = map[Stage]bool{
	StageInputs:  true,
	StageAssets:  true,
	StageCode:    true,
	StageDesktop: true,
	StageWeb:     true,
}

// StageImportance is the per-stage weight table used when ranking entries
// for eviction. Higher importance means the stage is more expensive to
// regenerate; the factor is inverted at scoring time so important stages
// score lower and survive longer.
var StageImportance = map[Stage]float64{
	StageWeb:     1.0,
	StageDesktop: 1.1,
	StageAssets:  1.3,
	StageCode:    1.5,
	StageInputs:  2.0,
}

var (
	scopePattern       = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// CacheKey identifies one cache entry. It carries no I/O; ToPath is a pure
// function of its fields and a root directory.
type CacheKey struct {
	scope       string
	fingerprint string
	stage       Stage
}

// New validates and constructs a CacheKey. scope must be a lowercase
// identifier; fingerprintHex must be exactly 64 lowercase hex characters
// (a SHA-256 digest); stage must be one of the five known stages. Path
// separators anywhere in scope or fingerprint are rejected explicitly even
// though the character-class patterns above already exclude them, since a
// future stage-independent caller constructing strings by hand is the
// likely source of a traversal attempt.
func New(scope, fingerprintHex string, stage Stage) (CacheKey, error) {
	if strings.ContainsAny(scope, `/\`) || !scopePattern.MatchString(scope) {
		return CacheKey{}, cerr.Wrap("cachekey.New", "", cerr.ErrInvalidKey)
	}
	if strings.ContainsAny(fingerprintHex, `/\`) || !fingerprintPattern.MatchString(fingerprintHex) {
		return CacheKey{}, cerr.Wrap("cachekey.New", "", cerr.ErrInvalidKey)
	}
	if !validStages[stage] {
		return CacheKey{}, cerr.Wrap("cachekey.New", "", cerr.ErrInvalidKey)
	}
	return CacheKey{scope: scope, fingerprint: fingerprintHex, stage: stage}, nil
}

func (k CacheKey) Scope() string       { return k.scope }
func (k CacheKey) Fingerprint() string { return k.fingerprint }
func (k CacheKey) Stage() Stage        { return k.stage }

// ToPath returns <root>/<scope>/<fingerprint>/<stage>.
func (k CacheKey) ToPath(root string) string {
	return filepath.Join(root, k.scope, k.fingerprint, string(k.stage))
}

func (k CacheKey) String() string {
	return k.scope + "/" + k.fingerprint + "/" + string(k.stage)
}

// IsValidStage reports whether s names one of the five known stages,
// exported for callers outside this package (internal/store's directory
// walk) that parse a stage value from a directory name before constructing
// a CacheKey.
func IsValidStage(s Stage) bool {
	return validStages[s]
}

// AllStages returns the five known stages in pipeline order (inputs,
// assets, code, desktop, web), which is not their eviction-importance
// order; mainly useful for iteration in CLI and test code.
func AllStages() []Stage {
	return []Stage{StageInputs, StageAssets, StageCode, StageDesktop, StageWeb}
}
