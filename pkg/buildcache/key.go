package buildcache

import "github.com/jbcom/buildcache/internal/cachekey"

// Stage is the closed enum of compilation-pipeline phases a CacheKey may
// name. Each stage is cached independently of the others. Aliased from
// internal/cachekey so internal/store, internal/evict, and internal/index
// can all construct and compare CacheKeys without importing this package.
type Stage = cachekey.Stage

const (
	StageInputs  = cachekey.StageInputs
	StageAssets  = cachekey.StageAssets
	StageCode    = cachekey.StageCode
	StageDesktop = cachekey.StageDesktop
	StageWeb     = cachekey.StageWeb
)

// CacheKey is the immutable (scope, fingerprint, stage) triple addressing
// one on-disk Entry. It performs no I/O.
type CacheKey = cachekey.CacheKey

// NewCacheKey validates and constructs a CacheKey. scope must match
// [a-z_][a-z0-9_]*, fingerprint must be a 64-hex-char SHA-256 digest, and
// stage must be one of the closed enum values.
func NewCacheKey(scope, fingerprintHex string, stage Stage) (CacheKey, error) {
	return cachekey.New(scope, fingerprintHex, stage)
}

// KeyFromDigest builds a CacheKey directly from a 32-byte digest, hex
// encoding it to the 64-character fingerprint NewCacheKey expects. It is
// the way to turn an arbitrary digest into a valid key without going
// through a full fingerprint computation.
func KeyFromDigest(scope string, digest [32]byte, stage Stage) (CacheKey, error) {
	const hexDigits = "0123456789abcdef"
	hex := make([]byte, 64)
	for i, b := range digest {
		hex[i*2] = hexDigits[b>>4]
		hex[i*2+1] = hexDigits[b&0x0f]
	}
	return cachekey.New(scope, string(hex), stage)
}
