package fingerprint

// Version constants for the fingerprint surface. Bumping any of these
// invalidates every previously computed fingerprint: that is the intended,
// and only supported, invalidation mechanism for toolchain upgrades.
const (
	hasherVersion     = "1.0"
	pygameRuntimeVer  = "2.4.1"
	wasmCompilerVer   = "0.8.7"
	hostLanguageMinor = "3.11"
)
