package buildcache

import "github.com/jbcom/buildcache/internal/cerr"

// Sentinel errors forming the cache's error taxonomy. Callers classify with
// errors.Is rather than matching on message text. Defined in internal/cerr
// and re-exported here as the identical values so both internal packages
// and public callers classify against the same sentinel identity.
var (
	ErrNotFound            = cerr.ErrNotFound
	ErrInvalidKey          = cerr.ErrInvalidKey
	ErrLockTimeout         = cerr.ErrLockTimeout
	ErrCorrupt             = cerr.ErrCorrupt
	ErrAtomicPublishFailed = cerr.ErrAtomicPublishFailed
)

// StoreError wraps a sentinel with the operation and key it occurred on,
// mirroring the os.PathError idiom. Aliased from internal/cerr so a
// *buildcache.StoreError and a *cerr.StoreError returned from internal/store
// are the same concrete type.
type StoreError = cerr.StoreError
