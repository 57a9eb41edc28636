// Package cerr defines the error taxonomy shared by every layer of the
// cache (store, lock, eviction, and the public pkg/buildcache surface). It
// lives as its own leaf package so sentinel identity survives re-exporting
// through pkg/buildcache without introducing an import cycle between the
// internal layers and the public package that wires them together.
package cerr

import "errors"

// Sentinel errors forming the taxonomy. Callers classify with errors.Is
// rather than matching on message text.
var (
	// ErrNotFound means the requested key has no intact entry. A normal
	// miss; consumers see it as a nil payload, not a propagated error.
	ErrNotFound = errors.New("buildcache: not found")

	// ErrInvalidKey means a CacheKey failed validation at construction.
	// Programmer error — never produced by runtime filesystem state.
	ErrInvalidKey = errors.New("buildcache: invalid key")

	// ErrLockTimeout means a lock could not be acquired within the
	// configured bound.
	ErrLockTimeout = errors.New("buildcache: lock timeout")

	// ErrCorrupt means a required sibling file (data/metadata/last_access)
	// was missing or unparsable. Readers never surface this as a hit; it
	// is reported through the errors counter and the entry is scheduled
	// for repair-delete.
	ErrCorrupt = errors.New("buildcache: corrupt entry")

	// ErrAtomicPublishFailed means rename-based publication could not
	// reach a consistent state. Observable state remains the
	// pre-operation state after rollback.
	ErrAtomicPublishFailed = errors.New("buildcache: atomic publish failed")
)

// StoreError wraps a sentinel with the operation and key it occurred on,
// mirroring the os.PathError idiom: Op names the failing step, Key is the
// CacheKey's canonical string form (or empty when not key-scoped), Err is
// one of the sentinels above or an underlying I/O error.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return "buildcache: " + e.Op + ": " + e.Err.Error()
	}
	return "buildcache: " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) succeed through a *StoreError without
// callers needing to unwrap manually first.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Wrap builds a *StoreError, the common case at every call site in
// internal/store, internal/lock, and internal/evict.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
