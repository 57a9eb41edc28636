// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so the rest of this module stays clean and easy
// to audit. Every helper documents its pre/post-conditions.
//
// DISCLAIMER: these helpers deliberately break the Go memory-safety model
// for the sake of zero-allocation conversions. Use only inside this
// repository; they are not part of the public API.
package unsafehelpers

import "unsafe"

// BytesToString converts a mutable byte slice to an immutable string
// without allocating. The caller must guarantee that b is never modified
// for the lifetime of the resulting string. Used on the entry last-access
// read path, where the access timestamp is parsed immediately and the
// backing buffer discarded.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets string data as a byte slice without copying.
// The returned slice MUST remain read-only: writing to it mutates immutable
// string storage. Used on the entry last-access write path, where a
// freshly formatted RFC3339 timestamp string is handed straight to a
// write(2) call that never mutates its buffer.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// AlignUp rounds x up to the nearest multiple of align, which must be a
// power of two. Used when sizing Badger value-log segment boundaries for
// the accelerator index, a cheap bit-twiddling substitute for math.Ceil.
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}
