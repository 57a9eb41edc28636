// Package index maintains a Badger-backed mirror of entry metadata so the
// eviction engine can rank candidates without walking the filesystem on
// every pass, plus an append-only ledger of cleanup reports for the
// health endpoint's "last cleanup" view. The index is an accelerator, not
// a second cache tier: the directory layout under cache_root remains the
// source of truth, and the index is rebuilt from a walk if missing.
package index

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jbcom/buildcache/internal/cachekey"
	"github.com/jbcom/buildcache/internal/unsafehelpers"
)

// valueLogFileSize is kept deliberately small (the index mirrors metadata,
// not payload bytes) and rounded up to a power-of-two boundary.
const valueLogFileSize = 16 << 20 // 16 MiB

const (
	entryPrefix  = "entry:"
	ledgerPrefix = "ledger:"
)

// Record mirrors the subset of on-disk entry metadata the eviction engine
// needs to rank candidates: size and the two timestamps the priority
// formula consumes.
type Record struct {
	Scope       string    `json:"scope"`
	Fingerprint string    `json:"fingerprint"`
	Stage       string    `json:"stage"`
	SizeBytes   int64     `json:"size_bytes"`
	AccessTime  time.Time `json:"access_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// Index wraps a Badger database. It is an acceleration structure only:
// internal/store's filesystem layout remains the source of truth, and a
// missing or stale Index entry never causes a Get/Put to fail.
type Index struct {
	db *badger.DB
}

// Open opens (creating if necessary) a Badger database at path with its
// own internal logging silenced.
func Open(path string) (*Index, error) {
	alignedValueLogSize := int64(unsafehelpers.AlignUp(uintptr(valueLogFileSize), 4096))
	db, err := badger.Open(badger.DefaultOptions(path).
		WithLogger(nil).
		WithValueLogFileSize(alignedValueLogSize))
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close releases the underlying Badger database.
func (i *Index) Close() error { return i.db.Close() }

func recordKey(key cachekey.CacheKey) []byte {
	return []byte(entryPrefix + key.String())
}

// Put upserts the metadata mirror for key.
func (i *Index) Put(key cachekey.CacheKey, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(key), b)
	})
}

// Delete removes key's metadata mirror, called whenever internal/store
// deletes or the eviction engine removes the underlying entry.
func (i *Index) Delete(key cachekey.CacheKey) error {
	return i.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(recordKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Touch refreshes key's mirrored AccessTime, leaving the rest of the
// record intact. Called on every read hit so index-sourced recency tracks
// the on-disk last_access marker; a missing record is ignored rather than
// created, since the next Put (or an index rebuild) will re-mirror the
// entry with full metadata.
func (i *Index) Touch(key cachekey.CacheKey, at time.Time) error {
	return i.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var r Record
		if err := item.Value(func(b []byte) error {
			return json.Unmarshal(b, &r)
		}); err != nil {
			return err
		}
		r.AccessTime = at
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return txn.Set(recordKey(key), b)
	})
}

// Get looks up key's mirrored metadata.
func (i *Index) Get(key cachekey.CacheKey) (Record, bool, error) {
	var r Record
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			return json.Unmarshal(b, &r)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// List returns every mirrored record, used by the eviction engine as its
// primary candidate source instead of a filesystem walk.
func (i *Index) List() ([]Record, error) {
	var out []Record
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var r Record
			if err := it.Item().Value(func(b []byte) error {
				return json.Unmarshal(b, &r)
			}); err != nil {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// AppendLedger stores an opaque JSON-encoded cleanup report so callers
// (internal/evict) don't need to hand this leaf package their report type.
// The key is a zero-padded nanosecond write timestamp followed by a uuid,
// so ledger keys sort lexicographically in write order.
func (i *Index) AppendLedger(payload []byte) error {
	key := fmt.Sprintf("%s%020d-%s", ledgerPrefix, time.Now().UnixNano(), uuid.NewString())
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

// LastLedgerEntries returns up to limit most recently written ledger
// payloads, newest first: Badger iterates keys in lexicographic order, and
// ledger keys begin with their write timestamp, so a reverse iteration
// yields them by decreasing recency.
func (i *Index) LastLedgerEntries(limit int) ([][]byte, error) {
	var out [][]byte
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ledgerPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append([]byte(ledgerPrefix), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(opts.Prefix) && len(out) < limit; it.Next() {
			if err := it.Item().Value(func(b []byte) error {
				cp := make([]byte, len(b))
				copy(cp, b)
				out = append(out, cp)
				return nil
			}); err != nil {
				continue
			}
		}
		return nil
	})
	return out, err
}
