package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jbcom/buildcache/internal/unsafehelpers"
)

const (
	dataFileName     = "data.json"
	metadataFileName = "metadata.json"
	accessFileName   = "last_access"
	lockFileName     = ".lock"

	tmpPrefix    = "tmp_"
	backupPrefix = "backup_"
)

// Entry is the in-memory form of one cache entry: the raw payload plus
// whatever metadata the caller attached at write time.
type Entry struct {
	Data     []byte
	Metadata map[string]any
}

// entryPaths collects the file paths that make up one on-disk entry. The
// data, metadata and last_access files live inside the stage directory;
// the lock file does not: it sits beside the stage directory as
// <stage>.lock.
type entryPaths struct {
	dir      string
	data     string
	metadata string
	access   string
	lock     string
}

func paths(dir string) entryPaths {
	return entryPaths{
		dir:      dir,
		data:     filepath.Join(dir, dataFileName),
		metadata: filepath.Join(dir, metadataFileName),
		access:   filepath.Join(dir, accessFileName),
		lock:     dir + lockFileName,
	}
}

// exists reports whether the entry's data file is present, the cheap
// pre-lock check for whether a hit is possible at all.
func (p entryPaths) exists() bool {
	_, err := os.Stat(p.data)
	return err == nil
}

// writeEntry serializes data and metadata as JSON into dir, fsyncing each
// file and the directory itself before returning, so a crash after this
// call either sees both files durably or (if dir itself is a tmp_*
// directory not yet renamed into place) sees neither.
func writeEntry(dir string, e Entry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	p := paths(dir)

	dataBytes, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	if err := writeFileSynced(p.data, dataBytes); err != nil {
		return err
	}

	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := writeFileSynced(p.metadata, metaBytes); err != nil {
		return err
	}

	if err := touchAccess(p); err != nil {
		return err
	}

	return fsyncDir(dir)
}

func writeFileSynced(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// touchAccess records the current time as the entry's last-access
// instant, written explicitly into the file rather than relying on
// filesystem atime (frequently disabled by noatime mounts).
func touchAccess(p entryPaths) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return writeFileSynced(p.access, unsafehelpers.StringToBytes(now))
}

func readAccess(p entryPaths) (time.Time, error) {
	b, err := os.ReadFile(p.access)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, unsafehelpers.BytesToString(b))
}

func readEntry(dir string) (Entry, error) {
	p := paths(dir)

	dataBytes, err := os.ReadFile(p.data)
	if err != nil {
		return Entry{}, err
	}
	var data []byte
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return Entry{}, err
	}

	metaBytes, err := os.ReadFile(p.metadata)
	if err != nil {
		return Entry{}, err
	}
	var meta map[string]any
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Entry{}, err
	}

	return Entry{Data: data, Metadata: meta}, nil
}

// dirSize sums the apparent size of every regular file directly inside dir.
func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
