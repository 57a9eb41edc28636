package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbcom/buildcache/internal/cachekey"
)

// Sweep removes any tmp_*/backup_* directories left over from a process
// that crashed mid-publish. Neither kind is ever observed by a reader
// going through Get/Put (those only ever look at the final
// scope/fingerprint/stage path), but they consume disk space indefinitely
// unless reclaimed at startup.
func Sweep(root string, logger *zap.Logger) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, scopeEntry := range entries {
		if !scopeEntry.IsDir() {
			continue
		}
		scopeDir := filepath.Join(root, scopeEntry.Name())
		fpEntries, err := os.ReadDir(scopeDir)
		if err != nil {
			continue
		}
		for _, fpEntry := range fpEntries {
			fpDir := filepath.Join(scopeDir, fpEntry.Name())
			// tmp_*/backup_* directories are created as siblings of the
			// stage directory one level below the fingerprint directory
			// (see atomicPublish), never as the fingerprint directory
			// itself, so the orphan check happens here, on fpDir's
			// children, not on fpEntry's own name.
			stageEntries, err := os.ReadDir(fpDir)
			if err != nil {
				continue
			}
			for _, stageEntry := range stageEntries {
				name := stageEntry.Name()
				if strings.HasPrefix(name, tmpPrefix) || strings.HasPrefix(name, backupPrefix) {
					victim := filepath.Join(fpDir, name)
					if err := os.RemoveAll(victim); err != nil {
						logger.Warn("startup sweep failed to remove orphaned directory",
							zap.String("path", victim), zap.Error(err))
					} else {
						logger.Info("startup sweep removed orphaned directory", zap.String("path", victim))
					}
				}
			}
		}
	}
	return nil
}

// EntryInfo describes one live entry for eviction ranking and stats
// collection.
type EntryInfo struct {
	Key        cachekey.CacheKey
	Path       string
	SizeBytes  int64
	AccessTime time.Time
	CreatedAt  time.Time
}

// ListEntries walks the store's root and returns every live (non tmp_*,
// non backup_*) entry directory found at the scope/fingerprint/stage depth.
func (s *Store) ListEntries() ([]EntryInfo, error) {
	var out []EntryInfo

	scopeEntries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, scopeEntry := range scopeEntries {
		if !scopeEntry.IsDir() {
			continue
		}
		scope := scopeEntry.Name()
		scopeDir := filepath.Join(s.root, scope)

		fpEntries, err := os.ReadDir(scopeDir)
		if err != nil {
			continue
		}
		for _, fpEntry := range fpEntries {
			fingerprint := fpEntry.Name()
			if strings.HasPrefix(fingerprint, tmpPrefix) || strings.HasPrefix(fingerprint, backupPrefix) {
				continue
			}
			fpDir := filepath.Join(scopeDir, fingerprint)

			stageEntries, err := os.ReadDir(fpDir)
			if err != nil {
				continue
			}
			for _, stageEntry := range stageEntries {
				stage := cachekey.Stage(stageEntry.Name())
				if !cachekey.IsValidStage(stage) {
					continue
				}
				key, err := cachekey.New(scope, fingerprint, stage)
				if err != nil {
					continue
				}
				dir := key.ToPath(s.root)
				p := paths(dir)
				if !p.exists() {
					continue
				}

				size, err := dirSize(dir)
				if err != nil {
					continue
				}
				access, err := readAccess(p)
				if err != nil {
					access = time.Time{}
				}
				info, statErr := os.Stat(p.data)
				created := access
				if statErr == nil {
					created = info.ModTime()
				}

				out = append(out, EntryInfo{
					Key:        key,
					Path:       dir,
					SizeBytes:  size,
					AccessTime: access,
					CreatedAt:  created,
				})
			}
		}
	}
	return out, nil
}
