package fingerprint

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// allowedTemplateExt is the set of extensions whose content is
// deterministic enough to fold into template_files_hash.
var allowedTemplateExt = map[string]bool{
	".j2": true, ".jinja2": true, ".py": true, ".md": true, ".txt": true,
	".json": true, ".toml": true, ".yaml": true, ".yml": true,
}

// deniedPathFragments marks cache dirs, VCS dirs, OS cruft, and temp/log
// files as excluded from hashing, regardless of extension.
var deniedPathFragments = []string{
	"__pycache__", ".pyc", ".pyo", ".DS_Store", "Thumbs.db",
	".git", ".svn", ".hg", ".tmp", ".temp", ".log", ".cache",
}

type templateFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// templateFilesHash walks templateID's on-disk directory (via e.ResolveDir)
// and hashes the sorted, allow-listed, deny-filtered file list. A missing
// directory is not an error: it degrades to the SHA-256 of zero bytes.
func (e *Engine) templateFilesHash(templateID string) (string, error) {
	var dir string
	var ok bool
	if e.ResolveDir != nil {
		dir, ok = e.ResolveDir(templateID)
	}
	if !ok {
		// No on-disk directory for this template: hash of zero bytes,
		// matching the degraded case rather than an empty file-list record.
		return hashHex(nil), nil
	}

	var files []templateFile
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("fingerprint: walk %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		if isDenied(path) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !allowedTemplateExt[ext] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// A file whose info or content cannot be read is omitted rather
			// than aborting the whole walk; the failure is not logged or
			// reported to the caller.
			return nil
		}

		h, err := fileChecksum(path)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		files = append(files, templateFile{
			Path: filepath.ToSlash(rel),
			Hash: h,
			Size: info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	data := struct {
		TemplateID string         `json:"template_id"`
		Files      []templateFile `json:"files"`
		FileCount  int            `json:"file_count"`
	}{
		TemplateID: templateID,
		Files:      files,
		FileCount:  len(files),
	}

	encoded, err := canonicalJSON(data)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize template files: %w", err)
	}
	return hashHex(encoded), nil
}

func isDenied(path string) bool {
	for _, frag := range deniedPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}
