package download

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/spf13/afero"
)

// Verify checks the file at path against the record's declared size and
// md5. A file that fails verification is removed. The computed md5 is
// returned on success.
func Verify(fs afero.Fs, path string, rec *manifest.AssetRecord) (string, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return "", syncerr.New(syncerr.KindWrite, rec.Path, err)
	}

	if info.Size() != rec.Size {
		fs.Remove(path)
		return "", syncerr.Newf(syncerr.KindSizeMismatch, rec.Path, "expected %d bytes, got %d", rec.Size, info.Size())
	}

	sum, err := fsutil.FileMD5(fs, path)
	if err != nil {
		fs.Remove(path)
		return "", syncerr.New(syncerr.KindWrite, rec.Path, err)
	}

	if rec.MD5 != "" && !strings.EqualFold(sum, rec.MD5) {
		fs.Remove(path)
		return "", syncerr.Newf(syncerr.KindHashMismatch, rec.Path, "expected md5 %s, got %s", strings.ToLower(rec.MD5), sum)
	}

	return sum, nil
}

// TreeResult is the verification result of one manifest entry on disk.
type TreeResult struct {
	Path    string
	Missing bool
	Hash    string
	Err     error
}

// VerifyTree verifies every manifest entry present below root. Entries not
// on disk are reported as missing; mismatching files are removed.
func VerifyTree(fs afero.Fs, root string, m *manifest.Manifest) []TreeResult {
	results := make([]TreeResult, 0, m.Len())

	for _, rec := range m.Records {
		target, err := manifest.Confined(root, rec.Path)
		if err != nil {
			results = append(results, TreeResult{Path: rec.Path, Err: err})
			continue
		}

		rel, _ := manifest.NormalizePath(rec.Path)
		if !fsutil.Exists(fs, target) {
			results = append(results, TreeResult{Path: rel, Missing: true})
			continue
		}

		sum, err := Verify(fs, target, rec)
		results = append(results, TreeResult{Path: rel, Hash: sum, Err: err})
	}

	return results
}

// CleanTemp removes staging files left behind by an interrupted run.
func CleanTemp(fs afero.Fs, root string) (int, error) {
	dir := fsutil.TempPath(root)

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if ok, _ := afero.DirExists(fs, dir); !ok {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := fs.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
