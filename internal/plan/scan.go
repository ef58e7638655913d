package plan

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/spf13/afero"
)

// LocalFile is a regular file found below a destination root.
type LocalFile struct {
	Path     string // slash separated, relative to root
	Size     int64
	ModTime  time.Time
	Mode     os.FileMode
	UID      uint32
	GID      uint32
	HasOwner bool
}

// Scanner walks a destination root read-only.
type Scanner struct {
	fs     afero.Fs
	ignore []string
}

func NewScanner(fs afero.Fs, ignore []string) *Scanner {
	return &Scanner{
		fs:     fs,
		ignore: ignore,
	}
}

// Scan returns every regular file below root keyed by relative path. The
// private .assetsync directory and ignored paths are skipped. A missing
// root yields an empty result.
func (s *Scanner) Scan(root string) (map[string]*LocalFile, error) {
	files := make(map[string]*LocalFile)

	if ok, err := afero.DirExists(s.fs, root); err != nil || !ok {
		return files, nil
	}

	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel == fsutil.PrivateDir || s.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || s.Ignored(rel) {
			return nil
		}

		uid, gid, ok := fsutil.Owner(info)
		files[rel] = &LocalFile{
			Path:     rel,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Mode:     info.Mode().Perm(),
			UID:      uid,
			GID:      gid,
			HasOwner: ok,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Ignored reports whether rel matches one of the ignore globs.
func (s *Scanner) Ignored(rel string) bool {
	for _, pattern := range s.ignore {
		pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "/")
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
