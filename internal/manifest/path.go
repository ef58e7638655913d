package manifest

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/mwantia/assetsync/internal/syncerr"
)

// Key normalizes a relative storage path for map lookups. Invalid paths
// fall back to their trimmed raw form so duplicates are still detected.
func Key(p string) string {
	if clean, err := NormalizePath(p); err == nil {
		return clean
	}
	return strings.TrimSpace(p)
}

// NormalizePath cleans a manifest relative path into slash form and rejects
// absolute paths or anything that escapes the destination root.
func NormalizePath(p string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if raw == "" {
		return "", syncerr.Newf(syncerr.KindPathTraversal, p, "empty path")
	}
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(raw) || hasVolume(raw) {
		return "", syncerr.Newf(syncerr.KindPathTraversal, p, "absolute path not allowed")
	}

	clean := path.Clean(raw)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", syncerr.Newf(syncerr.KindPathTraversal, p, "path escapes destination root")
	}
	return clean, nil
}

// Confined joins a relative path onto root after validating it.
func Confined(root, p string) (string, error) {
	clean, err := NormalizePath(p)
	if err != nil {
		return "", err
	}

	target := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", syncerr.Newf(syncerr.KindPathTraversal, p, "path escapes destination root")
	}
	return target, nil
}

func hasVolume(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
