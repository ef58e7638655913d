package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/spf13/afero"
)

// Save writes the report as indented JSON. The file is replaced atomically.
func (r *Report) Save(fs afero.Fs, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsutil.EnsureDir(fs, dir); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

// Load reads a report persisted by Save.
func Load(fs afero.Fs, path string) (*Report, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("report %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("malformed report %s: %w", path, err)
	}
	if r.Destination == "" {
		return nil, fmt.Errorf("report %s has no destination", path)
	}
	return &r, nil
}
