package cleanup

import (
	"path/filepath"

	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/pkg/log"
	"github.com/spf13/afero"
)

// Cleaner removes orphaned files below a destination root.
type Cleaner struct {
	fs     afero.Fs
	root   string
	logger log.LoggerService
}

func NewCleaner(fs afero.Fs, root string, logger log.LoggerService) *Cleaner {
	if logger == nil {
		logger = log.Discard()
	}
	return &Cleaner{
		fs:     fs,
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Run handles every delete item. In dry-run mode candidates are only
// reported. Failures are recorded per item and never stop the remaining
// deletions.
func (c *Cleaner) Run(items []*plan.Item, dryRun bool) []report.Outcome {
	outcomes := make([]report.Outcome, 0, len(items))

	for _, item := range items {
		if item.Action != plan.ActionDelete {
			continue
		}

		o := report.Outcome{
			Path:   item.Path,
			Action: plan.ActionDelete,
			Reason: item.Reason,
		}
		if item.Local != nil {
			o.Size = item.Local.Size
		}

		if dryRun {
			o.Status = report.StatusPlanned
			outcomes = append(outcomes, o)
			continue
		}

		o.Attempts = 1
		if err := c.remove(item.Path); err != nil {
			c.logger.Warn("Failed to remove orphan '%s': %v", item.Path, err)
			o.SetError(err)
		} else {
			c.logger.Debug("Removed orphan '%s'", item.Path)
			o.Status = report.StatusSuccess
		}
		outcomes = append(outcomes, o)
	}

	return outcomes
}

func (c *Cleaner) remove(rel string) error {
	target, err := manifest.Confined(c.root, rel)
	if err != nil {
		return err
	}

	if err := c.fs.Remove(target); err != nil {
		return syncerr.New(syncerr.KindCleanup, rel, err)
	}

	c.prune(filepath.Dir(target))
	return nil
}

// prune removes empty directories from dir upwards, stopping below root.
func (c *Cleaner) prune(dir string) {
	for dir != c.root && len(dir) > len(c.root) {
		empty, err := afero.IsEmpty(c.fs, dir)
		if err != nil || !empty {
			return
		}
		if err := c.fs.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
