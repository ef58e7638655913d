package config

import (
	"path/filepath"
	"time"

	"github.com/mwantia/assetsync/internal/fsutil"
)

type SyncConfig struct {
	Cleanup bool     `mapstructure:"cleanup" yaml:"cleanup"`
	DryRun  bool     `mapstructure:"dry_run" yaml:"dry_run"`
	Force   bool     `mapstructure:"force"   yaml:"force"`
	Ignore  []string `mapstructure:"ignore"  yaml:"ignore"`
	Report  string   `mapstructure:"report"  yaml:"report"`
	TTL     string   `mapstructure:"ttl"     yaml:"ttl"`
}

// TTLDuration is the minimum age of the last successful run before a new
// sync is performed. Zero disables the check.
func (c SyncConfig) TTLDuration() (time.Duration, error) {
	return parseDuration("sync.ttl", c.TTL)
}

// StateConfig selects where the LocalState index lives.
type StateConfig struct {
	Type   string            `mapstructure:"type"   yaml:"type"`
	SQLite StateSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

type StateSQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PathFor returns the sqlite path for a destination root, defaulting to a
// file inside the root's private directory.
func (c StateConfig) PathFor(root string) string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return filepath.Join(fsutil.PrivatePath(root), "state.db")
}

// ReportPath returns where the report of runID is written. Reports are kept
// in the destination's private directory unless sync.report is set.
func (c *BaseConfig) ReportPath(runID string) string {
	if c.Sync.Report != "" {
		return c.Sync.Report
	}
	return filepath.Join(fsutil.PrivatePath(c.Destination), "reports", runID+".json")
}
