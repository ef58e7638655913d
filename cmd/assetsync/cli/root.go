package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewRootCommand(version VersionInfo) *cobra.Command {
	var path string
	info = version

	cmd := &cobra.Command{
		Use:           "assetsync",
		Short:         "One-way asset mirror",
		Long:          "Mirrors the files listed in a remote JSON manifest into a local directory, verifying size and md5 of every download and reporting per-file results.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	flags.Bool("no-color", false, "Disables colored command output")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	flags.StringP("manifest", "m", "", "manifest file path or http(s)/s3 URL")
	flags.StringP("dest", "d", "", "destination directory")
	flags.String("base-url", "", "base URL for relative manifest URIs")

	flags.String("source-user", "", "basic auth user for the manifest source")
	flags.String("source-pass", "", "basic auth password for the manifest source")
	flags.String("download-user", "", "basic auth user for asset downloads")
	flags.String("download-pass", "", "basic auth password for asset downloads")

	flags.Int("concurrency", 0, "number of parallel downloads")
	flags.String("timeout", "", "per-transfer timeout, e.g. 60s")
	flags.String("delay", "", "minimum delay between download starts, e.g. 100ms")
	flags.Int("max-retries", 0, "attempts per file before it is reported as failed")
	flags.String("max-file-size", "", "skip files larger than this, e.g. 500MB")

	flags.String("report", "", "write the sync report to this path")
	flags.Bool("dry-run", false, "only report what would be done")
	flags.Bool("cleanup", false, "remove local files that are not in the manifest")
	flags.Bool("force", false, "download every file regardless of local state")
	flags.String("ttl", "", "skip the sync if the last successful run is younger than this")

	bindings := map[string]string{
		"log.level":              "log-level",
		"log.no_color":           "no-color",
		"manifest":               "manifest",
		"destination":            "dest",
		"base_url":               "base-url",
		"source.username":        "source-user",
		"source.password":        "source-pass",
		"download.username":      "download-user",
		"download.password":      "download-pass",
		"download.concurrency":   "concurrency",
		"download.timeout":       "timeout",
		"download.delay":         "delay",
		"download.max_retries":   "max-retries",
		"download.max_file_size": "max-file-size",
		"sync.report":            "report",
		"sync.dry_run":           "dry-run",
		"sync.cleanup":           "cleanup",
		"sync.force":             "force",
		"sync.ttl":               "ttl",
	}
	for key, flag := range bindings {
		viper.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.Version = fmt.Sprintf("%s.%s", version.Version, version.Commit)

	return cmd
}
