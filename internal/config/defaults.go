package config

import "github.com/spf13/viper"

func GetDefault() BaseConfig {
	return BaseConfig{
		Manifest:        "",
		Destination:     "data",
		BaseURL:         "",
		ShutdownTimeout: "30s",

		Download: DownloadConfig{
			Concurrency: 4,
			Timeout:     "60s",
			Delay:       "100ms",
			MaxRetries:  3,
			MaxFileSize: "0",
		},

		Sync: SyncConfig{
			Cleanup: false,
			DryRun:  false,
			Force:   false,
			Ignore:  []string{},
			Report:  "",
			TTL:     "",
		},

		State: StateConfig{
			Type: "sqlite",
		},

		Log: LogConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 100,
				MaxAge:     16,
				Compress:   false,
			},
		},
	}
}

func setDefaults() {
	defaults := GetDefault()

	viper.SetDefault("manifest", defaults.Manifest)
	viper.SetDefault("destination", defaults.Destination)
	viper.SetDefault("base_url", defaults.BaseURL)
	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("source.username", "")
	viper.SetDefault("source.password", "")

	viper.SetDefault("download.username", "")
	viper.SetDefault("download.password", "")
	viper.SetDefault("download.concurrency", defaults.Download.Concurrency)
	viper.SetDefault("download.timeout", defaults.Download.Timeout)
	viper.SetDefault("download.delay", defaults.Download.Delay)
	viper.SetDefault("download.max_retries", defaults.Download.MaxRetries)
	viper.SetDefault("download.max_file_size", defaults.Download.MaxFileSize)

	viper.SetDefault("sync.cleanup", defaults.Sync.Cleanup)
	viper.SetDefault("sync.dry_run", defaults.Sync.DryRun)
	viper.SetDefault("sync.force", defaults.Sync.Force)
	viper.SetDefault("sync.ignore", defaults.Sync.Ignore)
	viper.SetDefault("sync.report", defaults.Sync.Report)
	viper.SetDefault("sync.ttl", defaults.Sync.TTL)

	viper.SetDefault("state.type", defaults.State.Type)
	viper.SetDefault("state.sqlite.path", defaults.State.SQLite.Path)

	viper.SetDefault("s3.region", "")
	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.access_key", "")
	viper.SetDefault("s3.secret_key", "")

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)
}
