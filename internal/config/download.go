package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

type DownloadConfig struct {
	Username    string `mapstructure:"username"      yaml:"username"`
	Password    string `mapstructure:"password"      yaml:"password"`
	Concurrency int    `mapstructure:"concurrency"   yaml:"concurrency"`
	Timeout     string `mapstructure:"timeout"       yaml:"timeout"`
	Delay       string `mapstructure:"delay"         yaml:"delay"`
	MaxRetries  int    `mapstructure:"max_retries"   yaml:"max_retries"`
	MaxFileSize string `mapstructure:"max_file_size" yaml:"max_file_size"`
}

func (c DownloadConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("download.concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("download.max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.DelayDuration(); err != nil {
		return err
	}
	if _, err := c.MaxFileSizeBytes(); err != nil {
		return err
	}
	return nil
}

func (c DownloadConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("download.timeout", c.Timeout)
}

func (c DownloadConfig) DelayDuration() (time.Duration, error) {
	return parseDuration("download.delay", c.Delay)
}

// MaxFileSizeBytes parses sizes like "500MB"; empty or "0" means no limit.
func (c DownloadConfig) MaxFileSizeBytes() (int64, error) {
	if c.MaxFileSize == "" || c.MaxFileSize == "0" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(c.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("invalid download.max_file_size %q: %w", c.MaxFileSize, err)
	}
	return int64(size), nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, value)
	}
	return d, nil
}
