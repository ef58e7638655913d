package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Credential fallbacks for the manifest source, kept for compatibility with
// deployments of the previous tool.
const (
	EnvSourceUser = "CLI_SYNC_SOURCE_USER"
	EnvSourcePass = "CLI_SYNC_SOURCE_PASS"
)

type BaseConfig struct {
	Manifest        string `mapstructure:"manifest"         yaml:"manifest"`
	Destination     string `mapstructure:"destination"      yaml:"destination"`
	BaseURL         string `mapstructure:"base_url"         yaml:"base_url"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Source   CredentialConfig `mapstructure:"source"   yaml:"source"`
	Download DownloadConfig   `mapstructure:"download" yaml:"download"`
	Sync     SyncConfig       `mapstructure:"sync"     yaml:"sync"`
	State    StateConfig      `mapstructure:"state"    yaml:"state"`
	S3       S3Config         `mapstructure:"s3"       yaml:"s3"`
	Log      LogConfig        `mapstructure:"log"      yaml:"log"`
}

type CredentialConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type S3Config struct {
	Region    string `mapstructure:"region"     yaml:"region"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

func LoadConfig() (*BaseConfig, error) {
	cfg := &BaseConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.Source.Username == "" && cfg.Source.Password == "" {
		cfg.Source.Username = os.Getenv(EnvSourceUser)
		cfg.Source.Password = os.Getenv(EnvSourcePass)
	}

	return cfg, nil
}

// Validate checks the fields every engine command needs.
func (c *BaseConfig) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if err := c.Download.Validate(); err != nil {
		return err
	}
	if _, err := c.Sync.TTLDuration(); err != nil {
		return err
	}
	return nil
}

func (c *BaseConfig) ShutdownDuration() time.Duration {
	timeout, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || timeout <= 0 {
		return 60 * time.Second
	}
	return timeout
}

// Masked returns a copy with secrets replaced, safe to print.
func (c BaseConfig) Masked() BaseConfig {
	c.Source.Password = mask(c.Source.Password)
	c.Download.Password = mask(c.Download.Password)
	c.S3.SecretKey = mask(c.S3.SecretKey)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
