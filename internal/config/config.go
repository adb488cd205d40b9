// Package config provides configuration management for mediastage using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mediastage/internal/urlutil"
)

// Default configuration values.
const (
	defaultBaseDir        = "./data"
	defaultStagingDir     = "staging"
	defaultSweepSchedule  = "@every 30m"
	defaultSweepMaxAge    = "6h"
	defaultBinaryName     = "ffmpeg"
	defaultMinFreeSpace   = 200 * 1024 * 1024 // 200MB
	defaultHTTPTimeout    = 10 * time.Minute
	defaultRetryAttempts  = 2
	defaultFFmpegLogLevel = "error"
	defaultMaxConcurrent  = 2
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Acquire AcquireConfig `mapstructure:"acquire"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StorageConfig holds staging area configuration.
type StorageConfig struct {
	BaseDir       string   `mapstructure:"base_dir"`
	StagingDir    string   `mapstructure:"staging_dir"`
	SweepSchedule string   `mapstructure:"sweep_schedule"` // cron spec or descriptor, empty disables
	SweepMaxAge   Duration `mapstructure:"sweep_max_age"`  // accepts d and w units
}

// AcquireConfig holds binary acquisition configuration.
type AcquireConfig struct {
	// Destination overrides the sidecar directory. Relative values are
	// resolved against the running executable's directory.
	Destination string `mapstructure:"destination"`
	// DownloadURL overrides the platform archive table.
	DownloadURL string `mapstructure:"download_url"`
	BinaryName  string `mapstructure:"binary_name"`
	CheckLatest bool   `mapstructure:"check_latest"`
	// MinFreeSpace is the free space required on the destination volume
	// before downloading. Zero disables the check.
	MinFreeSpace  ByteSize      `mapstructure:"min_free_space"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// FFmpegConfig holds FFmpeg execution configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	LogLevel   string `mapstructure:"log_level"`   // ffmpeg -loglevel value
}

// JobsConfig holds media job execution configuration.
type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MEDIASTAGE_ and use underscores for nesting.
// Example: MEDIASTAGE_STORAGE_BASE_DIR=/var/lib/mediastage.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.mediastage")
	}

	v.SetEnvPrefix("MEDIASTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Storage defaults
	v.SetDefault("storage.base_dir", defaultBaseDir)
	v.SetDefault("storage.staging_dir", defaultStagingDir)
	v.SetDefault("storage.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("storage.sweep_max_age", defaultSweepMaxAge)

	// Acquisition defaults
	v.SetDefault("acquire.destination", "")
	v.SetDefault("acquire.download_url", "")
	v.SetDefault("acquire.binary_name", defaultBinaryName)
	v.SetDefault("acquire.check_latest", false)
	v.SetDefault("acquire.min_free_space", defaultMinFreeSpace)
	v.SetDefault("acquire.http_timeout", defaultHTTPTimeout)
	v.SetDefault("acquire.retry_attempts", defaultRetryAttempts)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.log_level", defaultFFmpegLogLevel)

	// Job defaults
	v.SetDefault("jobs.max_concurrent", defaultMaxConcurrent)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.StagingDir == "" {
		return fmt.Errorf("storage.staging_dir is required")
	}
	if c.Storage.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Storage.SweepSchedule); err != nil {
			return fmt.Errorf("storage.sweep_schedule is invalid: %w", err)
		}
		if c.Storage.SweepMaxAge <= 0 {
			return fmt.Errorf("storage.sweep_max_age must be positive when sweeping is enabled")
		}
	}

	if c.Acquire.BinaryName == "" {
		return fmt.Errorf("acquire.binary_name is required")
	}
	if c.Acquire.DownloadURL != "" {
		if err := urlutil.ValidateURL(c.Acquire.DownloadURL); err != nil {
			return fmt.Errorf("acquire.download_url is invalid: %w", err)
		}
	}
	if c.Acquire.MinFreeSpace < 0 {
		return fmt.Errorf("acquire.min_free_space must not be negative")
	}
	if c.Acquire.RetryAttempts < 0 {
		return fmt.Errorf("acquire.retry_attempts must not be negative")
	}

	validFFmpegLevels := map[string]bool{
		"quiet": true, "panic": true, "fatal": true, "error": true, "warning": true,
		"info": true, "verbose": true, "debug": true, "trace": true,
	}
	if !validFFmpegLevels[c.FFmpeg.LogLevel] {
		return fmt.Errorf("ffmpeg.log_level %q is not a valid ffmpeg log level", c.FFmpeg.LogLevel)
	}

	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1")
	}

	return nil
}

// StagingPath returns the full path to the staging directory.
func (c *StorageConfig) StagingPath() string {
	if filepath.IsAbs(c.StagingDir) {
		return c.StagingDir
	}
	return filepath.Join(c.BaseDir, c.StagingDir)
}
