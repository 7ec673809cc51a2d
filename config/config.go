// Package config loads redbeam configuration from TOML files and
// REDBEAM_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/redbeam/redbeam/errors"
)

// Config is the redbeam daemon configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Runners   RunnersConfig   `mapstructure:"runners"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig locates the metadata database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ExecutionConfig tunes the task worker pool.
type ExecutionConfig struct {
	Workers             int     `mapstructure:"workers"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	MaxRows             int     `mapstructure:"max_rows"`
	RetentionHours      int     `mapstructure:"retention_hours"`
	RatePerSecond       float64 `mapstructure:"rate_per_second"`
}

// PollInterval returns the worker poll interval as a duration.
func (c ExecutionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Retention returns how long terminal tasks stay queryable.
func (c ExecutionConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// SchedulerConfig tunes the freshness control loop.
type SchedulerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// Cron, when set, replaces the fixed interval with a cron expression
	// (standard five-field format, or descriptors like "@every 1m").
	Cron string `mapstructure:"cron"`
}

// Interval returns the refresh cycle cadence as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RunnersConfig selects which backend types are active. The active set
// is the deduplicated union of the two lists.
type RunnersConfig struct {
	Enabled    []string `mapstructure:"enabled"`
	Additional []string `mapstructure:"additional"`
}

// LogConfig selects the log output format.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "redbeam.db")

	v.SetDefault("execution.workers", 2)
	v.SetDefault("execution.poll_interval_seconds", 1)
	v.SetDefault("execution.max_rows", 100000)
	v.SetDefault("execution.retention_hours", 168) // one week of task handles
	v.SetDefault("execution.rate_per_second", 0.0) // 0 = no per-source gate

	v.SetDefault("scheduler.interval_seconds", 30)
	v.SetDefault("scheduler.cron", "")

	v.SetDefault("runners.enabled", []string{"pg", "sqlite", "elasticsearch"})
	v.SetDefault("runners.additional", []string{})

	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, an optional config file, and
// the environment. An empty configPath skips the file layer.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("REDBEAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals configuration from a prepared Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}
