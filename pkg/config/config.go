package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	DefaultJobWatchInterval = "@every 30s"
	DefaultStaleJobAge      = 5 * time.Minute
	DefaultMetricsAddr      = ":9090"

	SourceUDisks   = "udisks"
	SourceSysprobe = "sysprobe"
)

// Warning represents a non-critical issue with configuration.
type Warning string

// Config holds the daemon's runtime settings.
type Config struct {
	LogLevel         string
	Source           string
	MetricsAddr      string
	JobWatchInterval string
	StaleJobAge      time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:         "info",
		Source:           SourceUDisks,
		MetricsAddr:      DefaultMetricsAddr,
		JobWatchInterval: DefaultJobWatchInterval,
		StaleJobAge:      DefaultStaleJobAge,
	}
}

// Load reads the configuration file from the working directory, falling
// back to defaults for anything unset. A missing file is not an error.
func Load() (Config, []Warning, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("diskmirror")
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("source", defaults.Source)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)
	v.SetDefault("job_watch_interval", defaults.JobWatchInterval)
	v.SetDefault("stale_job_age", defaults.StaleJobAge)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Config{
		LogLevel:         v.GetString("log_level"),
		Source:           v.GetString("source"),
		MetricsAddr:      v.GetString("metrics_addr"),
		JobWatchInterval: v.GetString("job_watch_interval"),
		StaleJobAge:      v.GetDuration("stale_job_age"),
	}
	warnings := Validate(&cfg)
	return cfg, warnings, nil
}

// Validate normalizes invalid settings to defaults, returning one warning
// per replaced value.
func Validate(cfg *Config) []Warning {
	var warnings []Warning

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		warnings = append(warnings, Warning(fmt.Sprintf("invalid log level %q, using info", cfg.LogLevel)))
		cfg.LogLevel = "info"
	}

	switch cfg.Source {
	case SourceUDisks, SourceSysprobe:
	default:
		warnings = append(warnings, Warning(fmt.Sprintf("invalid source %q, using %s", cfg.Source, SourceUDisks)))
		cfg.Source = SourceUDisks
	}

	if !isValidCronExpression(cfg.JobWatchInterval) {
		warnings = append(warnings, Warning(fmt.Sprintf("invalid schedule provided for JobWatchInterval, using default schedule %s", DefaultJobWatchInterval)))
		cfg.JobWatchInterval = DefaultJobWatchInterval
	}

	if cfg.StaleJobAge <= 0 {
		warnings = append(warnings, Warning(fmt.Sprintf("invalid stale job age, using default %s", DefaultStaleJobAge)))
		cfg.StaleJobAge = DefaultStaleJobAge
	}

	return warnings
}

func isValidCronExpression(cronExpression string) bool {
	if _, err := cron.ParseStandard(cronExpression); err != nil {
		return false
	}
	return true
}
