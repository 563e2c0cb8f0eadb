// Package config loads cratefs settings from flags, CRATEFS_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cratefs "github.com/AL68-co/fuse-crates"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CRATEFS"

// ErrConfigInvalid is returned when a loaded configuration fails validation.
var ErrConfigInvalid = errors.New("config: invalid configuration")

// Config is the complete command configuration.
type Config struct {
	Source         string `mapstructure:"source"`
	Mountpoint     string `mapstructure:"mountpoint"`
	AllowOther     bool   `mapstructure:"allow_other"`
	Prewarm        bool   `mapstructure:"prewarm"`
	PrewarmWorkers int    `mapstructure:"prewarm_workers"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	LogLevel       string `mapstructure:"log_level"`
	Debug          bool   `mapstructure:"debug"`

	FS cratefs.Config `mapstructure:",squash"`
}

// flagKeys maps configuration keys to the command-line flags that set them.
var flagKeys = map[string]string{
	"source":              "source",
	"mountpoint":          "mountpoint",
	"allow_other":         "allow-other",
	"prewarm":             "prewarm",
	"prewarm_workers":     "prewarm-workers",
	"metrics_addr":        "metrics-addr",
	"log_level":           "log-level",
	"debug":               "debug",
	"cache_max_bytes":     "cache-max-bytes",
	"cache_block_size":    "cache-block-size",
	"checkpoint_interval": "checkpoint-interval",
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		PrewarmWorkers: 4,
		LogLevel:       "info",
		FS:             cratefs.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("source", d.Source)
	v.SetDefault("mountpoint", d.Mountpoint)
	v.SetDefault("allow_other", d.AllowOther)
	v.SetDefault("prewarm", d.Prewarm)
	v.SetDefault("prewarm_workers", d.PrewarmWorkers)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("cache_max_bytes", d.FS.CacheMaxBytes)
	v.SetDefault("cache_block_size", d.FS.BlockSize)
	v.SetDefault("checkpoint_interval", d.FS.CheckpointInterval)
	v.SetDefault("uid", d.FS.UID)
	v.SetDefault("gid", d.FS.GID)
}

// Load builds the configuration. path names an optional YAML file; flags,
// if non-nil, supplies command-line overrides. Only flags the user set
// take precedence over the environment and the file.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source directory is required", ErrConfigInvalid)
	}
	if c.FS.CacheMaxBytes < 0 {
		return fmt.Errorf("%w: cache_max_bytes cannot be negative, got %d", ErrConfigInvalid, c.FS.CacheMaxBytes)
	}
	if c.FS.BlockSize < 0 {
		return fmt.Errorf("%w: cache_block_size cannot be negative, got %d", ErrConfigInvalid, c.FS.BlockSize)
	}
	if c.FS.CheckpointInterval < 0 {
		return fmt.Errorf("%w: checkpoint_interval cannot be negative, got %d", ErrConfigInvalid, c.FS.CheckpointInterval)
	}
	if c.PrewarmWorkers < 1 {
		return fmt.Errorf("%w: prewarm_workers must be positive, got %d", ErrConfigInvalid, c.PrewarmWorkers)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

// Level returns the configured log level. Debug forces slog.LevelDebug.
func (c *Config) Level() (slog.Level, error) {
	if c.Debug {
		return slog.LevelDebug, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
