package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cratefs "github.com/AL68-co/fuse-crates"
	"github.com/AL68-co/fuse-crates/internal/config"
	"github.com/AL68-co/fuse-crates/internal/metrics"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cratefs",
	Short: "Browse Rust .crate archives as a read-only filesystem",
	Long: `cratefs exposes every .crate archive in a source directory as a
directory named <crate>-<version>. Archives are indexed on first access and
decompressed on demand.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	flags.StringP("source", "s", "", "directory containing .crate files")
	flags.BoolP("debug", "d", false, "enable debug logging")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int64("cache-max-bytes", cratefs.DefaultConfig().CacheMaxBytes, "decompressed bytes held in memory")
	flags.Int64("cache-block-size", cratefs.DefaultConfig().BlockSize, "cache block size in bytes")
	flags.Int64("checkpoint-interval", cratefs.DefaultConfig().CheckpointInterval, "decompressed bytes between seek checkpoints")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openFS builds the filesystem described by cfg. A nil reg disables metrics.
func openFS(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *metrics.Registry) (*cratefs.FS, error) {
	opts := []cratefs.Option{
		cratefs.WithConfig(cfg.FS),
		cratefs.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, cratefs.WithMetrics(reg))
	}
	fsys, err := cratefs.New(ctx, cfg.Source, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Source, err)
	}
	return fsys, nil
}
