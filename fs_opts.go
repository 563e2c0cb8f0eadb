package cratefs

import (
	"log/slog"
	"os"

	"github.com/AL68-co/fuse-crates/archive"
	"github.com/AL68-co/fuse-crates/cache"
	"github.com/AL68-co/fuse-crates/registry"
)

// Config holds the tunables of an FS. A zero size or interval selects the
// default.
type Config struct {
	// CacheMaxBytes bounds the decompressed bytes held in the block cache.
	CacheMaxBytes int64 `mapstructure:"cache_max_bytes"`

	// BlockSize is the cache block size in decompressed bytes.
	BlockSize int64 `mapstructure:"cache_block_size"`

	// CheckpointInterval is the decompressed distance between seek
	// checkpoints recorded while indexing.
	CheckpointInterval int64 `mapstructure:"checkpoint_interval"`

	// UID and GID own every node.
	UID uint32 `mapstructure:"uid"`
	GID uint32 `mapstructure:"gid"`
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		CacheMaxBytes:      cache.DefaultMaxBytes,
		BlockSize:          cache.DefaultBlockSize,
		CheckpointInterval: archive.DefaultCheckpointInterval,
		UID:                uint32(os.Getuid()), //nolint:gosec // uids fit in uint32
		GID:                uint32(os.Getgid()), //nolint:gosec // gids fit in uint32
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = d.CacheMaxBytes
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
}

// Metrics receives events from every layer of an FS.
type Metrics interface {
	cache.Metrics
	registry.Metrics
	BytesRead(n int)
	HandlesOpen(n int64)
}

// Option configures an FS.
type Option func(*FS)

// WithConfig replaces the whole configuration. Later options override
// individual fields.
func WithConfig(cfg Config) Option {
	return func(f *FS) {
		f.cfg = cfg
	}
}

// WithCacheMaxBytes bounds the decompressed bytes held in the block cache.
func WithCacheMaxBytes(n int64) Option {
	return func(f *FS) {
		f.cfg.CacheMaxBytes = n
	}
}

// WithBlockSize sets the cache block size.
func WithBlockSize(n int64) Option {
	return func(f *FS) {
		f.cfg.BlockSize = n
	}
}

// WithCheckpointInterval sets the spacing of seek checkpoints.
func WithCheckpointInterval(n int64) Option {
	return func(f *FS) {
		f.cfg.CheckpointInterval = n
	}
}

// WithOwner sets the uid and gid reported for every node.
func WithOwner(uid, gid uint32) Option {
	return func(f *FS) {
		f.cfg.UID = uid
		f.cfg.GID = gid
	}
}

// WithLogger sets the logger shared by every layer.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FS) {
		f.logger = logger
	}
}

// WithMetrics reports events to m.
func WithMetrics(m Metrics) Option {
	return func(f *FS) {
		f.metrics = m
	}
}
