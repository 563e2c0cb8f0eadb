package cratefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AL68-co/fuse-crates/cache"
	"github.com/AL68-co/fuse-crates/internal/pathutil"
	"github.com/AL68-co/fuse-crates/internal/vtree"
	"github.com/AL68-co/fuse-crates/registry"
)

// maxEnsureRetries bounds how often one walk may index a pending archive
// before giving up. One pass suffices unless a rescan races the walk.
const maxEnsureRetries = 3

const nameMax = 255

// writeFlags are the open flags that request modification.
const writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_APPEND | unix.O_CREAT | unix.O_TRUNC

// FS answers filesystem operations over a directory of crate archives.
// All paths are slash-separated and rooted at the mount point. It is safe
// for concurrent use.
type FS struct {
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	tree     *vtree.Tree
	registry *registry.Registry
	cache    *cache.Cache

	handles atomic.Int64
	closed  atomic.Bool
}

// New creates an FS serving the archives in source and runs the initial
// scan. Archives are not indexed until accessed or prewarmed.
func New(ctx context.Context, source string, opts ...Option) (*FS, error) {
	f := &FS{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(f)
	}
	f.cfg.applyDefaults()

	cacheOpts := []cache.Option{
		cache.WithMaxBytes(f.cfg.CacheMaxBytes),
		cache.WithBlockSize(f.cfg.BlockSize),
		cache.WithLogger(f.logger),
	}
	regOpts := []registry.Option{
		registry.WithCheckpointInterval(f.cfg.CheckpointInterval),
		registry.WithLogger(f.logger),
	}
	if f.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(f.metrics))
		regOpts = append(regOpts, registry.WithMetrics(f.metrics))
	}

	c, err := cache.New(cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("cratefs: create cache: %w", err)
	}
	f.cache = c
	f.tree = vtree.New(time.Now())
	f.registry, err = registry.New(source, f.tree, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("cratefs: create registry: %w", err)
	}
	if _, err := f.registry.Scan(ctx); err != nil {
		return nil, fmt.Errorf("cratefs: initial scan: %w", err)
	}
	return f, nil
}

func (f *FS) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Config returns the effective configuration.
func (f *FS) Config() Config {
	return f.cfg
}

// Registry returns the archive registry.
func (f *FS) Registry() *registry.Registry {
	return f.registry
}

// CacheStats returns a snapshot of the block cache counters.
func (f *FS) CacheStats() cache.Stats {
	return f.cache.Stats()
}

// OpenHandles returns the number of handles not yet released.
func (f *FS) OpenHandles() int64 {
	return f.handles.Load()
}

// resolve walks path, indexing any pending archive the walk needs.
func (f *FS) resolve(ctx context.Context, path string, follow bool) (*vtree.Node, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	parts := pathutil.Split(path)
	for range maxEnsureRetries {
		var n *vtree.Node
		var err error
		if follow {
			n, err = f.tree.Follow(parts)
		} else {
			n, err = f.tree.Resolve(parts)
		}
		var pending *vtree.PendingError
		if !errors.As(err, &pending) {
			return n, err
		}
		if _, err := f.registry.Ensure(ctx, pending.Archive); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("cratefs: %s: archive kept changing while resolving", path)
}

// expand returns the listing form of a directory node, indexing it first
// when it is a pending archive directory.
func (f *FS) expand(ctx context.Context, path string, n *vtree.Node) (*vtree.Node, error) {
	if !n.Pending() {
		return n, nil
	}
	if _, err := f.registry.Ensure(ctx, n.Archive()); err != nil {
		return nil, err
	}
	return f.resolve(ctx, path, false)
}

// Lookup returns the attributes of path without following a final symlink.
// Looking up an archive directory does not index it.
func (f *FS) Lookup(ctx context.Context, path string) (Attr, error) {
	n, err := f.resolve(ctx, path, false)
	if err != nil {
		return Attr{}, pathError("lookup", path, err)
	}
	return f.attr(n), nil
}

// LookupChild returns the attributes of name within the directory parent.
func (f *FS) LookupChild(ctx context.Context, parent, name string) (Attr, error) {
	if name == "" || strings.Contains(name, "/") {
		return Attr{}, pathError("lookup", parent, ErrNotFound)
	}
	return f.Lookup(ctx, join(parent, name))
}

// Getattr returns the attributes of path.
func (f *FS) Getattr(ctx context.Context, path string) (Attr, error) {
	n, err := f.resolve(ctx, path, false)
	if err != nil {
		return Attr{}, pathError("getattr", path, err)
	}
	return f.attr(n), nil
}

// Readdir lists the directory at path sorted by name. Listing an archive
// directory indexes the archive.
func (f *FS) Readdir(ctx context.Context, path string) ([]DirEntry, error) {
	n, err := f.resolve(ctx, path, false)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}
	if !n.IsDir() {
		return nil, pathError("readdir", path, ErrNotDir)
	}
	n, err = f.expand(ctx, path, n)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}

	children := n.Children()
	out := make([]DirEntry, len(children))
	for i, c := range children {
		out[i] = DirEntry{Name: c.Name(), Kind: c.Kind(), Mode: mode(c)}
	}
	return out, nil
}

// Readlink returns the target of the symlink at path. Absolute targets are
// rewritten relative to the link so they resolve inside the link's archive.
// A target that leaves the archive is dangling and reported as missing.
func (f *FS) Readlink(ctx context.Context, path string) (string, error) {
	n, err := f.resolve(ctx, path, false)
	if err != nil {
		return "", pathError("readlink", path, err)
	}
	if n.Kind() != KindSymlink {
		return "", pathError("readlink", path, ErrNotSymlink)
	}

	linkPath, ok := clean(pathutil.Split(path))
	if !ok || len(linkPath) < 2 {
		return "", pathError("readlink", path, vtree.ErrDangling)
	}
	linkDir := linkPath[:len(linkPath)-1]

	target := n.Target()
	absolute := strings.HasPrefix(target, "/")
	base := linkDir
	if absolute {
		base = []string{n.Archive()}
	}
	dest, ok := clean(append(slices.Clone(base), pathutil.Split(target)...))
	if !ok || len(dest) == 0 || dest[0] != n.Archive() {
		f.log().Debug("symlink leaves its archive", "path", path, "target", target)
		return "", pathError("readlink", path, vtree.ErrDangling)
	}
	if !absolute {
		return target, nil
	}
	return pathutil.Rel(linkDir, dest), nil
}

// Open returns a handle on the file at path, following symlinks.
// Write access is refused.
func (f *FS) Open(ctx context.Context, path string, flags int) (*Handle, error) {
	if flags&writeFlags != 0 {
		return nil, pathError("open", path, ErrReadOnly)
	}
	n, err := f.resolve(ctx, path, true)
	if err != nil {
		return nil, pathError("open", path, err)
	}
	if n.IsDir() {
		return nil, pathError("open", path, ErrIsDir)
	}
	a, err := f.registry.Ensure(ctx, n.Archive())
	if err != nil {
		return nil, pathError("open", path, err)
	}

	h := &Handle{path: path, archive: a, entry: n.Entry()}
	f.metricHandles(f.handles.Add(1))
	return h, nil
}

// Read fills dest with the bytes of h starting at off and returns how many
// were read. A read at or past the end of the file returns 0. Reading a
// released handle panics.
func (f *FS) Read(ctx context.Context, h *Handle, dest []byte, off int64) (int, error) {
	if h.isReleased() {
		panic("cratefs: read on released handle " + h.path)
	}
	if off < 0 {
		return 0, pathError("read", h.path, ErrInvalid)
	}
	size := h.entry.Size
	if off >= size || len(dest) == 0 {
		return 0, nil
	}
	want := min(int64(len(dest)), size-off)

	src := h.archive.Reader()
	lease, err := f.cache.Acquire(ctx, src, h.entry.Offset+off, want)
	if err != nil {
		f.log().Debug("read failed", "path", h.path, "offset", off, "error", err)
		return 0, pathError("read", h.path, err)
	}
	n, err := lease.ReadAt(dest[:want], h.entry.Offset+off)
	if err != nil && !errors.Is(err, io.EOF) {
		lease.Release()
		return 0, pathError("read", h.path, err)
	}
	if !h.keep(lease) {
		return 0, pathError("read", h.path, ErrClosed)
	}
	if f.metrics != nil {
		f.metrics.BytesRead(n)
	}
	return n, nil
}

// Release drops h and the cache blocks it pins. Releasing twice is a no-op.
func (f *FS) Release(h *Handle) {
	if h.release() {
		f.metricHandles(f.handles.Add(-1))
	}
}

// Statfs reports the aggregate size of the mount in 512-byte blocks.
// Nothing is free.
func (f *FS) Statfs(context.Context) (StatFS, error) {
	var files uint64
	for _, a := range f.registry.Archives() {
		switch a.State() {
		case registry.Broken:
		case registry.Indexed:
			files += uint64(len(a.Index().Entries)) + 1
		default:
			files++
		}
	}
	total := f.registry.Size()
	return StatFS{
		BlockSize: StatBlockSize,
		Blocks:    uint64((total + StatBlockSize - 1) / StatBlockSize), //nolint:gosec // sizes are non-negative
		Files:     files,
		NameLen:   nameMax,
	}, nil
}

// Rescan looks for archives added to the source directory since the last
// scan and makes broken archives retryable. It returns the number added.
func (f *FS) Rescan(ctx context.Context) (int, error) {
	if f.closed.Load() {
		return 0, ErrClosed
	}
	return f.registry.Scan(ctx)
}

// Prewarm indexes every archive not yet indexed, at most workers at a time.
func (f *FS) Prewarm(ctx context.Context, workers int) error {
	if f.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	err := f.registry.IndexAll(ctx, workers)
	f.log().Info("prewarm finished", "archives", len(f.registry.Archives()), "duration", time.Since(start), "error", err)
	return err
}

// Close closes every archive file. Open handles must not be read afterwards.
func (f *FS) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := f.handles.Load(); n > 0 {
		f.log().Warn("closing with open handles", "handles", n)
	}
	return f.registry.Close()
}

func (f *FS) metricHandles(n int64) {
	if f.metrics != nil {
		f.metrics.HandlesOpen(n)
	}
}

func join(parent, name string) string {
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// clean applies "." and ".." to parts. It reports false if ".." climbs
// above the first component.
func clean(parts []string) ([]string, bool) {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case ".":
		case "..":
			if len(out) == 0 {
				return nil, false
			}
			out = out[:len(out)-1]
		default:
			out = append(out, p)
		}
	}
	return out, true
}
