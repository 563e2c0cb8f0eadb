package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AL68-co/fuse-crates/archive"
	"github.com/AL68-co/fuse-crates/internal/tarindex"
	"github.com/AL68-co/fuse-crates/internal/vtree"
)

// Metrics receives indexing events.
type Metrics interface {
	ArchivesDiscovered(n int)
	ArchiveIndexed(d time.Duration, entries int)
	ArchiveFailed()
}

// Option configures a Registry.
type Option func(*Registry)

// WithCheckpointInterval sets the seek checkpoint spacing used when
// scanning archives.
func WithCheckpointInterval(n int64) Option {
	return func(r *Registry) {
		r.interval = n
	}
}

// WithLogger sets the logger for discovery and indexing events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics reports indexing events to m.
func WithMetrics(m Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// Registry tracks the archives found in a source directory.
// It is safe for concurrent use.
type Registry struct {
	dir      string
	tree     *vtree.Tree
	interval int64
	logger   *slog.Logger
	metrics  Metrics

	mu       sync.RWMutex
	archives map[string]*Archive
	closed   atomic.Bool

	group       singleflight.Group
	indexPasses atomic.Int64
}

// New creates a registry for the archives in dir. Placeholders for
// discovered archives are added to tree.
func New(dir string, tree *vtree.Tree, opts ...Option) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry: source dir is empty")
	}
	if tree == nil {
		return nil, errors.New("registry: tree is nil")
	}
	r := &Registry{
		dir:      dir,
		tree:     tree,
		interval: archive.DefaultCheckpointInterval,
		archives: make(map[string]*Archive),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Dir returns the source directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Scan lists the source directory and registers archives not seen before.
// Broken archives are reset so the next access retries them. Nothing is
// decompressed. It returns the number of newly registered archives.
func (r *Registry) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("registry: scan %s: %w", r.dir, err)
	}

	if r.closed.Load() {
		return 0, ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), archive.Extension) {
			continue
		}
		p, err := archive.ParseFileName(r.dir, de.Name())
		if err != nil {
			r.log().Debug("skipping file", "file", de.Name(), "error", err)
			continue
		}
		info, err := de.Info()
		if err != nil {
			r.log().Debug("skipping file", "file", de.Name(), "error", err)
			continue
		}

		if a, ok := r.archives[p.ID()]; ok {
			if a.State() == Broken {
				a.mu.Lock()
				a.err = nil
				a.state.Store(int32(Undiscovered))
				a.mu.Unlock()
				r.tree.AddPending(a.ID(), a.modTime, a.compressedSize)
				r.log().Info("retrying broken archive", "archive", a.ID())
			}
			continue
		}

		a := &Archive{path: p, compressedSize: info.Size(), modTime: info.ModTime()}
		r.archives[p.ID()] = a
		r.tree.AddPending(p.ID(), a.modTime, a.compressedSize)
		added++
	}

	if r.metrics != nil {
		r.metrics.ArchivesDiscovered(len(r.archives))
	}
	r.log().Info("scanned source directory", "dir", r.dir, "added", added, "total", len(r.archives))
	return added, nil
}

// Get returns the archive with the given ID, or nil.
func (r *Registry) Get(id string) *Archive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.archives[id]
}

// Archives returns all registered archives sorted by ID.
func (r *Registry) Archives() []*Archive {
	r.mu.RLock()
	out := make([]*Archive, 0, len(r.archives))
	for _, a := range r.archives {
		out = append(out, a)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Archive) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// IndexPasses returns how many indexing passes have run.
func (r *Registry) IndexPasses() int64 {
	return r.indexPasses.Load()
}

// Ensure returns the archive once it is Indexed, indexing it first if
// needed. Concurrent callers share a single pass. A caller whose ctx ends
// stops waiting; the pass itself runs to completion.
func (r *Registry) Ensure(ctx context.Context, id string) (*Archive, error) {
	a := r.Get(id)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch a.State() {
	case Indexed:
		return a, nil
	case Broken:
		return nil, a.Err()
	}

	ch := r.group.DoChan(id, func() (any, error) {
		return nil, r.index(a)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}
	return a, nil
}

// index runs one indexing pass over a. The state is re-checked under the
// archive lock so a pass that lost a race with another one is a no-op.
func (r *Registry) index(a *Archive) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.State() {
	case Indexed:
		return nil
	case Broken:
		return a.err
	}

	if r.closed.Load() {
		return ErrClosed
	}

	a.state.Store(int32(Indexing))
	r.indexPasses.Add(1)
	start := time.Now()
	log := r.log().With("archive", a.ID())
	log.Debug("indexing archive")

	rd, err := archive.Open(a.path, archive.WithCheckpointInterval(r.interval), archive.WithLogger(r.logger))
	if err != nil {
		return r.fail(a, err)
	}
	var idx *tarindex.Index
	err = rd.Scan(func(s io.Reader) error {
		var err error
		idx, err = tarindex.Build(s,
			tarindex.WithStripPrefix(a.ID()),
			tarindex.WithDeclaredSize(rd.DeclaredSize()))
		return err
	})
	if err != nil {
		_ = rd.Close()
		return r.fail(a, err)
	}

	for _, dup := range idx.Diagnostics.Duplicates {
		log.Warn("duplicate entry, keeping last occurrence", "path", dup)
	}
	for _, s := range idx.Diagnostics.Skipped {
		log.Info("skipped entry", "path", s.Path, "reason", s.Reason)
	}

	a.reader = rd
	a.index = idx
	r.tree.Graft(vtree.Build(a.ID(), idx.Entries, a.modTime))
	a.state.Store(int32(Indexed))

	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ArchiveIndexed(elapsed, len(idx.Entries))
	}
	log.Info("archive indexed",
		"entries", len(idx.Entries),
		"payload", idx.PayloadBytes,
		"tar", idx.StreamSize,
		"decompressed", rd.Size(),
		"checkpoints", rd.Checkpoints(),
		"duration", elapsed)
	return nil
}

func (r *Registry) fail(a *Archive, cause error) error {
	a.err = fmt.Errorf("%w: %s: %w", ErrBroken, a.ID(), cause)
	a.state.Store(int32(Broken))
	r.tree.Remove(a.ID())
	if r.metrics != nil {
		r.metrics.ArchiveFailed()
	}
	r.log().Warn("archive indexing failed", "archive", a.ID(), "error", cause)
	return a.err
}

// IndexAll indexes every archive not yet indexed, at most workers at a
// time. Broken archives are logged and skipped; only ctx cancellation
// aborts the run.
func (r *Registry) IndexAll(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, a := range r.Archives() {
		if a.State() != Undiscovered {
			continue
		}
		id := a.ID()
		g.Go(func() error {
			if _, err := r.Ensure(ctx, id); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !errors.Is(err, ErrBroken) {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Size sums the sizes of all visible archives: decompressed for indexed
// ones and compressed for the rest.
func (r *Registry) Size() int64 {
	var total int64
	for _, a := range r.Archives() {
		if a.State() == Broken {
			continue
		}
		total += a.Size()
	}
	return total
}

// Close releases every open archive. Subsequent scans and indexing fail.
func (r *Registry) Close() error {
	r.closed.Store(true)

	var errs []error
	for _, a := range r.Archives() {
		a.mu.Lock()
		if a.reader != nil {
			if err := a.reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.mu.Unlock()
	}
	return errors.Join(errs...)
}
