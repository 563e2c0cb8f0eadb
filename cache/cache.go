// Package cache holds decompressed archive content in memory.
//
// Content is cached in fixed-size blocks keyed by source and block index.
// The cache enforces one byte ceiling across all sources and evicts whole
// sources in least-recently-used order. Readers hold blocks through a Lease;
// a leased block stays valid after its source is evicted and is freed when
// the last lease releases it.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ByteSource provides random access to data for block caching.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Metrics receives cache events.
type Metrics interface {
	CacheHit()
	CacheMiss()
	CacheEviction(bytes int64)
	CacheResident(bytes int64)
}

const (
	// DefaultBlockSize is the size of one cached block.
	DefaultBlockSize int64 = 128 << 10

	// DefaultMaxBytes is the default memory ceiling.
	DefaultMaxBytes int64 = 256 << 20
)

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes sets the memory ceiling. Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) Option {
	return func(c *Cache) {
		c.blockSize = n
	}
}

// WithLogger sets the logger used for eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics reports cache events to m.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	ResidentBytes int64
	MaxBytes      int64
	Sources       int
	Hits          int64
	Misses        int64
	Evictions     int64
}

// Cache is a bounded in-memory block cache shared by all archives.
// It is safe for concurrent use.
type Cache struct {
	maxBytes  int64
	blockSize int64
	logger    *slog.Logger
	metrics   Metrics

	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List // front is most recently used
	resident int64

	fills     singleflight.Group
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// entry holds the cached blocks of one source.
type entry struct {
	id      string
	elem    *list.Element
	blocks  map[int64]*block
	evicted bool
}

type block struct {
	data  []byte
	refs  int
	owner *entry
}

// New creates an empty cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		maxBytes:  DefaultMaxBytes,
		blockSize: DefaultBlockSize,
		entries:   make(map[string]*entry),
		lru:       list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.blockSize <= 0 {
		return nil, errors.New("cache: block size must be > 0")
	}
	return c, nil
}

func (c *Cache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

// BlockSize returns the configured block size.
func (c *Cache) BlockSize() int64 {
	return c.blockSize
}

// Acquire returns a lease on the bytes [off, off+length) of src, filling
// missing blocks from src. The range is clamped to src.Size(). The caller
// must Release the lease.
//
// Concurrent misses on the same block share one fill. A caller whose ctx
// is cancelled stops waiting but does not cancel the fill.
func (c *Cache) Acquire(ctx context.Context, src ByteSource, off, length int64) (*Lease, error) {
	if src == nil {
		return nil, errors.New("cache: source is nil")
	}
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("cache: invalid range off=%d length=%d", off, length)
	}
	sourceID := src.SourceID()
	if sourceID == "" {
		return nil, errors.New("cache: source id is empty")
	}
	size := src.Size()
	if off > size {
		off = size
	}
	if off+length > size {
		length = size - off
	}

	l := &Lease{cache: c, off: off, length: length, blockSize: c.blockSize}
	if length == 0 {
		return l, nil
	}

	first := off / c.blockSize
	last := (off + length - 1) / c.blockSize
	l.first = first
	l.blocks = make([]*block, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		b, err := c.get(ctx, src, sourceID, size, idx)
		if err != nil {
			l.Release()
			return nil, err
		}
		l.blocks = append(l.blocks, b)
	}
	return l, nil
}

// get returns block idx of src with one reference taken.
func (c *Cache) get(ctx context.Context, src ByteSource, sourceID string, size, idx int64) (*block, error) {
	c.mu.Lock()
	e := c.touchLocked(sourceID)
	if b, ok := e.blocks[idx]; ok {
		b.refs++
		c.mu.Unlock()
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.CacheHit()
		}
		return b, nil
	}
	c.mu.Unlock()

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}

	key := sourceID + "#" + strconv.FormatInt(idx, 10)
	ch := c.fills.DoChan(key, func() (any, error) {
		data, err := c.fill(src, size, idx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.insertLocked(c.touchLocked(sourceID), idx, data, 0)
		c.mu.Unlock()
		return data, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	data := res.Val.([]byte) //nolint:errcheck // type is guaranteed by fill

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(c.touchLocked(sourceID), idx, data, 1), nil
}

// insertLocked adds refs references to block idx of e, storing data if the
// block is not cached.
func (c *Cache) insertLocked(e *entry, idx int64, data []byte, refs int) *block {
	if b, ok := e.blocks[idx]; ok {
		b.refs += refs
		return b
	}
	b := &block{data: data, refs: refs, owner: e}
	e.blocks[idx] = b
	c.resident += int64(len(data))
	c.enforceLocked(e)
	c.reportResidentLocked()
	return b
}

func (c *Cache) fill(src ByteSource, size, idx int64) ([]byte, error) {
	start := idx * c.blockSize
	n := min(c.blockSize, size-start)
	buf := make([]byte, n)
	read, err := src.ReadAt(buf, start)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("cache: fill block %d of %s: %w", idx, src.SourceID(), err)
}

// touchLocked returns the live entry for sourceID, creating it if needed,
// and marks it most recently used.
func (c *Cache) touchLocked(sourceID string) *entry {
	e, ok := c.entries[sourceID]
	if !ok {
		e = &entry{id: sourceID, blocks: make(map[int64]*block)}
		e.elem = c.lru.PushFront(e)
		c.entries[sourceID] = e
		return e
	}
	c.lru.MoveToFront(e.elem)
	return e
}

// enforceLocked evicts least recently used sources until the cache fits its
// ceiling. keep, the source being filled, is never evicted; once it or a
// single source is all that remains, its unleased blocks are dropped instead.
func (c *Cache) enforceLocked(keep *entry) {
	if c.maxBytes <= 0 {
		return
	}
	for c.resident > c.maxBytes && c.lru.Len() > 0 {
		victim := c.lru.Back().Value.(*entry) //nolint:errcheck // list only holds entries
		if victim == keep || c.lru.Len() == 1 {
			c.trimLocked(victim)
			return
		}
		c.evictLocked(victim)
	}
}

// trimLocked drops unleased blocks of e until the cache fits its ceiling.
func (c *Cache) trimLocked(e *entry) {
	for idx, b := range e.blocks {
		if c.resident <= c.maxBytes {
			return
		}
		if b.refs == 0 {
			delete(e.blocks, idx)
			c.resident -= int64(len(b.data))
			b.data = nil
		}
	}
}

// evictLocked removes e from the cache. Blocks still held by a lease are
// freed when the lease is released.
func (c *Cache) evictLocked(e *entry) {
	e.evicted = true
	c.lru.Remove(e.elem)
	delete(c.entries, e.id)

	var freed int64
	for _, b := range e.blocks {
		if b.refs == 0 {
			freed += int64(len(b.data))
			b.data = nil
		}
	}
	e.blocks = nil
	c.resident -= freed
	c.evictions.Add(1)
	if c.metrics != nil {
		c.metrics.CacheEviction(freed)
	}
	c.log().Debug("evicted archive from cache", "source", e.id, "freed", freed, "resident", c.resident)
}

func (c *Cache) release(blocks []*block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range blocks {
		b.refs--
		if b.refs == 0 && b.owner.evicted && b.data != nil {
			c.resident -= int64(len(b.data))
			b.data = nil
		}
	}
	c.enforceLocked(nil)
	c.reportResidentLocked()
}

func (c *Cache) reportResidentLocked() {
	if c.metrics != nil {
		c.metrics.CacheResident(c.resident)
	}
}

// Evict drops every cached block of sourceID. It reports whether the
// source was cached.
func (c *Cache) Evict(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sourceID]
	if !ok {
		return false
	}
	c.evictLocked(e)
	c.reportResidentLocked()
	return true
}

// Contains reports whether block idx of sourceID is cached.
func (c *Cache) Contains(sourceID string, idx int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sourceID]
	if !ok {
		return false
	}
	_, ok = e.blocks[idx]
	return ok
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ResidentBytes: c.resident,
		MaxBytes:      c.maxBytes,
		Sources:       len(c.entries),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
	}
}
