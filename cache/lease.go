package cache

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrReleased is returned when a released lease is read.
var ErrReleased = errors.New("cache: lease released")

// Lease pins the blocks covering one range of a source.
type Lease struct {
	cache     *Cache
	blocks    []*block
	first     int64
	blockSize int64
	off       int64
	length    int64

	once     sync.Once
	released bool
}

// Offset returns the first source offset covered by the lease.
func (l *Lease) Offset() int64 {
	return l.off
}

// Len returns the number of bytes covered by the lease.
func (l *Lease) Len() int64 {
	return l.length
}

// ReadAt copies leased bytes starting at source offset off into p. It
// returns io.EOF when p extends past the leased range.
func (l *Lease) ReadAt(p []byte, off int64) (int, error) {
	if l.released {
		return 0, ErrReleased
	}
	end := l.off + l.length
	if off < l.off || off > end {
		return 0, fmt.Errorf("cache: offset %d outside leased range [%d, %d)", off, l.off, end)
	}
	want := min(int64(len(p)), end-off)
	var n int64
	for n < want {
		pos := off + n
		idx := pos / l.blockSize
		b := l.blocks[idx-l.first]
		k := copy(p[n:want], b.data[pos-idx*l.blockSize:])
		n += int64(k)
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Release returns the lease's block references. It is safe to call more
// than once; only the first call has an effect. A released lease must not
// be used concurrently with Release.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.released = true
		if len(l.blocks) > 0 {
			l.cache.release(l.blocks)
		}
		l.blocks = nil
	})
}
