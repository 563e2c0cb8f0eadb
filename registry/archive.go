package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AL68-co/fuse-crates/archive"
	"github.com/AL68-co/fuse-crates/internal/tarindex"
)

// State is the indexing state of an archive.
type State int32

const (
	Undiscovered State = iota
	Indexing
	Indexed
	Broken
)

func (s State) String() string {
	switch s {
	case Undiscovered:
		return "undiscovered"
	case Indexing:
		return "indexing"
	case Indexed:
		return "indexed"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// Archive is one discovered crate file.
type Archive struct {
	path           archive.Path
	compressedSize int64
	modTime        time.Time

	state atomic.Int32

	// mu serializes indexing and guards the fields below. Once the state
	// is Indexed they are immutable and may be read without it.
	mu     sync.Mutex
	reader *archive.Reader
	index  *tarindex.Index
	err    error
}

// ID returns the archive's mount directory name.
func (a *Archive) ID() string { return a.path.ID() }

// Path returns the archive's identity.
func (a *Archive) Path() archive.Path { return a.path }

// State returns the current indexing state.
func (a *Archive) State() State { return State(a.state.Load()) }

// ModTime returns the archive file's modification time.
func (a *Archive) ModTime() time.Time { return a.modTime }

// CompressedSize returns the size of the archive file.
func (a *Archive) CompressedSize() int64 { return a.compressedSize }

// Reader returns the open archive reader, or nil unless the archive is Indexed.
func (a *Archive) Reader() *archive.Reader {
	if a.State() != Indexed {
		return nil
	}
	return a.reader
}

// Index returns the archive's entry index, or nil unless the archive is Indexed.
func (a *Archive) Index() *tarindex.Index {
	if a.State() != Indexed {
		return nil
	}
	return a.index
}

// Err returns the failure that made the archive Broken.
func (a *Archive) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Size returns the decompressed size for indexed archives and the
// compressed size otherwise.
func (a *Archive) Size() int64 {
	if r := a.Reader(); r != nil {
		return r.Size()
	}
	return a.compressedSize
}
