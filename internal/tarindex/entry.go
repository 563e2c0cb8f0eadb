package tarindex

import (
	"io/fs"
	"path"
	"time"
)

// Kind classifies an entry. The set is closed: anything else in a tar
// stream is skipped while indexing.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Entry describes one member of an archive.
type Entry struct {
	// Path holds the cleaned path components relative to the archive root.
	Path []string
	Kind Kind
	// Size is the payload length for files, zero otherwise.
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	// Offset is the payload position in the decompressed stream.
	Offset int64
	// Target is the link target for symlinks, as stored in the archive.
	Target string
}

// Name returns the slash-separated path of the entry.
func (e *Entry) Name() string {
	return path.Join(e.Path...)
}

// Skip records an entry left out of the index.
type Skip struct {
	Path   string
	Reason string
}

// Diagnostics collects non-fatal findings from an indexing pass.
type Diagnostics struct {
	// Duplicates lists paths that appeared more than once. The last
	// occurrence is the one indexed.
	Duplicates []string
	Skipped    []Skip
}

// Empty reports whether the pass produced no findings.
func (d *Diagnostics) Empty() bool {
	return len(d.Duplicates) == 0 && len(d.Skipped) == 0
}

// Index is the result of one pass over a tar stream.
type Index struct {
	Entries     []*Entry
	Diagnostics Diagnostics
	// StreamSize is the number of decompressed bytes consumed, including
	// padding after the end-of-archive marker.
	StreamSize int64
	// PayloadBytes sums the sizes of all file entries.
	PayloadBytes int64
}
