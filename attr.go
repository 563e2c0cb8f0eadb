package cratefs

import (
	"io/fs"
	"time"

	"github.com/AL68-co/fuse-crates/internal/tarindex"
	"github.com/AL68-co/fuse-crates/internal/vtree"
)

// Kind identifies the type of a node.
type Kind = tarindex.Kind

// Node kinds.
const (
	KindFile      = tarindex.KindFile
	KindDirectory = tarindex.KindDirectory
	KindSymlink   = tarindex.KindSymlink
)

const (
	// StatBlockSize is the block unit used by Attr.Blocks and Statfs.
	StatBlockSize = 512

	defaultFilePerm = 0o444
	dirPerm         = 0o555
)

// Attr describes a node. Mode carries the type bits (fs.ModeDir,
// fs.ModeSymlink) and permissions with every write bit cleared.
type Attr struct {
	Kind    Kind
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	Nlink   uint32
	Blocks  int64
	UID     uint32
	GID     uint32
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool { return a.Kind == KindDirectory }

// DirEntry is one child listed by Readdir.
type DirEntry struct {
	Name string
	Kind Kind
	Mode fs.FileMode
}

// StatFS describes the whole mount.
type StatFS struct {
	BlockSize uint32
	Blocks    uint64
	Files     uint64
	NameLen   uint32
}

func (f *FS) attr(n *vtree.Node) Attr {
	a := Attr{
		Kind:    n.Kind(),
		Size:    n.Size(),
		Mode:    mode(n),
		ModTime: n.ModTime(),
		Nlink:   1,
		UID:     f.cfg.UID,
		GID:     f.cfg.GID,
	}
	if n.IsDir() {
		a.Nlink = 2
		for _, c := range n.Children() {
			if c.IsDir() {
				a.Nlink++
			}
		}
	}
	a.Blocks = (a.Size + StatBlockSize - 1) / StatBlockSize
	return a
}

// mode returns the node's type bits and read-only permissions. Directories
// are always traversable; files without recorded permissions are readable
// by everyone.
func mode(n *vtree.Node) fs.FileMode {
	perm := n.Mode().Perm() &^ 0o222
	switch n.Kind() {
	case KindDirectory:
		return fs.ModeDir | perm | dirPerm
	case KindSymlink:
		return fs.ModeSymlink | fs.ModePerm
	default:
		if perm == 0 {
			perm = defaultFilePerm
		}
		return perm
	}
}
