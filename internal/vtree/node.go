// Package vtree holds the namespace presented by the mount: a root with one
// directory per archive and, beneath each, the archive's entries.
//
// Nodes are immutable once published. Changing the set of archives builds a
// new root that shares every untouched subtree with the old one and swaps it
// in atomically, so readers never lock and never observe a partial graft.
package vtree

import (
	"io/fs"
	"slices"
	"time"

	"github.com/AL68-co/fuse-crates/internal/tarindex"
)

// Node is a file, directory or symlink in the tree.
type Node struct {
	name     string
	kind     tarindex.Kind
	archive  string
	entry    *tarindex.Entry
	mode     fs.FileMode
	modTime  time.Time
	size     int64
	pending  bool
	children map[string]*Node
	names    []string
}

// Name returns the node's name within its parent. The root's name is "".
func (n *Node) Name() string { return n.name }

// Kind returns the node's kind.
func (n *Node) Kind() tarindex.Kind { return n.kind }

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.kind == tarindex.KindDirectory }

// Archive returns the ID of the owning archive, or "" for the root.
func (n *Node) Archive() string { return n.archive }

// Entry returns the archive entry backing the node. Synthesized directories
// and archive roots have none.
func (n *Node) Entry() *tarindex.Entry { return n.entry }

// Mode returns the permission bits recorded in the archive.
func (n *Node) Mode() fs.FileMode { return n.mode }

// ModTime returns the modification time.
func (n *Node) ModTime() time.Time { return n.modTime }

// Size returns the payload size for files, the target length for symlinks
// and the size hint for pending archive directories.
func (n *Node) Size() int64 { return n.size }

// Pending reports whether the node is an archive directory whose contents
// have not been indexed yet.
func (n *Node) Pending() bool { return n.pending }

// Child returns the named child of a directory.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Len returns the number of children.
func (n *Node) Len() int { return len(n.names) }

// Children returns the node's children sorted by name.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.names))
	for i, name := range n.names {
		out[i] = n.children[name]
	}
	return out
}

// Target returns a symlink's target as stored in the archive.
func (n *Node) Target() string {
	if n.entry == nil {
		return ""
	}
	return n.entry.Target
}

func newDir(name, archive string, mode fs.FileMode, modTime time.Time) *Node {
	return &Node{
		name:     name,
		kind:     tarindex.KindDirectory,
		archive:  archive,
		mode:     mode,
		modTime:  modTime,
		children: make(map[string]*Node),
	}
}

// seal sorts the child names of n and every directory beneath it. It must
// only run on a subtree that has not been published.
func (n *Node) seal() {
	n.sortNames()
	for _, c := range n.children {
		if c.IsDir() && !c.pending {
			c.seal()
		}
	}
}

func (n *Node) sortNames() {
	n.names = make([]string, 0, len(n.children))
	for name := range n.children {
		n.names = append(n.names, name)
	}
	slices.Sort(n.names)
}
