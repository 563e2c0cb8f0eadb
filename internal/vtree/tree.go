package vtree

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AL68-co/fuse-crates/internal/tarindex"
)

// MaxSymlinkHops bounds symlink expansion during a single walk.
const MaxSymlinkHops = 40

var (
	// ErrNotExist is returned when a path component has no matching child.
	ErrNotExist = errors.New("vtree: no such entry")

	// ErrNotDir is returned when a non-final component is not a directory.
	ErrNotDir = errors.New("vtree: not a directory")

	// ErrEscape is returned when ".." would climb above the root.
	ErrEscape = errors.New("vtree: path escapes root")

	// ErrDangling is returned when a symlink target is missing, leaves its
	// archive or loops.
	ErrDangling = errors.New("vtree: dangling symlink")
)

// PendingError is returned when a walk needs the contents of an archive
// that has not been indexed.
type PendingError struct {
	Archive string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("vtree: archive %s not indexed", e.Archive)
}

// Tree is the mounted namespace. Reads are lock free; writers are
// serialized and publish a new root atomically.
type Tree struct {
	mu   sync.Mutex
	root atomic.Pointer[Node]
}

// New returns a tree with an empty root directory.
func New(modTime time.Time) *Tree {
	t := &Tree{}
	root := newDir("", "", 0o555, modTime)
	root.sortNames()
	t.root.Store(root)
	return t
}

// Root returns the current root snapshot.
func (t *Tree) Root() *Node {
	return t.root.Load()
}

// update publishes a new root whose children are produced by fn from a
// copy of the current ones.
func (t *Tree) update(fn func(children map[string]*Node) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.root.Load()
	children := maps.Clone(old.children)
	if !fn(children) {
		return false
	}
	root := newDir("", "", old.mode, old.modTime)
	root.children = children
	root.sortNames()
	t.root.Store(root)
	return true
}

// AddPending adds a placeholder directory for an archive that has not
// been indexed. It reports false if the archive is already present.
func (t *Tree) AddPending(id string, modTime time.Time, sizeHint int64) bool {
	return t.update(func(children map[string]*Node) bool {
		if _, ok := children[id]; ok {
			return false
		}
		n := newDir(id, id, 0o555, modTime)
		n.pending = true
		n.size = sizeHint
		children[id] = n
		return true
	})
}

// Graft replaces the placeholder for dir's archive with dir, which must come
// from Build.
func (t *Tree) Graft(dir *Node) {
	t.update(func(children map[string]*Node) bool {
		children[dir.name] = dir
		return true
	})
}

// Remove drops an archive directory. It reports whether one was present.
func (t *Tree) Remove(id string) bool {
	return t.update(func(children map[string]*Node) bool {
		if _, ok := children[id]; !ok {
			return false
		}
		delete(children, id)
		return true
	})
}

// Resolve walks parts from the root without expanding symlinks. "." is
// ignored and ".." returns to the previous directory on the walk.
func (t *Tree) Resolve(parts []string) (*Node, error) {
	return walk(t.Root(), parts, false)
}

// Follow walks parts like Resolve but expands every symlink, including the
// final component. Absolute targets are anchored at the link's archive
// directory and a target may not leave that archive.
func (t *Tree) Follow(parts []string) (*Node, error) {
	return walk(t.Root(), parts, true)
}

func walk(root *Node, parts []string, follow bool) (*Node, error) {
	stack := make([]*Node, 1, len(parts)+1)
	stack[0] = root
	queue := append([]string(nil), parts...)
	hops := 0

	notFound := func(err error) error {
		if hops > 0 {
			return ErrDangling
		}
		return err
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		cur := stack[len(stack)-1]

		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) == 1 {
				return nil, notFound(ErrEscape)
			}
			if hops > 0 && len(stack) == 2 {
				return nil, ErrDangling
			}
			stack = stack[:len(stack)-1]
			continue
		}

		if !cur.IsDir() {
			return nil, notFound(ErrNotDir)
		}
		if cur.pending {
			return nil, &PendingError{Archive: cur.archive}
		}
		child, ok := cur.children[p]
		if !ok {
			return nil, notFound(ErrNotExist)
		}

		if follow && child.kind == tarindex.KindSymlink {
			hops++
			if hops > MaxSymlinkHops {
				return nil, ErrDangling
			}
			target := child.Target()
			if strings.HasPrefix(target, "/") {
				stack = stack[:2]
			}
			queue = append(strings.Split(target, "/"), queue...)
			continue
		}
		stack = append(stack, child)
	}
	return stack[len(stack)-1], nil
}

// Build assembles the directory for archive id from its index entries.
// Missing intermediate directories are synthesized. When a file and a
// directory claim the same path the directory wins.
func Build(id string, entries []*tarindex.Entry, modTime time.Time) *Node {
	dir := newDir(id, id, 0o555, modTime)
	for _, e := range entries {
		if len(e.Path) == 0 {
			continue
		}
		parent := dir
		for _, comp := range e.Path[:len(e.Path)-1] {
			child, ok := parent.children[comp]
			if !ok || !child.IsDir() {
				child = newDir(comp, id, 0o755, modTime)
				parent.children[comp] = child
			}
			parent = child
		}

		name := e.Path[len(e.Path)-1]
		existing, ok := parent.children[name]
		if e.Kind == tarindex.KindDirectory {
			if ok && existing.IsDir() {
				existing.entry = e
				existing.mode = e.Mode
				existing.modTime = e.ModTime
				continue
			}
			n := newDir(name, id, e.Mode, e.ModTime)
			n.entry = e
			parent.children[name] = n
			continue
		}
		if ok && existing.IsDir() {
			continue
		}
		parent.children[name] = leaf(id, name, e)
	}
	dir.seal()
	return dir
}

func leaf(id, name string, e *tarindex.Entry) *Node {
	n := &Node{
		name:    name,
		kind:    e.Kind,
		archive: id,
		entry:   e,
		mode:    e.Mode,
		modTime: e.ModTime,
	}
	switch e.Kind {
	case tarindex.KindFile:
		n.size = e.Size
	case tarindex.KindSymlink:
		n.size = int64(len(e.Target))
		if n.mode == 0 {
			n.mode = fs.ModePerm
		}
	}
	return n
}
