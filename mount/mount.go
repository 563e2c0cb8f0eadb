// Package mount serves a cratefs.FS over FUSE.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	cratefs "github.com/AL68-co/fuse-crates"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted. It is
	// created if it does not exist.
	Mountpoint string

	// FS answers every request.
	FS *cratefs.FS

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request to stderr.
	Debug bool

	// Logger receives diagnostic messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Mount mounts fsys at the configured mountpoint. The caller must call
// Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mount: mountpoint is required")
	}
	if options.FS == nil {
		return nil, errors.New("mount: filesystem is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := clearStale(options.Mountpoint, statMountpoint, defaultDetachers, options.Logger); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("mount: create mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{dirNode: dirNode{node: node{options: &options, path: "/"}}}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 1 * time.Second

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		UID:             options.FS.Config().UID,
		GID:             options.FS.Config().GID,
		MountOptions: fuse.MountOptions{
			FsName:     options.FS.Registry().Dir(),
			Name:       "cratefs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount: mount FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("crate filesystem mounted", "mountpoint", options.Mountpoint, "source", options.FS.Registry().Dir())
	return server, nil
}

// node carries what every node type needs: the shared options and the
// node's path within the mount.
type node struct {
	gofuse.Inode
	options *Options
	path    string
}

func (n *node) fsys() *cratefs.FS { return n.options.FS }

func (n *node) errno(op string, err error) syscall.Errno {
	errno := cratefs.Errno(err)
	if errno == syscall.EIO {
		n.options.Logger.Error(op+" failed", "path", n.path, "error", err)
	}
	return errno
}

func (n *node) getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fsys().Getattr(ctx, n.path)
	if err != nil {
		return n.errno("getattr", err)
	}
	fillAttr(&out.Attr, attr, n.fsys().Config().BlockSize)
	return 0
}

// rootNode is the mount root. It lists one directory per archive and
// reports filesystem statistics.
type rootNode struct {
	dirNode
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeStatfser = (*rootNode)(nil)

func (r *rootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, err := r.fsys().Statfs(ctx)
	if err != nil {
		return r.errno("statfs", err)
	}
	out.Bsize = st.BlockSize
	out.Frsize = st.BlockSize
	out.Blocks = st.Blocks
	out.Files = st.Files
	out.NameLen = st.NameLen
	return 0
}

type dirNode struct {
	node
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, err := d.fsys().LookupChild(ctx, d.path, name)
	if err != nil {
		return nil, d.errno("lookup", err)
	}
	fillAttr(&out.Attr, attr, d.fsys().Config().BlockSize)

	child := node{options: d.options, path: childPath(d.path, name)}
	var emb gofuse.InodeEmbedder
	switch attr.Kind {
	case cratefs.KindDirectory:
		emb = &dirNode{node: child}
	case cratefs.KindSymlink:
		emb = &symlinkNode{node: child}
	default:
		emb = &fileNode{node: child}
	}
	return d.NewInode(ctx, emb, gofuse.StableAttr{Mode: typeBits(attr.Kind)}), 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := d.fsys().Readdir(ctx, d.path)
	if err != nil {
		return nil, d.errno("readdir", err)
	}
	out := make([]fuse.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = fuse.DirEntry{Name: e.Name, Mode: typeBits(e.Kind)}
	}
	return gofuse.NewListDirStream(out), 0
}

func (d *dirNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return d.getattr(ctx, out)
}

type symlinkNode struct {
	node
}

var _ gofuse.InodeEmbedder = (*symlinkNode)(nil)
var _ gofuse.NodeReadlinker = (*symlinkNode)(nil)
var _ gofuse.NodeGetattrer = (*symlinkNode)(nil)

func (s *symlinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := s.fsys().Readlink(ctx, s.path)
	if err != nil {
		return nil, s.errno("readlink", err)
	}
	return []byte(target), 0
}

func (s *symlinkNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return s.getattr(ctx, out)
}

type fileNode struct {
	node
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	h, err := f.fsys().Open(ctx, f.path, int(flags))
	if err != nil {
		return nil, 0, f.errno("open", err)
	}
	// Archive content never changes, so the kernel page cache stays valid.
	return &fileHandle{node: &f.node, handle: h}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return f.getattr(ctx, out)
}

// fileHandle adapts a cratefs.Handle to go-fuse.
type fileHandle struct {
	node   *node
	handle *cratefs.Handle
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.node.fsys().Read(ctx, h.handle, dest, off)
	if err != nil {
		return nil, h.node.errno("read", err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(context.Context) syscall.Errno {
	h.node.fsys().Release(h.handle)
	return 0
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func typeBits(k cratefs.Kind) uint32 {
	switch k {
	case cratefs.KindDirectory:
		return syscall.S_IFDIR
	case cratefs.KindSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func fillAttr(out *fuse.Attr, attr cratefs.Attr, blockSize int64) {
	out.Mode = typeBits(attr.Kind) | uint32(attr.Mode&fs.ModePerm)
	out.Size = uint64(attr.Size) //nolint:gosec // sizes are non-negative
	out.Blocks = uint64(attr.Blocks) //nolint:gosec // block counts are non-negative
	out.Blksize = uint32(blockSize) //nolint:gosec // block size fits in uint32
	out.Nlink = attr.Nlink
	out.Uid = attr.UID
	out.Gid = attr.GID
	mtime := attr.ModTime
	out.SetTimes(nil, &mtime, &mtime)
}
