package cratefs

import (
	"context"
	"errors"
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/AL68-co/fuse-crates/archive"
	"github.com/AL68-co/fuse-crates/cache"
	"github.com/AL68-co/fuse-crates/internal/vtree"
	"github.com/AL68-co/fuse-crates/registry"
)

// Sentinel errors. They classify failures before translation to an errno
// and are never returned directly.
var (
	// ErrNotFound is returned when a path does not name a visible entry.
	ErrNotFound = errors.New("cratefs: not found")

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("cratefs: is a directory")

	// ErrNotDir is returned when a directory operation targets a non-directory.
	ErrNotDir = errors.New("cratefs: not a directory")

	// ErrNotSymlink is returned when readlink targets a non-symlink.
	ErrNotSymlink = errors.New("cratefs: not a symlink")

	// ErrInvalid is returned for a negative read offset.
	ErrInvalid = errors.New("cratefs: invalid argument")

	// ErrReadOnly is returned when an open requests write access.
	ErrReadOnly = errors.New("cratefs: read-only filesystem")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cratefs: closed")
)

// Errno returns the errno carried by err. Errors that carry none map to
// EINTR for context cancellation and EIO otherwise. A nil err maps to 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return errnoFor(err)
}

func errnoFor(err error) syscall.Errno {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return unix.EINTR
	case errors.Is(err, ErrNotFound),
		errors.Is(err, vtree.ErrNotExist),
		errors.Is(err, vtree.ErrEscape),
		errors.Is(err, vtree.ErrDangling),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrBroken):
		return unix.ENOENT
	case errors.Is(err, ErrNotDir), errors.Is(err, vtree.ErrNotDir):
		return unix.ENOTDIR
	case errors.Is(err, ErrIsDir):
		return unix.EISDIR
	case errors.Is(err, ErrNotSymlink), errors.Is(err, ErrInvalid):
		return unix.EINVAL
	case errors.Is(err, ErrReadOnly):
		return unix.EACCES
	case errors.Is(err, ErrClosed), errors.Is(err, registry.ErrClosed), errors.Is(err, cache.ErrReleased):
		return unix.EBADF
	case errors.Is(err, archive.ErrCorruptArchive),
		errors.Is(err, archive.ErrTruncated),
		errors.Is(err, archive.ErrIO):
		return unix.EIO
	default:
		return unix.EIO
	}
}

// pathError wraps err for the public boundary, replacing it with its errno.
func pathError(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: errnoFor(err)}
}
