package mount

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// detacher removes the mount at a path, lazily where possible.
type detacher struct {
	name string
	run  func(mountpoint string) error
}

// defaultDetachers tries the unmount syscall first, which needs
// CAP_SYS_ADMIN, then the setuid FUSE helpers.
var defaultDetachers = []detacher{
	{name: "umount2", run: func(mp string) error { return unix.Unmount(mp, unix.MNT_DETACH) }},
	{name: "fusermount3", run: fusermount("fusermount3")},
	{name: "fusermount", run: fusermount("fusermount")},
}

func fusermount(bin string) func(string) error {
	return func(mp string) error {
		out, err := exec.Command(bin, "-u", "-z", mp).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(out))
		}
		return nil
	}
}

// clearStale detaches a FUSE mount left behind by a server that exited
// without unmounting. Such a mountpoint fails every access with ENOTCONN.
// Any other stat outcome is left for the caller to handle.
func clearStale(mountpoint string, stat func(string) (fs.FileInfo, error), detachers []detacher, log *slog.Logger) error {
	_, err := stat(mountpoint)
	if !errors.Is(err, syscall.ENOTCONN) {
		return nil
	}
	log.Warn("mountpoint is a stale FUSE mount, detaching", "mountpoint", mountpoint)

	var errs []error
	for _, d := range detachers {
		derr := d.run(mountpoint)
		if derr == nil {
			log.Info("stale mount detached", "mountpoint", mountpoint, "via", d.name)
			return nil
		}
		log.Debug("detach failed", "mountpoint", mountpoint, "via", d.name, "error", derr)
		errs = append(errs, fmt.Errorf("%s: %w", d.name, derr))
	}
	return fmt.Errorf("mount: clear stale mountpoint %s: %w", mountpoint, errors.Join(append([]error{err}, errs...)...))
}

func statMountpoint(mp string) (fs.FileInfo, error) {
	return os.Stat(mp)
}
