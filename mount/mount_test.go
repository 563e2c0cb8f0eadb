package mount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	cratefs "github.com/AL68-co/fuse-crates"
	"github.com/AL68-co/fuse-crates/internal/testutil"
)

// fuseAvailable skips the test unless /dev/fuse is accessible.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount mounts a source directory with two crates and returns the
// mountpoint. The mount is removed when the test ends.
func testMount(t *testing.T) string {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	source := filepath.Join(root, "source")
	require.NoError(t, os.MkdirAll(source, 0o755))
	testutil.WriteCrate(t, source, "demo-1.0.0", testutil.Prefixed("demo-1.0.0",
		testutil.File("Cargo.toml", "[package]\nname = \"demo\"\n"),
		testutil.File("src/lib.rs", "pub fn demo() {}\n"),
		testutil.Symlink("lib.rs", "/src/lib.rs"),
		testutil.Symlink("escape", "../other-0.1.0/README.md"),
	))
	testutil.WriteCrate(t, source, "other-0.1.0", testutil.Prefixed("other-0.1.0",
		testutil.File("README.md", "other\n"),
	))

	fsys, err := cratefs.New(context.Background(), source)
	require.NoError(t, err)

	mountpoint := filepath.Join(root, "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, FS: fsys})
	if err != nil {
		_ = fsys.Close()
		t.Skipf("skipping: mount failed: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, server.Unmount())
		assert.NoError(t, fsys.Close())
	})
	return mountpoint
}

func TestMountListsArchives(t *testing.T) {
	mountpoint := testMount(t)

	entries, err := os.ReadDir(mountpoint)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
		assert.True(t, e.IsDir())
	}
	assert.Equal(t, []string{"demo-1.0.0", "other-0.1.0"}, names)
}

func TestMountReadsFiles(t *testing.T) {
	mountpoint := testMount(t)

	data, err := os.ReadFile(filepath.Join(mountpoint, "demo-1.0.0", "src", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "pub fn demo() {}\n", string(data))

	info, err := os.Stat(filepath.Join(mountpoint, "demo-1.0.0", "Cargo.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode())
}

func TestMountSymlinks(t *testing.T) {
	mountpoint := testMount(t)

	target, err := os.Readlink(filepath.Join(mountpoint, "demo-1.0.0", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "src/lib.rs", target)

	data, err := os.ReadFile(filepath.Join(mountpoint, "demo-1.0.0", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "pub fn demo() {}\n", string(data))

	escape := filepath.Join(mountpoint, "demo-1.0.0", "escape")
	info, err := os.Lstat(escape)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSymlink, info.Mode().Type())
	_, err = os.Readlink(escape)
	assert.True(t, errors.Is(err, syscall.ENOENT), "got %v", err)
	_, err = os.ReadFile(escape)
	assert.Error(t, err)
}

func TestMountRefusesWrites(t *testing.T) {
	mountpoint := testMount(t)

	_, err := os.OpenFile(filepath.Join(mountpoint, "demo-1.0.0", "Cargo.toml"), os.O_WRONLY, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EACCES), "got %v", err)

	_, err = os.Stat(filepath.Join(mountpoint, "demo-1.0.0", "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestMountStatfs(t *testing.T) {
	mountpoint := testMount(t)

	var st unix.Statfs_t
	require.NoError(t, unix.Statfs(mountpoint, &st))
	assert.Positive(t, st.Blocks)
	assert.Zero(t, st.Bfree)
}
