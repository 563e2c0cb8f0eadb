package cratefs

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/AL68-co/fuse-crates/internal/pathutil"
	"github.com/AL68-co/fuse-crates/internal/testutil"
)

func TestImpliedDirectoryScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifest := strings.Repeat("m", 37)
	lib := strings.Repeat("l", 120)
	testutil.WriteCrate(t, dir, "scenario-1.0.0", []testutil.TarEntry{
		testutil.File("scenario-1.0.0/Cargo.toml", manifest),
		testutil.File("scenario-1.0.0/src/lib.rs", lib),
	})
	fsys, err := New(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsys.Close() })
	ctx := context.Background()

	root, err := fsys.Readdir(ctx, "/scenario-1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"Cargo.toml", "src"}, names(root))
	assert.Equal(t, KindDirectory, root[1].Kind)

	src, err := fsys.Readdir(ctx, "/scenario-1.0.0/src")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib.rs"}, names(src))

	h, err := fsys.Open(ctx, "/scenario-1.0.0/src/lib.rs", unix.O_RDONLY)
	require.NoError(t, err)
	defer fsys.Release(h)
	buf := make([]byte, 4096)
	n, err := fsys.Read(ctx, h, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	assert.Equal(t, lib, string(buf[:n]))
}

func TestTruncatedArchiveIsIsolated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	crate := testutil.BuildCrate(t, testutil.Prefixed("cut-1.0.0",
		testutil.File("src/lib.rs", string(bigBody(64<<10))),
	))
	testutil.WriteFile(t, dir, "cut-1.0.0.crate", crate[:len(crate)/2])
	testutil.WriteCrate(t, dir, "whole-1.0.0", testutil.Prefixed("whole-1.0.0",
		testutil.File("src/lib.rs", "ok\n"),
	))

	fsys, err := New(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsys.Close() })
	ctx := context.Background()

	_, err = fsys.Lookup(ctx, "/cut-1.0.0/src/lib.rs")
	requireErrno(t, err, unix.ENOENT)

	attr, err := fsys.Lookup(ctx, "/whole-1.0.0/src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, int64(3), attr.Size)
}

func TestReadSurvivesEviction(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	h, err := fx.fs.Open(ctx, "/demo-1.0.0/data/big.rs", unix.O_RDONLY)
	require.NoError(t, err)
	defer fx.fs.Release(h)

	const length = 200 << 10
	off := int64(1 << 20)
	base := h.entry.Offset + off
	src := h.archive.Reader()
	lease, err := fx.fs.cache.Acquire(ctx, src, base, length)
	require.NoError(t, err)
	defer lease.Release()

	require.True(t, fx.fs.cache.Evict(src.SourceID()))
	assert.False(t, fx.fs.cache.Contains(src.SourceID(), base/fx.fs.Config().BlockSize))
	assert.Positive(t, fx.fs.CacheStats().ResidentBytes)

	buf := make([]byte, length)
	n, err := lease.ReadAt(buf, base)
	require.NoError(t, err)
	require.Equal(t, length, n)
	assert.True(t, bytes.Equal(fx.big[off:off+length], buf))

	// The handle refills the cache after the eviction.
	clear(buf)
	n, err = fx.fs.Read(ctx, h, buf, off)
	require.NoError(t, err)
	require.Equal(t, length, n)
	assert.True(t, bytes.Equal(fx.big[off:off+length], buf))
}

func TestListingMatchesIndex(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	var listed []string
	var walk func(path string)
	walk = func(path string) {
		entries, err := fx.fs.Readdir(ctx, path)
		require.NoError(t, err)
		for _, e := range entries {
			child := pathutil.Join(append(pathutil.Split(path), e.Name)...)
			listed = append(listed, child)
			if e.Kind == KindDirectory {
				walk(child)
			}
		}
	}
	walk("/demo-1.0.0")

	a := fx.fs.Registry().Get("demo-1.0.0")
	require.NotNil(t, a.Index())
	for _, e := range a.Index().Entries {
		p := pathutil.Join(append([]string{"demo-1.0.0"}, e.Path...)...)
		assert.Contains(t, listed, p)
	}
	for _, p := range listed {
		_, err := fx.fs.Lookup(ctx, p)
		require.NoError(t, err, p)
	}
}

func TestReassemblyInAnyOrder(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	h, err := fx.fs.Open(ctx, "/demo-1.0.0/data/big.rs", unix.O_RDONLY)
	require.NoError(t, err)
	defer fx.fs.Release(h)

	const chunk = 37 << 10
	var offsets []int64
	for off := int64(0); off < h.Size(); off += chunk {
		offsets = append(offsets, off)
	}
	rng := rand.New(rand.NewPCG(3, 4))
	rng.Shuffle(len(offsets), func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })

	out := make([]byte, h.Size())
	buf := make([]byte, chunk)
	for _, off := range offsets {
		n, err := fx.fs.Read(ctx, h, buf, off)
		require.NoError(t, err)
		require.Equal(t, int(min(chunk, h.Size()-off)), n)
		copy(out[off:], buf[:n])
	}
	assert.True(t, bytes.Equal(fx.big, out))

	for range 2 {
		h2, err := fx.fs.Open(ctx, "/demo-1.0.0/data/big.rs", unix.O_RDONLY)
		require.NoError(t, err)
		n, err := fx.fs.Read(ctx, h2, buf, 12345)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(fx.big[12345:12345+n], buf[:n]))
		fx.fs.Release(h2)
	}
}
