package vtree

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AL68-co/fuse-crates/internal/pathutil"
	"github.com/AL68-co/fuse-crates/internal/tarindex"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func file(path string, size int64) *tarindex.Entry {
	return &tarindex.Entry{Path: pathutil.Split(path), Kind: tarindex.KindFile, Size: size, Mode: 0o644, ModTime: epoch}
}

func dir(path string) *tarindex.Entry {
	return &tarindex.Entry{Path: pathutil.Split(path), Kind: tarindex.KindDirectory, Mode: 0o750, ModTime: epoch}
}

func symlink(path, target string) *tarindex.Entry {
	return &tarindex.Entry{Path: pathutil.Split(path), Kind: tarindex.KindSymlink, Target: target, ModTime: epoch}
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func demoTree(t *testing.T) *Tree {
	t.Helper()

	tree := New(epoch)
	require.True(t, tree.AddPending("demo-1.0.0", epoch, 100))
	require.True(t, tree.AddPending("other-0.1.0", epoch, 50))
	tree.Graft(Build("demo-1.0.0", []*tarindex.Entry{
		file("Cargo.toml", 10),
		file("src/lib.rs", 20),
		file("src/bin/main.rs", 30),
		dir("src"),
		symlink("lib.rs", "src/lib.rs"),
		symlink("abs.rs", "/src/bin/main.rs"),
		symlink("src/up.rs", "../Cargo.toml"),
		symlink("src/bin/dirlink", ".."),
		symlink("escape", "../other-0.1.0"),
		symlink("missing", "nope.rs"),
		symlink("loop-a", "loop-b"),
		symlink("loop-b", "loop-a"),
	}, epoch))
	return tree
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tree := demoTree(t)

	tests := []struct {
		path    string
		want    string
		kind    tarindex.Kind
		wantErr error
	}{
		{path: "/", want: "", kind: tarindex.KindDirectory},
		{path: "/demo-1.0.0", want: "demo-1.0.0", kind: tarindex.KindDirectory},
		{path: "/demo-1.0.0/src/lib.rs", want: "lib.rs", kind: tarindex.KindFile},
		{path: "/demo-1.0.0/./src/../Cargo.toml", want: "Cargo.toml", kind: tarindex.KindFile},
		{path: "/demo-1.0.0/lib.rs", want: "lib.rs", kind: tarindex.KindSymlink},
		{path: "/demo-1.0.0/src/../../other-0.1.0", want: "other-0.1.0", kind: tarindex.KindDirectory},
		{path: "/demo-1.0.0/Cargo.TOML", wantErr: ErrNotExist},
		{path: "/demo-1.0.0/Cargo.toml/x", wantErr: ErrNotDir},
		{path: "/..", wantErr: ErrEscape},
		{path: "/demo-1.0.0/../../etc", wantErr: ErrEscape},
		{path: "/missing-9.9.9", wantErr: ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			n, err := tree.Resolve(pathutil.Split(tt.path))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Name())
			assert.Equal(t, tt.kind, n.Kind())
		})
	}
}

func TestResolvePending(t *testing.T) {
	t.Parallel()

	tree := demoTree(t)

	n, err := tree.Resolve(pathutil.Split("/other-0.1.0"))
	require.NoError(t, err)
	assert.True(t, n.Pending())
	assert.Equal(t, int64(50), n.Size())

	_, err = tree.Resolve(pathutil.Split("/other-0.1.0/src"))
	var pending *PendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "other-0.1.0", pending.Archive)
}

func TestFollow(t *testing.T) {
	t.Parallel()

	tree := demoTree(t)

	tests := []struct {
		path    string
		want    string
		wantErr error
	}{
		{path: "/demo-1.0.0/lib.rs", want: "lib.rs"},
		{path: "/demo-1.0.0/abs.rs", want: "main.rs"},
		{path: "/demo-1.0.0/src/up.rs", want: "Cargo.toml"},
		{path: "/demo-1.0.0/src/bin/dirlink/lib.rs", want: "lib.rs"},
		{path: "/demo-1.0.0/escape", wantErr: ErrDangling},
		{path: "/demo-1.0.0/missing", wantErr: ErrDangling},
		{path: "/demo-1.0.0/loop-a", wantErr: ErrDangling},
		{path: "/demo-1.0.0/nothing", wantErr: ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			n, err := tree.Follow(pathutil.Split(tt.path))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Name())
			assert.NotEqual(t, tarindex.KindSymlink, n.Kind())
		})
	}
}

func TestBuildSynthesizesDirectories(t *testing.T) {
	t.Parallel()

	root := Build("deep-1.0.0", []*tarindex.Entry{
		file("a/b/c/d.txt", 1),
		file("a/x.txt", 2),
	}, epoch)

	a, ok := root.Child("a")
	require.True(t, ok)
	assert.True(t, a.IsDir())
	assert.Nil(t, a.Entry())
	assert.Equal(t, []string{"b", "x.txt"}, names(a.Children()))

	tree := New(epoch)
	tree.Graft(root)
	n, err := tree.Resolve(pathutil.Split("/deep-1.0.0/a/b/c/d.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Size())
	assert.Equal(t, "deep-1.0.0", n.Archive())
}

func TestBuildDirectoryWinsConflicts(t *testing.T) {
	t.Parallel()

	t.Run("file then nested entry", func(t *testing.T) {
		t.Parallel()
		root := Build("c-1.0.0", []*tarindex.Entry{file("x", 5), file("x/y", 6)}, epoch)
		x, _ := root.Child("x")
		require.True(t, x.IsDir())
		y, ok := x.Child("y")
		require.True(t, ok)
		assert.Equal(t, int64(6), y.Size())
	})

	t.Run("directory then file", func(t *testing.T) {
		t.Parallel()
		root := Build("c-1.0.0", []*tarindex.Entry{dir("x"), file("x", 5)}, epoch)
		x, _ := root.Child("x")
		assert.True(t, x.IsDir())
		assert.Equal(t, 0o750, int(x.Mode()))
	})

	t.Run("explicit directory after synthesized", func(t *testing.T) {
		t.Parallel()
		root := Build("c-1.0.0", []*tarindex.Entry{file("x/y", 1), dir("x")}, epoch)
		x, _ := root.Child("x")
		assert.NotNil(t, x.Entry())
		assert.Equal(t, 1, x.Len())
	})
}

func TestRootListingSortedAndAtomic(t *testing.T) {
	t.Parallel()

	tree := New(epoch)
	for _, id := range []string{"zeta-1.0.0", "alpha-1.0.0", "mid-2.0.0"} {
		tree.AddPending(id, epoch, 0)
	}
	assert.False(t, tree.AddPending("mid-2.0.0", epoch, 0))
	assert.Equal(t, []string{"alpha-1.0.0", "mid-2.0.0", "zeta-1.0.0"}, names(tree.Root().Children()))

	before := tree.Root()
	require.True(t, tree.Remove("mid-2.0.0"))
	assert.False(t, tree.Remove("mid-2.0.0"))
	assert.Equal(t, 3, before.Len(), "old snapshot must not change")
	assert.Equal(t, 2, tree.Root().Len())
}

func TestConcurrentGraftAndResolve(t *testing.T) {
	t.Parallel()

	tree := New(epoch)
	ids := []string{"a-1.0.0", "b-1.0.0", "c-1.0.0", "d-1.0.0"}
	for _, id := range ids {
		tree.AddPending(id, epoch, 0)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tree.Graft(Build(id, []*tarindex.Entry{file("src/lib.rs", 3)}, epoch))
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				n, err := tree.Resolve([]string{id, "src", "lib.rs"})
				var pending *PendingError
				switch {
				case err == nil:
					assert.Equal(t, int64(3), n.Size())
				case errors.As(err, &pending):
				default:
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		_, err := tree.Resolve([]string{id, "src", "lib.rs"})
		require.NoError(t, err)
	}
}
