package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cratefs "github.com/AL68-co/fuse-crates"
	"github.com/AL68-co/fuse-crates/internal/config"
	"github.com/AL68-co/fuse-crates/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	testutil.WriteCrate(t, dir, "demo-1.0.0", testutil.Prefixed("demo-1.0.0",
		testutil.File("Cargo.toml", "[package]\nname = \"demo\"\n"),
		testutil.File("src/lib.rs", strings.Repeat("pub fn demo() {}\n", 20000)),
		testutil.Symlink("lib.rs", "src/lib.rs"),
	))
	cfg := config.Defaults()
	cfg.Source = dir
	cfg.LogLevel = "error"
	cfg.FS.BlockSize = 4096
	require.NoError(t, cfg.Validate())
	return cfg
}

func run(t *testing.T, cfg *config.Config, fn func(context.Context, *bytes.Buffer, *cratefs.FS) error) string {
	t.Helper()
	var out bytes.Buffer
	err := runWithFS(context.Background(), cfg, func(ctx context.Context, fsys *cratefs.FS) error {
		return fn(ctx, &out, fsys)
	})
	require.NoError(t, err)
	return out.String()
}

func TestLs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	out := run(t, cfg, func(ctx context.Context, w *bytes.Buffer, fsys *cratefs.FS) error {
		return runLs(ctx, w, fsys, "/")
	})
	assert.Contains(t, out, "demo-1.0.0")

	out = run(t, cfg, func(ctx context.Context, w *bytes.Buffer, fsys *cratefs.FS) error {
		return runLs(ctx, w, fsys, "/demo-1.0.0")
	})
	assert.Contains(t, out, "Cargo.toml")
	assert.Contains(t, out, "lib.rs -> src/lib.rs")
	assert.Contains(t, out, "src")
}

func TestCat(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	out := run(t, cfg, func(ctx context.Context, w *bytes.Buffer, fsys *cratefs.FS) error {
		return runCat(ctx, w, fsys, "/demo-1.0.0/lib.rs")
	})
	assert.Equal(t, strings.Repeat("pub fn demo() {}\n", 20000), out)
}

func TestCatDirectory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	err := runWithFS(context.Background(), cfg, func(ctx context.Context, fsys *cratefs.FS) error {
		return runCat(ctx, &bytes.Buffer{}, fsys, "/demo-1.0.0/src")
	})
	require.Error(t, err)
}

func TestStat(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	out := run(t, cfg, func(ctx context.Context, w *bytes.Buffer, fsys *cratefs.FS) error {
		if _, err := fsys.Lookup(ctx, "/demo-1.0.0/Cargo.toml"); err != nil {
			return err
		}
		return runStat(ctx, w, fsys, "/demo-1.0.0")
	})
	assert.Contains(t, out, "Kind: directory")
	assert.Contains(t, out, "State: indexed")
	assert.Contains(t, out, "Digest: sha256:")
	assert.Contains(t, out, "Entries: 3\tPayload: ")
}
