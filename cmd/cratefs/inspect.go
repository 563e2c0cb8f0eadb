package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	cratefs "github.com/AL68-co/fuse-crates"
	"github.com/AL68-co/fuse-crates/internal/config"
	"github.com/AL68-co/fuse-crates/internal/pathutil"
	"github.com/AL68-co/fuse-crates/registry"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory without mounting",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}
		return withFS(cmd, func(ctx context.Context, fsys *cratefs.FS) error {
			return runLs(ctx, cmd.OutOrStdout(), fsys, path)
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file without mounting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFS(cmd, func(ctx context.Context, fsys *cratefs.FS) error {
			return runCat(ctx, cmd.OutOrStdout(), fsys, args[0])
		})
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the attributes of a path without mounting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFS(cmd, func(ctx context.Context, fsys *cratefs.FS) error {
			return runStat(ctx, cmd.OutOrStdout(), fsys, args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(lsCmd, catCmd, statCmd)
}

func withFS(cmd *cobra.Command, fn func(context.Context, *cratefs.FS) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return runWithFS(cmd.Context(), cfg, fn)
}

func runWithFS(ctx context.Context, cfg *config.Config, fn func(context.Context, *cratefs.FS) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fsys, err := openFS(ctx, cfg, newLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer func() { _ = fsys.Close() }()
	return fn(ctx, fsys)
}

func runLs(ctx context.Context, w io.Writer, fsys *cratefs.FS, path string) error {
	attr, err := fsys.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return printEntries(ctx, w, fsys, []string{path})
	}
	entries, err := fsys.Readdir(ctx, path)
	if err != nil {
		return err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = pathutil.Join(append(pathutil.Split(path), e.Name)...)
	}
	return printEntries(ctx, w, fsys, paths)
}

func printEntries(ctx context.Context, w io.Writer, fsys *cratefs.FS, paths []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, p := range paths {
		attr, err := fsys.Lookup(ctx, p)
		if err != nil {
			return err
		}
		name := pathutil.Base(p)
		if attr.Kind == cratefs.KindSymlink {
			if target, err := fsys.Readlink(ctx, p); err == nil {
				name += " -> " + target
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", attr.Mode, attr.Size, attr.ModTime.Format(time.DateTime), name)
	}
	return tw.Flush()
}

func runCat(ctx context.Context, w io.Writer, fsys *cratefs.FS, path string) error {
	h, err := fsys.Open(ctx, path, unix.O_RDONLY)
	if err != nil {
		return err
	}
	defer fsys.Release(h)

	buf := make([]byte, fsys.Config().BlockSize)
	var off int64
	for {
		n, err := fsys.Read(ctx, h, buf, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		off += int64(n)
	}
}

func runStat(ctx context.Context, w io.Writer, fsys *cratefs.FS, path string) error {
	attr, err := fsys.Lookup(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  Path: %s\n", path)
	fmt.Fprintf(w, "  Kind: %s\n", attr.Kind)
	fmt.Fprintf(w, "  Size: %d\tBlocks: %d\tLinks: %d\n", attr.Size, attr.Blocks, attr.Nlink)
	fmt.Fprintf(w, "  Mode: %s\tUid: %d\tGid: %d\n", attr.Mode, attr.UID, attr.GID)
	fmt.Fprintf(w, "Modify: %s\n", attr.ModTime.Format(time.RFC3339))

	// Archive directories also report their indexing state.
	parts := pathutil.Split(path)
	if len(parts) == 1 {
		if a := fsys.Registry().Get(parts[0]); a != nil {
			fmt.Fprintf(w, " State: %s\n", a.State())
			if a.State() == registry.Indexed {
				rd := a.Reader()
				fmt.Fprintf(w, "Digest: %s\n", rd.Digest())
				fmt.Fprintf(w, "Compressed: %d\tDecompressed: %d\tCheckpoints: %d\n",
					rd.CompressedSize(), rd.Size(), rd.Checkpoints())
				idx := a.Index()
				fmt.Fprintf(w, "Entries: %d\tPayload: %d\tTar: %d\n",
					len(idx.Entries), idx.PayloadBytes, idx.StreamSize)
			}
		}
	}
	return nil
}
