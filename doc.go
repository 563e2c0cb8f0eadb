// Package cratefs presents a directory of Rust .crate archives as a
// read-only filesystem.
//
// Each archive in the source directory appears as a top-level directory
// named after the crate and its version:
//
//	/serde-1.0.0/Cargo.toml
//	/serde-1.0.0/src/lib.rs
//
// Archives are indexed lazily on first access below their directory and
// decompressed on demand. Seek checkpoints recorded while indexing let reads
// resume decompression near the requested offset; decompressed blocks are
// held in a shared, size-bounded cache.
//
// [FS] answers path-based filesystem operations. The mount package bridges
// it to FUSE:
//
//	fsys, err := cratefs.New(ctx, "/var/lib/crates",
//	    cratefs.WithCacheMaxBytes(512<<20),
//	)
//	if err != nil {
//	    return err
//	}
//	defer fsys.Close()
//
//	attr, err := fsys.Lookup(ctx, "/serde-1.0.0/src/lib.rs")
//
// Errors returned by [FS] are [*fs.PathError] values wrapping a
// [syscall.Errno]; use [Errno] to extract it.
package cratefs
