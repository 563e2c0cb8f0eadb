// Package archive opens packaged crates and exposes their decompressed
// tar stream.
//
// A Reader serves two access patterns. Scan walks the stream once from the
// beginning, which is how an archive gets indexed, and records seek
// checkpoints as it goes. ReadAt then serves positioned reads by resuming
// decompression at the nearest checkpoint instead of the start of the file.
package archive
