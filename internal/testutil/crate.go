package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/vbatts/tar-split/archive/tar"
)

// FixtureTime is the modification time stamped on fixture entries.
var FixtureTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// TarEntry describes one member written by BuildTar.
type TarEntry struct {
	Name     string
	Type     byte
	Body     []byte
	Linkname string
	Mode     int64
}

// File returns a regular file entry.
func File(name, body string) TarEntry {
	return TarEntry{Name: name, Type: tar.TypeReg, Body: []byte(body), Mode: 0o644}
}

// Dir returns a directory entry.
func Dir(name string) TarEntry {
	return TarEntry{Name: name, Type: tar.TypeDir, Mode: 0o755}
}

// Symlink returns a symbolic link entry.
func Symlink(name, target string) TarEntry {
	return TarEntry{Name: name, Type: tar.TypeSymlink, Linkname: target, Mode: 0o777}
}

// Hardlink returns a hard link entry.
func Hardlink(name, target string) TarEntry {
	return TarEntry{Name: name, Type: tar.TypeLink, Linkname: target, Mode: 0o644}
}

// BuildTar encodes entries as an uncompressed tar stream.
func BuildTar(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: e.Type,
			Linkname: e.Linkname,
			Mode:     e.Mode,
			ModTime:  FixtureTime,
		}
		if e.Type == tar.TypeReg {
			hdr.Size = int64(len(e.Body))
		}
		require.NoError(tb, tw.WriteHeader(hdr))
		if len(e.Body) > 0 {
			_, err := tw.Write(e.Body)
			require.NoError(tb, err)
		}
	}
	require.NoError(tb, tw.Close())
	return buf.Bytes()
}

// Gzip compresses data as a single gzip member.
func Gzip(tb testing.TB, data []byte, level int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	require.NoError(tb, err)
	_, err = zw.Write(data)
	require.NoError(tb, err)
	require.NoError(tb, zw.Close())
	return buf.Bytes()
}

// BuildCrate returns a gzip-compressed tar stream of entries.
func BuildCrate(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()
	return Gzip(tb, BuildTar(tb, entries), gzip.DefaultCompression)
}

// WriteCrate writes a crate named "<id>.crate" into dir and returns its path.
func WriteCrate(tb testing.TB, dir, id string, entries []TarEntry) string {
	tb.Helper()
	return WriteFile(tb, dir, id+".crate", BuildCrate(tb, entries))
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()

	p := filepath.Join(dir, name)
	require.NoError(tb, os.WriteFile(p, data, 0o600))
	return p
}

// Prefixed returns entries with every name placed beneath prefix, matching
// the "<name>-<version>/" layout cargo uses.
func Prefixed(prefix string, entries ...TarEntry) []TarEntry {
	out := make([]TarEntry, 0, len(entries)+1)
	out = append(out, Dir(prefix+"/"))
	for _, e := range entries {
		e.Name = prefix + "/" + e.Name
		if e.Type == tar.TypeLink {
			e.Linkname = prefix + "/" + e.Linkname
		}
		out = append(out, e)
	}
	return out
}
