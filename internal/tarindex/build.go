// Package tarindex builds an in-memory index of a tar stream in a single
// sequential pass, recording where each file's payload lives in the stream.
package tarindex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/vbatts/tar-split/archive/tar"
)

// ErrMalformedEntry is returned when a header fails validation or an entry
// does not fit in the stream.
var ErrMalformedEntry = errors.New("tarindex: malformed entry")

// Option configures Build.
type Option func(*builder)

// WithStripPrefix removes a leading path component equal to prefix. Cargo
// packages every file beneath a "<name>-<version>/" directory.
func WithStripPrefix(prefix string) Option {
	return func(b *builder) {
		b.prefix = prefix
	}
}

// WithDeclaredSize rejects entries whose payload extends past n bytes.
// Values <= 0 disable the check.
func WithDeclaredSize(n int64) Option {
	return func(b *builder) {
		b.declared = n
	}
}

type builder struct {
	prefix   string
	declared int64

	idx    *Index
	byPath map[string]int
}

// Build reads a tar stream from r and returns its entries in archive order.
// Once the end-of-archive marker is seen the rest of r is drained so any
// integrity check in the underlying reader runs.
func Build(r io.Reader, opts ...Option) (*Index, error) {
	b := &builder{
		idx:    &Index{},
		byPath: make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}

	cr := &countingReader{r: r}
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, tar.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: entry %d: %w", ErrMalformedEntry, len(b.idx.Entries), err)
			}
			return nil, fmt.Errorf("tarindex: read header: %w", err)
		}
		if err := b.add(hdr, cr.n); err != nil {
			return nil, err
		}
	}

	if _, err := io.Copy(io.Discard, cr); err != nil {
		return nil, fmt.Errorf("tarindex: drain stream: %w", err)
	}
	b.idx.StreamSize = cr.n
	return b.idx, nil
}

func (b *builder) add(hdr *tar.Header, offset int64) error {
	parts, ok := b.clean(hdr.Name)
	if !ok {
		b.skip(hdr.Name, "path escapes archive root")
		return nil
	}
	if len(parts) == 0 {
		// The archive root itself.
		return nil
	}

	e := &Entry{
		Path:    parts,
		Mode:    fs.FileMode(hdr.Mode).Perm(), //nolint:gosec // permission bits only
		ModTime: hdr.ModTime,
	}

	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeRegA, tar.TypeCont:
		if hdr.Size < 0 {
			return fmt.Errorf("%w: %s: negative size", ErrMalformedEntry, hdr.Name)
		}
		if b.declared > 0 && offset+hdr.Size > b.declared {
			return fmt.Errorf("%w: %s: payload ends at %d past stream size %d",
				ErrMalformedEntry, hdr.Name, offset+hdr.Size, b.declared)
		}
		e.Kind = KindFile
		e.Size = hdr.Size
		e.Offset = offset
	case tar.TypeDir:
		e.Kind = KindDirectory
	case tar.TypeSymlink:
		e.Kind = KindSymlink
		e.Target = hdr.Linkname
	case tar.TypeLink:
		target, ok := b.clean(hdr.Linkname)
		if !ok {
			b.skip(hdr.Name, "hard link target escapes archive root")
			return nil
		}
		i, found := b.byPath[strings.Join(target, "/")]
		if !found || b.idx.Entries[i].Kind != KindFile {
			b.skip(hdr.Name, "hard link to missing or non-regular entry")
			return nil
		}
		src := b.idx.Entries[i]
		e.Kind = KindFile
		e.Size = src.Size
		e.Offset = src.Offset
	default:
		b.skip(hdr.Name, fmt.Sprintf("unsupported entry type %q", hdr.Typeflag))
		return nil
	}

	key := strings.Join(parts, "/")
	if i, dup := b.byPath[key]; dup {
		b.idx.Diagnostics.Duplicates = append(b.idx.Diagnostics.Duplicates, key)
		b.replace(i, e)
		return nil
	}
	b.byPath[key] = len(b.idx.Entries)
	b.idx.Entries = append(b.idx.Entries, e)
	if e.Kind == KindFile {
		b.idx.PayloadBytes += e.Size
	}
	return nil
}

func (b *builder) replace(i int, e *Entry) {
	if old := b.idx.Entries[i]; old.Kind == KindFile {
		b.idx.PayloadBytes -= old.Size
	}
	if e.Kind == KindFile {
		b.idx.PayloadBytes += e.Size
	}
	b.idx.Entries[i] = e
}

func (b *builder) skip(name, reason string) {
	b.idx.Diagnostics.Skipped = append(b.idx.Diagnostics.Skipped, Skip{Path: name, Reason: reason})
}

// clean splits name into components, dropping empty and "." elements and the
// optional prefix. It reports false when a component is "..".
func (b *builder) clean(name string) ([]string, bool) {
	raw := strings.Split(name, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		switch p {
		case "", ".":
			continue
		case "..":
			return nil, false
		}
		parts = append(parts, p)
	}
	if b.prefix != "" && len(parts) > 0 && parts[0] == b.prefix {
		parts = parts[1:]
	}
	return parts, true
}
