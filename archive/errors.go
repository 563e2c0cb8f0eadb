package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/AL68-co/fuse-crates/internal/inflate"
)

var (
	// ErrCorruptArchive is returned when the compressed stream fails an
	// integrity check.
	ErrCorruptArchive = errors.New("archive: corrupt archive")

	// ErrTruncated is returned when decompression ends before the expected
	// number of bytes.
	ErrTruncated = errors.New("archive: truncated archive")

	// ErrIO is returned when the underlying file cannot be read.
	ErrIO = errors.New("archive: i/o error")

	// ErrNotScanned is returned by ReadAt before Scan has completed.
	ErrNotScanned = errors.New("archive: archive not scanned")

	// ErrAlreadyScanned is returned when Scan is called a second time.
	ErrAlreadyScanned = errors.New("archive: archive already scanned")

	// ErrInvalidName is returned for file names that do not follow the
	// "<name>-<version>.crate" convention.
	ErrInvalidName = errors.New("archive: invalid archive file name")
)

// classify maps decoder and storage errors onto the package sentinels.
// Errors that already carry a sentinel are returned unchanged.
func classify(op string, err error) error {
	var corrupt flate.CorruptInputError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCorruptArchive), errors.Is(err, ErrTruncated), errors.Is(err, ErrIO):
		return err
	case errors.Is(err, inflate.ErrCorrupt),
		errors.Is(err, gzip.ErrChecksum),
		errors.Is(err, gzip.ErrHeader),
		errors.As(err, &corrupt):
		return fmt.Errorf("%w: %s: %w", ErrCorruptArchive, op, err)
	case errors.Is(err, inflate.ErrTruncated), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %w", ErrTruncated, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
	}
}
