package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"

	"github.com/AL68-co/fuse-crates/internal/inflate"
)

// DefaultCheckpointInterval is the spacing, in decompressed bytes, between
// recorded seek checkpoints.
const DefaultCheckpointInterval = 1 << 20

// maxDeflateRatio bounds how far DEFLATE can expand its input.
const maxDeflateRatio = 1032

// Option configures a Reader.
type Option func(*Reader)

// WithCheckpointInterval sets the checkpoint spacing. Values <= 0 disable
// checkpoints so every positioned read decompresses from the start.
func WithCheckpointInterval(n int64) Option {
	return func(r *Reader) {
		r.interval = n
	}
}

// WithLogger sets the logger used for scan events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// Reader provides sequential and positioned access to the decompressed
// stream of one archive file.
//
// Scan must complete before ReadAt is used. After that the Reader is
// immutable and safe for concurrent use.
type Reader struct {
	path     Path
	f        *os.File
	size     int64
	declared int64
	interval int64
	logger   *slog.Logger

	scanMu       sync.Mutex
	scanStarted  bool
	scanned      atomic.Bool
	checkpoints  []inflate.Checkpoint
	decompressed int64
	trailing     int64
	digest       digest.Digest
	sourceID     string
}

// Open opens the archive file at p.Location.
func Open(p Path, opts ...Option) (*Reader, error) {
	f, err := os.Open(p.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, p.ID(), err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, p.ID(), err)
	}
	r := &Reader{
		path:     p,
		f:        f,
		size:     info.Size(),
		interval: DefaultCheckpointInterval,
		sourceID: p.ID(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.declared = r.readDeclaredSize()
	return r, nil
}

func (r *Reader) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.New(slog.DiscardHandler)
}

// readDeclaredSize returns the gzip ISIZE field when it can only mean the
// true decompressed length, or 0.
func (r *Reader) readDeclaredSize() int64 {
	if r.size < 18 || r.size > math.MaxUint32/maxDeflateRatio {
		return 0
	}
	var buf [4]byte
	if _, err := r.f.ReadAt(buf[:], r.size-4); err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint32(buf[:]))
}

// Path returns the archive's identity.
func (r *Reader) Path() Path {
	return r.path
}

// Scan decompresses the whole archive once, handing the stream to fn.
// Seek checkpoints and the file digest are recorded along the way. Whatever
// fn leaves unread is drained so the gzip trailer is always verified.
func (r *Reader) Scan(fn func(io.Reader) error) error {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()
	if r.scanStarted {
		return ErrAlreadyScanned
	}
	r.scanStarted = true

	sr := io.NewSectionReader(r.f, 0, r.size)
	digester := digest.Canonical.Digester()
	tee := io.TeeReader(sr, digester.Hash())

	var cps []inflate.Checkpoint
	z, err := inflate.NewReader(tee, inflate.WithCheckpoints(r.interval, func(cp inflate.Checkpoint) {
		cps = append(cps, cp)
	}))
	if err != nil {
		return classify("scan "+r.path.ID(), err)
	}

	if err := fn(z); err != nil {
		if isDecodeErr(err) {
			return classify("scan "+r.path.ID(), err)
		}
		return err
	}
	if _, err := io.Copy(io.Discard, z); err != nil {
		return classify("scan "+r.path.ID(), err)
	}
	if _, err := io.Copy(digester.Hash(), sr); err != nil {
		return classify("digest "+r.path.ID(), err)
	}

	r.trailing = r.size - z.InputOffset()
	if r.trailing > 0 {
		r.log().Warn("ignoring data after gzip member", "archive", r.path.ID(), "bytes", r.trailing)
	}
	r.checkpoints = cps
	r.decompressed = z.Offset()
	r.digest = digester.Digest()
	r.sourceID = r.path.ID() + "@" + r.digest.String()
	r.scanned.Store(true)

	var window int
	for i := range cps {
		window += cps[i].StoredBytes()
	}
	r.log().Debug("archive scanned",
		"archive", r.path.ID(),
		"compressed", r.size,
		"decompressed", r.decompressed,
		"checkpoints", len(cps),
		"checkpoint_bytes", window,
		"digest", r.digest.String())
	return nil
}

func isDecodeErr(err error) bool {
	return errors.Is(err, inflate.ErrCorrupt) || errors.Is(err, inflate.ErrTruncated)
}

// ReadAt reads len(p) bytes of decompressed content starting at off. It
// restarts decompression at the nearest checkpoint at or before off, or at
// the beginning of the stream when there is none.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if !r.scanned.Load() {
		return 0, ErrNotScanned
	}
	if off < 0 {
		return 0, fmt.Errorf("archive: read at %d: negative offset", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= r.decompressed {
		return 0, io.EOF
	}
	want := int64(len(p))
	if rem := r.decompressed - off; want > rem {
		want = rem
	}

	src, skip, err := r.seek(off)
	if err != nil {
		return 0, err
	}
	if _, err := io.CopyN(io.Discard, src, skip); err != nil {
		return 0, classify(fmt.Sprintf("seek %s to %d", r.path.ID(), off), eofAsTruncated(err))
	}
	n, err := io.ReadFull(src, p[:want])
	if err != nil {
		return n, classify(fmt.Sprintf("read %s at %d", r.path.ID(), off), eofAsTruncated(err))
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// seek returns a reader positioned skip bytes before off.
func (r *Reader) seek(off int64) (io.Reader, int64, error) {
	i := inflate.Find(r.checkpoints, off)
	if i < 0 {
		zr, err := gzip.NewReader(io.NewSectionReader(r.f, 0, r.size))
		if err != nil {
			return nil, 0, classify("open "+r.path.ID(), eofAsTruncated(err))
		}
		zr.Multistream(false)
		return zr, off, nil
	}
	cp := &r.checkpoints[i]
	z, err := inflate.Resume(r.f, r.size, cp)
	if err != nil {
		return nil, 0, classify("resume "+r.path.ID(), err)
	}
	return z, off - cp.Out, nil
}

// eofAsTruncated treats a clean end of input inside the known stream
// length as truncation.
func eofAsTruncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Size returns the decompressed length. It is zero until Scan completes.
func (r *Reader) Size() int64 {
	if !r.scanned.Load() {
		return 0
	}
	return r.decompressed
}

// CompressedSize returns the size of the archive file.
func (r *Reader) CompressedSize() int64 {
	return r.size
}

// TrailingBytes returns how many bytes follow the first gzip member. Only
// that member is served. It is zero until Scan completes.
func (r *Reader) TrailingBytes() int64 {
	if !r.scanned.Load() {
		return 0
	}
	return r.trailing
}

// DeclaredSize returns the decompressed length recorded in the gzip trailer,
// or 0 when the field could be ambiguous or is unreadable.
func (r *Reader) DeclaredSize() int64 {
	return r.declared
}

// SourceID identifies the archive content for caching. After Scan it
// includes the file digest.
func (r *Reader) SourceID() string {
	if !r.scanned.Load() {
		return r.path.ID()
	}
	return r.sourceID
}

// Digest returns the digest of the compressed file, or "" before Scan.
func (r *Reader) Digest() digest.Digest {
	if !r.scanned.Load() {
		return ""
	}
	return r.digest
}

// Checkpoints returns the number of recorded checkpoints.
func (r *Reader) Checkpoints() int {
	if !r.scanned.Load() {
		return 0
	}
	return len(r.checkpoints)
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, r.path.ID(), err)
	}
	return nil
}
