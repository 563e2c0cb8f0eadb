// Package inflate decodes gzip members with a DEFLATE decoder that can record
// checkpoints at block boundaries and later restart from any of them.
//
// The decoder trades speed for transparency: it reads the compressed stream a
// byte at a time so it always knows the exact bit at which each block starts.
// Sequential bulk decompression elsewhere in the module uses klauspost/compress.
package inflate

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	// ErrCorrupt is returned when the compressed stream violates the gzip or
	// DEFLATE format, or when its trailer does not match the decoded data.
	ErrCorrupt = errors.New("inflate: corrupt stream")

	// ErrTruncated is returned when the compressed stream ends early.
	ErrTruncated = errors.New("inflate: unexpected end of stream")
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

const (
	windowMask = WindowSize - 1
	chunkSize  = 64 << 10
)

type state uint8

const (
	stateHeader state = iota
	stateStored
	stateHuffman
	stateTrailer
	stateEOF
)

// Option configures a Reader.
type Option func(*Reader)

// WithCheckpoints calls fn at every block boundary that lies at least
// interval decompressed bytes past the previous checkpoint.
func WithCheckpoints(interval int64, fn func(Checkpoint)) Option {
	return func(z *Reader) {
		if interval <= 0 || fn == nil {
			return
		}
		z.interval = interval
		z.onCheckpoint = fn
	}
}

// Reader is an io.Reader producing the decompressed content of one gzip member.
type Reader struct {
	br    *bitReader
	st    state
	final bool

	stored    int
	lit, dist *huffman
	dynLit    huffman
	dynDist   huffman

	hist    [WindowSize]byte
	out     int64
	pbuf    []byte
	pending []byte

	verify bool
	crc    uint32

	interval     int64
	onCheckpoint func(Checkpoint)
	lastCP       int64

	err error
}

// NewReader parses the gzip header from r and returns a reader for the
// decompressed stream. The trailer's CRC-32 and length are checked before
// io.EOF is returned. Data after the first member is not read.
func NewReader(r io.Reader, opts ...Option) (*Reader, error) {
	z := &Reader{
		br:     newBitReader(r, 0),
		verify: true,
		pbuf:   make([]byte, 0, chunkSize+258),
	}
	for _, opt := range opts {
		opt(z)
	}
	if err := readHeader(z.br); err != nil {
		return nil, err
	}
	return z, nil
}

// Resume returns a reader that continues the stream in r (of total size
// compressed bytes) from cp. The trailer is not verified.
func Resume(r io.ReaderAt, size int64, cp *Checkpoint) (*Reader, error) {
	if cp.In < 0 || cp.In >= size {
		return nil, fmt.Errorf("inflate: checkpoint input offset %d outside stream of %d bytes: %w", cp.In, size, ErrTruncated)
	}
	window, err := cp.Window()
	if err != nil {
		return nil, err
	}
	z := &Reader{
		br:     newBitReader(io.NewSectionReader(r, cp.In, size-cp.In), cp.In),
		out:    cp.Out,
		lastCP: cp.Out,
		pbuf:   make([]byte, 0, chunkSize+258),
	}
	start := cp.Out - int64(len(window))
	for i, c := range window {
		z.hist[(start+int64(i))&windowMask] = c
	}
	if err := z.br.skipBits(cp.Bit); err != nil {
		return nil, err
	}
	return z, nil
}

// Offset returns the decompressed offset of the next byte Read will return.
func (z *Reader) Offset() int64 {
	return z.out - int64(len(z.pending))
}

// InputOffset returns the number of compressed bytes consumed so far.
func (z *Reader) InputOffset() int64 {
	return z.br.in
}

// Read implements io.Reader.
func (z *Reader) Read(p []byte) (int, error) {
	for len(z.pending) == 0 {
		if z.err != nil {
			return 0, z.err
		}
		if z.st == stateEOF {
			z.err = io.EOF
			continue
		}
		z.pbuf = z.pbuf[:0]
		if err := z.step(); err != nil {
			z.err = err
		}
		if z.verify && len(z.pbuf) > 0 {
			z.crc = crc32.Update(z.crc, crc32.IEEETable, z.pbuf)
		}
		z.pending = z.pbuf
	}
	n := copy(p, z.pending)
	z.pending = z.pending[n:]
	return n, nil
}

func (z *Reader) step() error {
	switch z.st {
	case stateHeader:
		if z.final {
			z.st = stateTrailer
			return nil
		}
		z.maybeCheckpoint()
		return z.readBlockHeader()
	case stateStored:
		return z.copyStored()
	case stateHuffman:
		return z.decodeSymbols()
	case stateTrailer:
		z.st = stateEOF
		if !z.verify {
			return nil
		}
		crc, size, err := readTrailer(z.br)
		if err != nil {
			return err
		}
		if crc != z.crc {
			return corruptf("crc mismatch: trailer %08x, data %08x", crc, z.crc)
		}
		if size != uint32(z.out) { //nolint:gosec // ISIZE is the length mod 2^32
			return corruptf("length mismatch: trailer %d, data %d", size, z.out)
		}
		return nil
	default:
		return io.EOF
	}
}

func (z *Reader) readBlockHeader() error {
	last, err := z.br.bits(1)
	if err != nil {
		return err
	}
	typ, err := z.br.bits(2)
	if err != nil {
		return err
	}
	z.final = last == 1

	switch typ {
	case 0:
		z.br.align()
		n, err := z.br.readUint16()
		if err != nil {
			return err
		}
		cn, err := z.br.readUint16()
		if err != nil {
			return err
		}
		if n != ^cn {
			return corruptf("stored block length check failed")
		}
		z.stored = int(n)
		z.st = stateStored
	case 1:
		z.lit, z.dist = &fixedLit, &fixedDist
		z.st = stateHuffman
	case 2:
		if err := readDynamic(z.br, &z.dynLit, &z.dynDist); err != nil {
			return err
		}
		z.lit, z.dist = &z.dynLit, &z.dynDist
		z.st = stateHuffman
	default:
		return corruptf("invalid block type")
	}
	return nil
}

func (z *Reader) emit(c byte) {
	z.hist[z.out&windowMask] = c
	z.out++
	z.pbuf = append(z.pbuf, c)
}

func (z *Reader) copyStored() error {
	for z.stored > 0 && len(z.pbuf) < chunkSize {
		c, err := z.br.readByte()
		if err != nil {
			return err
		}
		z.emit(c)
		z.stored--
	}
	if z.stored == 0 {
		z.st = stateHeader
	}
	return nil
}

func (z *Reader) decodeSymbols() error {
	for len(z.pbuf) < chunkSize {
		sym, err := z.lit.decode(z.br)
		if err != nil {
			return err
		}
		if sym < 256 {
			z.emit(byte(sym))
			continue
		}
		if sym == 256 {
			z.st = stateHeader
			return nil
		}

		sym -= 257
		if sym >= len(lengthBase) {
			return corruptf("invalid length symbol")
		}
		extra, err := z.br.bits(uint(lengthExtra[sym]))
		if err != nil {
			return err
		}
		length := int(lengthBase[sym]) + int(extra)

		dsym, err := z.dist.decode(z.br)
		if err != nil {
			return err
		}
		if dsym >= len(distBase) {
			return corruptf("invalid distance symbol")
		}
		if extra, err = z.br.bits(uint(distExtra[dsym])); err != nil {
			return err
		}
		dist := int64(distBase[dsym]) + int64(extra)
		if dist > z.out {
			return corruptf("distance %d too far back", dist)
		}
		for range length {
			z.emit(z.hist[(z.out-dist)&windowMask])
		}
	}
	return nil
}

func (z *Reader) maybeCheckpoint() {
	if z.onCheckpoint == nil || z.out-z.lastCP < z.interval {
		return
	}
	in, bit := z.br.position()
	z.onCheckpoint(newCheckpoint(z.out, in, bit, z.window()))
	z.lastCP = z.out
}

// window returns a copy of the most recent history in stream order.
func (z *Reader) window() []byte {
	n := min(z.out, WindowSize)
	w := make([]byte, n)
	start := (z.out - n) & windowMask
	k := copy(w, z.hist[start:])
	copy(w[k:], z.hist[:n-int64(k)])
	return w
}
