package inflate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// byteSource is satisfied by *bufio.Reader.
type byteSource interface {
	io.ByteReader
	Peek(n int) ([]byte, error)
}

// bitReader reads DEFLATE's LSB-first bit stream one byte at a time so the
// exact input position is always known. Between calls bitcnt is below 8.
type bitReader struct {
	r      byteSource
	in     int64 // bytes consumed from r, relative to the start of the file
	bitbuf uint32
	bitcnt uint
}

func newBitReader(r io.Reader, base int64) *bitReader {
	br, ok := r.(byteSource)
	if !ok {
		br = bufio.NewReaderSize(r, 64<<10)
	}
	return &bitReader{r: br, in: base}
}

// peek returns the next bits of the stream without consuming them and how
// many of them are valid. At most 16+bitcnt bits are available.
func (b *bitReader) peek() (v uint32, n uint) {
	buf, _ := b.r.Peek(2)
	v, n = b.bitbuf, b.bitcnt
	for _, c := range buf {
		v |= uint32(c) << n
		n += 8
	}
	return v, n
}

func (b *bitReader) readByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrTruncated
		}
		return 0, fmt.Errorf("inflate: read input: %w", err)
	}
	b.in++
	return c, nil
}

// bits returns the next n bits (n <= 24) as an integer.
func (b *bitReader) bits(n uint) (uint32, error) {
	for b.bitcnt < n {
		c, err := b.readByte()
		if err != nil {
			return 0, err
		}
		b.bitbuf |= uint32(c) << b.bitcnt
		b.bitcnt += 8
	}
	v := b.bitbuf & (1<<n - 1)
	b.bitbuf >>= n
	b.bitcnt -= n
	return v, nil
}

// align discards the rest of the current partial byte.
func (b *bitReader) align() {
	b.bitbuf = 0
	b.bitcnt = 0
}

// position reports the byte holding the next unread bit and how many of its
// low bits have already been consumed.
func (b *bitReader) position() (in int64, bit uint8) {
	pos := b.in*8 - int64(b.bitcnt)
	return pos / 8, uint8(pos % 8) //nolint:gosec // pos%8 < 8
}

// skipBits primes the reader after seeking into the middle of a byte.
func (b *bitReader) skipBits(n uint8) error {
	if n == 0 {
		return nil
	}
	_, err := b.bits(uint(n))
	return err
}

func (b *bitReader) readUint16() (uint16, error) {
	lo, err := b.readByte()
	if err != nil {
		return 0, err
	}
	hi, err := b.readByte()
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func (b *bitReader) readUint32() (uint32, error) {
	lo, err := b.readUint16()
	if err != nil {
		return 0, err
	}
	hi, err := b.readUint16()
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}
