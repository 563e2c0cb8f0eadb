package inflate

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// WindowSize is the DEFLATE history a decoder needs to resume mid-stream.
const WindowSize = 32 << 10

// Checkpoint records enough decoder state to restart decompression at a
// DEFLATE block boundary.
type Checkpoint struct {
	// Out is the decompressed offset at which the block starts.
	Out int64
	// In is the compressed offset of the byte holding the block header.
	In int64
	// Bit is the number of low bits of that byte belonging to the previous block.
	Bit uint8

	window    []byte
	windowLen int
	packed    bool
}

// Window returns the history preceding Out, at most WindowSize bytes.
func (c *Checkpoint) Window() ([]byte, error) {
	if !c.packed {
		return c.window, nil
	}
	dst := make([]byte, c.windowLen)
	n, err := lz4.UncompressBlock(c.window, dst)
	if err != nil {
		return nil, fmt.Errorf("inflate: unpack window: %w", err)
	}
	if n != c.windowLen {
		return nil, fmt.Errorf("inflate: unpack window: got %d bytes, want %d", n, c.windowLen)
	}
	return dst, nil
}

// StoredBytes reports the memory held by the checkpoint's window.
func (c *Checkpoint) StoredBytes() int {
	return len(c.window)
}

func newCheckpoint(out, in int64, bit uint8, window []byte) Checkpoint {
	cp := Checkpoint{Out: out, In: in, Bit: bit, windowLen: len(window)}
	dst := make([]byte, lz4.CompressBlockBound(len(window)))
	n, err := lz4.CompressBlock(window, dst, nil)
	if err != nil || n == 0 || n >= len(window) {
		// Incompressible history is kept as is.
		cp.window = append([]byte(nil), window...)
		return cp
	}
	cp.window = append([]byte(nil), dst[:n]...)
	cp.packed = true
	return cp
}

// Find returns the index of the last checkpoint whose Out is at or before
// off, or -1. cps must be sorted by Out.
func Find(cps []Checkpoint, off int64) int {
	lo, hi := 0, len(cps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if cps[mid].Out <= off {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
