package inflate

const (
	maxBits  = 15  // longest code allowed by DEFLATE
	maxLCode = 286 // literal/length symbols
	maxDCode = 30  // distance symbols
	fixLCode = 288 // literal/length symbols in the fixed table
)

// fastBits is the width of the lookup table consulted before the
// bit-at-a-time decoder.
const fastBits = 9

// fastEntry maps the next fastBits stream bits to a symbol. A zero length
// means the code is longer than fastBits or unassigned.
type fastEntry struct {
	sym uint16
	len uint8
}

// huffman is a canonical Huffman code described by the number of codes of
// each length and the symbols ordered by code.
type huffman struct {
	count  [maxBits + 1]uint16
	symbol []uint16
	fast   [1 << fastBits]fastEntry
}

// build fills h from per-symbol code lengths. It returns 0 for a complete
// code, a positive value for an incomplete one and a negative value when
// the lengths are over-subscribed.
func (h *huffman) build(length []uint16) int {
	h.count = [maxBits + 1]uint16{}
	for _, l := range length {
		h.count[l]++
	}
	h.fast = [1 << fastBits]fastEntry{}
	if int(h.count[0]) == len(length) {
		h.symbol = h.symbol[:0]
		return 0
	}

	left := 1
	for l := 1; l <= maxBits; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return left
		}
	}

	var offs [maxBits + 1]uint16
	for l := 1; l < maxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	if cap(h.symbol) < len(length) {
		h.symbol = make([]uint16, len(length))
	}
	h.symbol = h.symbol[:len(length)]
	for sym, l := range length {
		if l != 0 {
			h.symbol[offs[l]] = uint16(sym) //nolint:gosec // sym < fixLCode
			offs[l]++
		}
	}
	h.fillFast()
	return left
}

// fillFast indexes every code of at most fastBits bits by its bit-reversed
// value, which is the order the codes arrive in the stream.
func (h *huffman) fillFast() {
	first, index := 0, 0
	for l := 1; l <= fastBits; l++ {
		for k := range int(h.count[l]) {
			key := reverse(first+k, l)
			e := fastEntry{sym: h.symbol[index+k], len: uint8(l)} //nolint:gosec // l <= fastBits
			for j := key; j < len(h.fast); j += 1 << l {
				h.fast[j] = e
			}
		}
		index += int(h.count[l])
		first = (first + int(h.count[l])) << 1
	}
}

func reverse(code, n int) int {
	r := 0
	for range n {
		r = r<<1 | code&1
		code >>= 1
	}
	return r
}

// decode reads one symbol from b. Short codes are resolved through the
// lookup table; longer ones, and codes near the end of the input, fall back
// to decodeSlow.
func (h *huffman) decode(b *bitReader) (int, error) {
	v, n := b.peek()
	if e := h.fast[v&(1<<fastBits-1)]; e.len != 0 && uint(e.len) <= n {
		if _, err := b.bits(uint(e.len)); err != nil {
			return 0, err
		}
		return int(e.sym), nil
	}
	return h.decodeSlow(b)
}

// decodeSlow reads codes a bit at a time, most significant bit first, and
// compares them against the first code of each length.
func (h *huffman) decodeSlow(b *bitReader) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= maxBits; l++ {
		bit, err := b.bits(1)
		if err != nil {
			return 0, err
		}
		code |= int(bit)
		count := int(h.count[l])
		if code-count < first {
			return int(h.symbol[index+(code-first)]), nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, corruptf("invalid huffman code")
}

var (
	fixedLit  huffman
	fixedDist huffman
)

func init() {
	var lengths [fixLCode]uint16
	for i := range lengths {
		switch {
		case i < 144:
			lengths[i] = 8
		case i < 256:
			lengths[i] = 9
		case i < 280:
			lengths[i] = 7
		default:
			lengths[i] = 8
		}
	}
	fixedLit.build(lengths[:])

	var dist [maxDCode]uint16
	for i := range dist {
		dist[i] = 5
	}
	fixedDist.build(dist[:])
}

var (
	lengthBase  = [29]uint16{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
	lengthExtra = [29]uint8{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
	distBase    = [30]uint16{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
	distExtra   = [30]uint8{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}
	clenOrder   = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}
)

// readDynamic decodes the code length tables of a dynamic block into lit and dist.
func readDynamic(b *bitReader, lit, dist *huffman) error {
	v, err := b.bits(5)
	if err != nil {
		return err
	}
	nlen := int(v) + 257
	if v, err = b.bits(5); err != nil {
		return err
	}
	ndist := int(v) + 1
	if v, err = b.bits(4); err != nil {
		return err
	}
	ncode := int(v) + 4
	if nlen > maxLCode || ndist > maxDCode {
		return corruptf("bad dynamic block counts")
	}

	var lengths [maxLCode + maxDCode]uint16
	for i := range ncode {
		if v, err = b.bits(3); err != nil {
			return err
		}
		lengths[clenOrder[i]] = uint16(v) //nolint:gosec // 3 bits
	}

	var clen huffman
	if clen.build(lengths[:19]) != 0 {
		return corruptf("incomplete code length code")
	}
	clear(lengths[:19])

	for index := 0; index < nlen+ndist; {
		sym, err := clen.decode(b)
		if err != nil {
			return err
		}
		if sym < 16 {
			lengths[index] = uint16(sym) //nolint:gosec // sym < 16
			index++
			continue
		}
		var rep uint16
		var n uint32
		switch sym {
		case 16:
			if index == 0 {
				return corruptf("repeat with no previous length")
			}
			rep = lengths[index-1]
			n, err = b.bits(2)
			n += 3
		case 17:
			n, err = b.bits(3)
			n += 3
		default:
			n, err = b.bits(7)
			n += 11
		}
		if err != nil {
			return err
		}
		if index+int(n) > nlen+ndist {
			return corruptf("too many code lengths")
		}
		for ; n > 0; n-- {
			lengths[index] = rep
			index++
		}
	}

	if lengths[256] == 0 {
		return corruptf("missing end-of-block code")
	}
	if left := lit.build(lengths[:nlen]); left < 0 || (left > 0 && nlen != int(lit.count[0])+int(lit.count[1])) {
		return corruptf("bad literal/length code")
	}
	if left := dist.build(lengths[nlen : nlen+ndist]); left < 0 || (left > 0 && ndist != int(dist.count[0])+int(dist.count[1])) {
		return corruptf("bad distance code")
	}
	return nil
}
