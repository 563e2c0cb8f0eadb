package inflate

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagText    = 1 << 0
	flagHdrCrc  = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4
	flagReserve = 0xe0
)

// readHeader consumes an RFC 1952 member header. Optional fields are skipped.
func readHeader(b *bitReader) error {
	var hdr [10]byte
	for i := range hdr {
		c, err := b.readByte()
		if err != nil {
			return err
		}
		hdr[i] = c
	}
	if hdr[0] != gzipID1 || hdr[1] != gzipID2 {
		return corruptf("not a gzip stream")
	}
	if hdr[2] != gzipDeflate {
		return corruptf("unsupported compression method %d", hdr[2])
	}
	flags := hdr[3]
	if flags&flagReserve != 0 {
		return corruptf("reserved header flags set")
	}

	if flags&flagExtra != 0 {
		n, err := b.readUint16()
		if err != nil {
			return err
		}
		for range n {
			if _, err := b.readByte(); err != nil {
				return err
			}
		}
	}
	for _, f := range []byte{flagName, flagComment} {
		if flags&f == 0 {
			continue
		}
		for {
			c, err := b.readByte()
			if err != nil {
				return err
			}
			if c == 0 {
				break
			}
		}
	}
	if flags&flagHdrCrc != 0 {
		if _, err := b.readUint16(); err != nil {
			return err
		}
	}
	return nil
}

// readTrailer consumes the CRC-32 and ISIZE fields that follow the final block.
func readTrailer(b *bitReader) (crc, size uint32, err error) {
	b.align()
	if crc, err = b.readUint32(); err != nil {
		return 0, 0, err
	}
	if size, err = b.readUint32(); err != nil {
		return 0, 0, err
	}
	return crc, size, nil
}
