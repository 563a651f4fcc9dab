package eficompress

const bitBufSize = 32

// bitReader feeds the decoder MSB first. The next bits to be consumed are
// always the top bits of bitBuf; subBitBuf holds the byte currently being
// shifted in and bitCount how many of its low bits are still unread.
type bitReader struct {
	src       []byte
	pos       int
	remaining uint32

	bitBuf    uint32
	subBitBuf uint32
	bitCount  uint
}

func (br *bitReader) init(src []byte, compSize uint32) {
	if uint64(compSize) > uint64(len(src)) {
		compSize = uint32(len(src))
	}

	*br = bitReader{src: src, remaining: compSize}
	br.fill(bitBufSize)
}

// fill drops n bits off the top of bitBuf and refills the low end. Once the
// compressed data is exhausted zero bits are shifted in.
func (br *bitReader) fill(n uint) {
	br.bitBuf <<= n

	for n > br.bitCount {
		n -= br.bitCount
		br.bitBuf |= br.subBitBuf << n

		if br.remaining > 0 {
			br.remaining--
			br.subBitBuf = uint32(br.src[br.pos])
			br.pos++
		} else {
			br.subBitBuf = 0
		}
		br.bitCount = 8
	}

	br.bitCount -= n
	br.bitBuf |= br.subBitBuf >> br.bitCount
}

func (br *bitReader) peek(n uint) uint32 {
	return br.bitBuf >> (bitBufSize - n)
}

func (br *bitReader) getBits(n uint) uint32 {
	v := br.peek(n)
	br.fill(n)
	return v
}
