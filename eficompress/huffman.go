package eficompress

const maxCodeLen = 16

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotLeaf
	slotNode
)

// slot is either empty, a decoded symbol, or the id of a tree node that
// resolves the remaining bits of a code longer than the lookup width.
type slot struct {
	kind slotKind
	val  uint16
}

type node struct {
	left  slot // next bit 0
	right slot // next bit 1
}

// huffman is a view of one alphabet's decode state inside Scratch.
type huffman struct {
	bits   uint
	lens   []uint8
	lookup []slot
	nodes  []node
}

// build creates the canonical decode table for the first n code lengths.
// Codes up to h.bits long resolve with a single lookup, longer ones walk the
// node tree one bit at a time.
func (h huffman) build(n int) error {
	var count [maxCodeLen + 1]uint32
	for _, l := range h.lens[:n] {
		if l > maxCodeLen {
			return ErrCorruptTable
		}
		count[l]++
	}

	var start [maxCodeLen + 2]uint32
	for i := 1; i <= maxCodeLen; i++ {
		start[i+1] = start[i] + count[i]<<(maxCodeLen-i)
	}

	// The code must fill the 16 bit code space exactly. An all zero length
	// array is accepted as an empty alphabet; decoding through it fails.
	if start[maxCodeLen+1] != 1<<maxCodeLen && start[maxCodeLen+1] != 0 {
		return ErrCorruptTable
	}

	jut := maxCodeLen - h.bits

	var weight [maxCodeLen + 1]uint32
	for i := uint(1); i <= h.bits; i++ {
		start[i] >>= jut
		weight[i] = 1 << (h.bits - i)
	}
	for i := h.bits + 1; i <= maxCodeLen; i++ {
		weight[i] = 1 << (maxCodeLen - i)
	}

	for i := range h.lookup {
		h.lookup[i] = slot{}
	}

	avail := 0
	mask := uint32(1) << (maxCodeLen - 1 - h.bits)

	for sym := 0; sym < n; sym++ {
		l := uint(h.lens[sym])
		if l == 0 {
			continue
		}

		next := start[l] + weight[l]

		if l <= h.bits {
			for i := start[l]; i < next; i++ {
				h.lookup[i] = slot{kind: slotLeaf, val: uint16(sym)}
			}
		} else {
			code := start[l]
			p := &h.lookup[code>>jut]

			for i := l - h.bits; i > 0; i-- {
				if p.kind == slotEmpty {
					if avail == len(h.nodes) {
						return ErrCorruptTable
					}
					h.nodes[avail] = node{}
					*p = slot{kind: slotNode, val: uint16(avail)}
					avail++
				}
				if p.kind != slotNode {
					return ErrCorruptTable
				}

				nd := &h.nodes[p.val]
				if code&mask != 0 {
					p = &nd.right
				} else {
					p = &nd.left
				}
				code <<= 1
			}

			if p.kind != slotEmpty {
				return ErrCorruptTable
			}
			*p = slot{kind: slotLeaf, val: uint16(sym)}
		}

		start[l] = next
	}

	return nil
}

// fill sets up the single symbol alphabet: every lookup resolves to sym and
// costs no bits.
func (h huffman) fill(n int, sym uint16) error {
	if int(sym) >= n {
		return ErrCorruptTable
	}

	for i := range h.lens[:n] {
		h.lens[i] = 0
	}
	for i := range h.lookup {
		h.lookup[i] = slot{kind: slotLeaf, val: sym}
	}

	return nil
}

// decode resolves the symbol whose code sits at the top of bitBuf. It does not
// consume any bits.
func (h huffman) decode(bitBuf uint32) (uint16, error) {
	s := h.lookup[bitBuf>>(bitBufSize-h.bits)]

	mask := uint32(1) << (bitBufSize - 1 - h.bits)
	for s.kind == slotNode {
		nd := &h.nodes[s.val]
		if bitBuf&mask != 0 {
			s = nd.right
		} else {
			s = nd.left
		}
		mask >>= 1
	}

	if s.kind != slotLeaf {
		return 0, ErrCorruptTable
	}

	return s.val, nil
}
