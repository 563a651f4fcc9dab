package eficompress

const (
	maxMatch  = 256
	threshold = 3
	codeBit   = 16

	// C: char & length set, P: position set, T: extra set
	nc    = 0xff + maxMatch + 2 - threshold
	cbit  = 9
	maxNP = 1<<5 - 1
	nt    = codeBit + 3
	tbit  = 5
	npt   = maxNP

	cTableBits  = 12
	ptTableBits = 8

	// The C length array reuses the extra set with a zero run after the third
	// length. The position set has no such run.
	extraSpecial = 3
	noSpecial    = -1
)

func (s *Scratch) extraTable() huffman {
	return huffman{bits: ptTableBits, lens: s.tLen[:], lookup: s.tLookup[:], nodes: s.tNodes[:]}
}

func (s *Scratch) charTable() huffman {
	return huffman{bits: cTableBits, lens: s.cLen[:], lookup: s.cLookup[:], nodes: s.cNodes[:]}
}

func (s *Scratch) posTable() huffman {
	return huffman{bits: ptTableBits, lens: s.pLen[:], lookup: s.pLookup[:], nodes: s.pNodes[:]}
}

// readPTLen reads the code lengths of the extra or the position set and
// builds its table. Lengths below 7 take 3 bits; longer ones are 111 followed
// by one 1 bit per extra unit and a terminating 0.
func (s *Scratch) readPTLen(h huffman, nn int, nbit uint, special int) error {
	number := int(s.br.getBits(nbit))
	if number == 0 {
		return h.fill(nn, uint16(s.br.getBits(nbit)))
	}

	i := 0
	for i < number && i < npt {
		c := s.br.peek(3)
		if c == 7 {
			for mask := uint32(1) << (bitBufSize - 1 - 3); mask&s.br.bitBuf != 0; mask >>= 1 {
				c++
			}
		}

		if c < 7 {
			s.br.fill(3)
		} else {
			s.br.fill(uint(c - 3))
		}

		h.lens[i] = uint8(c)
		i++

		if i == special {
			for k := s.br.getBits(2); k > 0 && i < npt; k-- {
				h.lens[i] = 0
				i++
			}
		}
	}

	for ; i < nn && i < npt; i++ {
		h.lens[i] = 0
	}

	return h.build(nn)
}

// readCLen reads the char & length code lengths through the extra set table.
// Extra symbols 0, 1 and 2 are runs of zero lengths, any other symbol is a
// length plus 2.
func (s *Scratch) readCLen() error {
	c := s.charTable()

	number := int(s.br.getBits(cbit))
	if number == 0 {
		return c.fill(nc, uint16(s.br.getBits(cbit)))
	}

	t := s.extraTable()

	i := 0
	for i < number && i < nc {
		sym, err := t.decode(s.br.bitBuf)
		if err != nil {
			return err
		}
		s.br.fill(uint(t.lens[sym]))

		if sym > 2 {
			s.cLen[i] = uint8(sym - 2)
			i++
			continue
		}

		for run := s.zeroRun(sym); run > 0 && i < nc; run-- {
			s.cLen[i] = 0
			i++
		}
	}

	for ; i < nc; i++ {
		s.cLen[i] = 0
	}

	return c.build(nc)
}

func (s *Scratch) zeroRun(sym uint16) uint32 {
	switch sym {
	case 0:
		return 1
	case 1:
		return s.br.getBits(4) + 3
	default:
		return s.br.getBits(cbit) + 20
	}
}

// decodeP decodes a match offset: the position symbol is the bit length of
// the offset, the bits below its leading one follow raw.
func (s *Scratch) decodeP() (uint32, error) {
	p := s.posTable()

	class, err := p.decode(s.br.bitBuf)
	if err != nil {
		return 0, err
	}
	s.br.fill(uint(p.lens[class]))

	return s.offsetFromClass(class), nil
}

func (s *Scratch) offsetFromClass(class uint16) uint32 {
	if class <= 1 {
		return uint32(class)
	}

	n := uint(class - 1)
	return 1<<n + s.br.getBits(n)
}
