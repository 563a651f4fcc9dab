package eficompress

import (
	"context"

	"github.com/pkg/errors"
)

// ctx is polled once per this many decoded symbols
const ctxCheckInterval = 1 << 12

// readBlockHeader starts a new block: the symbol count followed by the extra,
// char & length, and position set code lengths.
func (s *Scratch) readBlockHeader() error {
	s.blockSize = uint16(s.br.getBits(16))

	if err := s.readPTLen(s.extraTable(), nt, tbit, extraSpecial); err != nil {
		return errors.Wrap(err, "extra set")
	}

	if err := s.readCLen(); err != nil {
		return errors.Wrap(err, "char & length set")
	}

	if err := s.readPTLen(s.posTable(), maxNP, s.pbit, noSpecial); err != nil {
		return errors.Wrap(err, "position set")
	}

	return nil
}

// decodeC returns the next char & length symbol, rebuilding all three tables
// whenever the current block is used up. A table error is latched.
func (s *Scratch) decodeC() (uint16, error) {
	if s.err != nil {
		return 0, s.err
	}

	if s.blockSize == 0 {
		if err := s.readBlockHeader(); err != nil {
			s.err = err
			return 0, err
		}
	}

	s.blockSize--

	c := s.charTable()
	sym, err := c.decode(s.br.bitBuf)
	if err != nil {
		s.err = errors.Wrap(err, "char & length set")
		return 0, s.err
	}
	s.br.fill(uint(c.lens[sym]))

	return sym, nil
}

// put appends one byte to the output unless it is already full.
func (s *Scratch) put(b byte) bool {
	if s.out >= s.origSize {
		return false
	}

	s.dst[s.out] = b
	s.out++

	return true
}

func matchLength(sym uint16) int {
	return int(sym) - (256 - threshold)
}

// copyMatch expands a back-reference. Source and destination may overlap,
// so the copy runs one byte at a time.
func (s *Scratch) copyMatch(length int) error {
	off, err := s.decodeP()
	if err != nil {
		s.err = errors.Wrap(err, "position set")
		return s.err
	}

	if uint64(off) >= uint64(s.out) {
		return errors.Wrapf(ErrCorruptData, "offset %d at output position %d", off, s.out)
	}

	src := s.out - off - 1
	for ; length > 0; length-- {
		if !s.put(s.dst[src]) {
			break
		}
		src++
	}

	return nil
}

func (s *Scratch) decode(ctx context.Context) error {
	for n := 0; s.out < s.origSize; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		sym, err := s.decodeC()
		if err != nil {
			return err
		}

		if sym < 256 {
			s.put(byte(sym))
			continue
		}

		if err := s.copyMatch(matchLength(sym)); err != nil {
			return err
		}
	}

	return nil
}
