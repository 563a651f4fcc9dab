// Package testenc writes streams in the EFI compression format for tests.
// Code lengths are picked from symbol usage only, there is no attempt at a
// good compression ratio.
package testenc

import (
	"encoding/binary"
	"math/bits"
	"sort"
)

const (
	NC   = 510
	NT   = 19
	NP   = 31
	CBit = 9
	TBit = 5

	MaxBlockSize = 1<<16 - 1
)

// Token is a literal byte when Length is 0, otherwise a back-reference of
// Length bytes starting Distance bytes behind the output cursor.
type Token struct {
	Literal  byte
	Length   int
	Distance int
}

func Lit(b byte) Token {
	return Token{Literal: b}
}

func Match(length, distance int) Token {
	return Token{Length: length, Distance: distance}
}

// Literals turns data into one literal token per byte.
func Literals(data []byte) []Token {
	toks := make([]Token, len(data))
	for i, b := range data {
		toks[i] = Lit(b)
	}
	return toks
}

// Options control the shape of the produced stream.
type Options struct {
	// PBit is the width of the position set length count, 4 for EFI and 5
	// for Tiano. Zero means 4.
	PBit uint
	// BlockSize is the number of tokens per block. Zero means MaxBlockSize.
	BlockSize int
	// Skewed assigns code lengths 1, 2, 3... where an alphabet uses at most 17
	// symbols, which yields codes longer than the decoder's lookup tables.
	Skewed bool
}

func (o Options) pbit() uint {
	if o.PBit == 0 {
		return 4
	}
	return o.PBit
}

func (o Options) blockSize() int {
	if o.BlockSize <= 0 || o.BlockSize > MaxBlockSize {
		return MaxBlockSize
	}
	return o.BlockSize
}

// BitWriter packs values MSB first, the order the decoder consumes them.
type BitWriter struct {
	buf   []byte
	cur   byte
	nbits uint
}

func (w *BitWriter) Write(v uint32, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		w.cur = w.cur<<1 | byte(v>>uint(i)&1)
		w.nbits++
		if w.nbits == 8 {
			w.buf = append(w.buf, w.cur)
			w.cur, w.nbits = 0, 0
		}
	}
}

// Bytes returns the written bits, zero padded to a byte boundary.
func (w *BitWriter) Bytes() []byte {
	out := append([]byte(nil), w.buf...)
	if w.nbits > 0 {
		out = append(out, w.cur<<(8-w.nbits))
	}
	return out
}

// Frame prepends the 8 byte header: compressed size, then original size.
func Frame(body []byte, origSize int) []byte {
	out := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(origSize))
	return append(out, body...)
}

// Size is the number of bytes toks expand to.
func Size(toks []Token) int {
	n := 0
	for _, t := range toks {
		if t.Length == 0 {
			n++
		} else {
			n += t.Length
		}
	}
	return n
}

// Encode produces a complete stream, header included.
func Encode(toks []Token, o Options) []byte {
	return Frame(EncodeBody(toks, o), Size(toks))
}

// EncodeBytes encodes data with a naive greedy match finder.
func EncodeBytes(data []byte, o Options) []byte {
	return Encode(Greedy(data, 1<<13), o)
}

// EncodeBody produces the bit stream without the header.
func EncodeBody(toks []Token, o Options) []byte {
	w := &BitWriter{}
	bs := o.blockSize()
	for len(toks) > 0 {
		n := bs
		if n > len(toks) {
			n = len(toks)
		}
		WriteBlock(w, toks[:n], o)
		toks = toks[n:]
	}
	return w.Bytes()
}

// Greedy finds back-references of 3 to 256 bytes within window.
func Greedy(data []byte, window int) []Token {
	var toks []Token
	for i := 0; i < len(data); {
		bestLen, bestDist := 0, 0
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		for j := i - 1; j >= lo; j-- {
			l := 0
			for l < 256 && i+l < len(data) && data[j+l] == data[i+l] {
				l++
			}
			if l > bestLen {
				bestLen, bestDist = l, i-j
			}
		}
		if bestLen >= 3 {
			toks = append(toks, Match(bestLen, bestDist))
			i += bestLen
		} else {
			toks = append(toks, Lit(data[i]))
			i++
		}
	}
	return toks
}

// PosClass splits an offset (distance - 1) into its position symbol and the
// raw bits that follow it.
func PosClass(off uint32) (sym int, extra uint32, n uint) {
	if off <= 1 {
		return int(off), 0, 0
	}
	c := bits.Len32(off)
	return c, off - 1<<uint(c-1), uint(c - 1)
}

type prefixCode struct {
	lens  []uint8
	codes []uint16
	// degenerate alphabets transmit a single symbol and spend no bits on it
	single int
}

func (p *prefixCode) write(w *BitWriter, sym int) {
	if p.lens == nil {
		return
	}
	w.Write(uint32(p.codes[sym]), uint(p.lens[sym]))
}

// Canonical assigns codes the way the decoder rebuilds them from lengths.
func Canonical(lens []uint8) []uint16 {
	var count [17]uint32
	for _, l := range lens {
		count[l]++
	}
	var start [18]uint32
	for i := 1; i <= 16; i++ {
		start[i+1] = start[i] + count[i]<<uint(16-i)
	}
	codes := make([]uint16, len(lens))
	for sym, l := range lens {
		if l == 0 {
			continue
		}
		codes[sym] = uint16(start[l] >> (16 - l))
		start[l] += 1 << (16 - l)
	}
	return codes
}

func newPrefixCode(n int, used map[int]bool, skewed bool) *prefixCode {
	syms := make([]int, 0, len(used))
	for s := range used {
		syms = append(syms, s)
	}
	sort.Ints(syms)

	switch len(syms) {
	case 0:
		return &prefixCode{single: 0}
	case 1:
		return &prefixCode{single: syms[0]}
	}

	lens := make([]uint8, n)
	if skewed && len(syms) <= 17 {
		for i, s := range syms {
			l := i + 1
			if i == len(syms)-1 {
				l = i
			}
			lens[s] = uint8(l)
		}
	} else {
		k := bits.Len(uint(len(syms) - 1))
		short := 1<<uint(k) - len(syms)
		for i, s := range syms {
			if i < short {
				lens[s] = uint8(k - 1)
			} else {
				lens[s] = uint8(k)
			}
		}
	}

	return &prefixCode{lens: lens, codes: Canonical(lens)}
}

func trimmed(lens []uint8) int {
	n := len(lens)
	for n > 0 && lens[n-1] == 0 {
		n--
	}
	return n
}

// WriteLen writes one extra or position set code length.
func WriteLen(w *BitWriter, l uint8) {
	if l < 7 {
		w.Write(uint32(l), 3)
		return
	}
	w.Write(7, 3)
	for i := uint8(7); i < l; i++ {
		w.Write(1, 1)
	}
	w.Write(0, 1)
}

// WritePTLen writes an extra or position set length array. special is the
// index after which a 2 bit zero run follows, or -1.
func WritePTLen(w *BitWriter, lens []uint8, nbit uint, special int) {
	number := trimmed(lens)
	w.Write(uint32(number), nbit)
	for i := 0; i < number; {
		WriteLen(w, lens[i])
		i++
		if i == special {
			k := 0
			for k < 3 && i+k < number && lens[i+k] == 0 {
				k++
			}
			w.Write(uint32(k), 2)
			i += k
		}
	}
}

func writePT(w *BitWriter, p *prefixCode, nbit uint, special int) {
	if p.lens == nil {
		w.Write(0, nbit)
		w.Write(uint32(p.single), nbit)
		return
	}
	WritePTLen(w, p.lens, nbit, special)
}

type extraToken struct {
	sym   int
	extra uint32
	n     uint
}

func charLenTokens(lens []uint8) []extraToken {
	var out []extraToken
	number := trimmed(lens)
	for i := 0; i < number; {
		if lens[i] != 0 {
			out = append(out, extraToken{sym: int(lens[i]) + 2})
			i++
			continue
		}
		r := 0
		for i+r < number && lens[i+r] == 0 {
			r++
		}
		switch {
		case r >= 20:
			if r > 20+511 {
				r = 20 + 511
			}
			out = append(out, extraToken{sym: 2, extra: uint32(r - 20), n: CBit})
		case r >= 3:
			if r > 18 {
				r = 18
			}
			out = append(out, extraToken{sym: 1, extra: uint32(r - 3), n: 4})
		default:
			r = 1
			out = append(out, extraToken{sym: 0})
		}
		i += r
	}
	return out
}

func charSym(t Token) int {
	if t.Length == 0 {
		return int(t.Literal)
	}
	return t.Length + 253
}

// WriteBlock writes one block holding toks, at most MaxBlockSize of them.
func WriteBlock(w *BitWriter, toks []Token, o Options) {
	cUsed := map[int]bool{}
	pUsed := map[int]bool{}
	for _, t := range toks {
		cUsed[charSym(t)] = true
		if t.Length != 0 {
			sym, _, _ := PosClass(uint32(t.Distance - 1))
			pUsed[sym] = true
		}
	}

	c := newPrefixCode(NC, cUsed, o.Skewed)
	p := newPrefixCode(NP, pUsed, o.Skewed)

	var cl []extraToken
	tUsed := map[int]bool{}
	if c.lens != nil {
		cl = charLenTokens(c.lens)
		for _, et := range cl {
			tUsed[et.sym] = true
		}
	}
	t := newPrefixCode(NT, tUsed, false)

	w.Write(uint32(len(toks)), 16)

	writePT(w, t, TBit, 3)

	if c.lens == nil {
		w.Write(0, CBit)
		w.Write(uint32(c.single), CBit)
	} else {
		w.Write(uint32(trimmed(c.lens)), CBit)
		for _, et := range cl {
			t.write(w, et.sym)
			w.Write(et.extra, et.n)
		}
	}

	writePT(w, p, o.pbit(), -1)

	for _, tok := range toks {
		c.write(w, charSym(tok))
		if tok.Length == 0 {
			continue
		}
		sym, extra, n := PosClass(uint32(tok.Distance - 1))
		p.write(w, sym)
		w.Write(extra, n)
	}
}
