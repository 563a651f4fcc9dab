// Package eficompress decodes data packed with the UEFI "Compress" algorithm
// and its Tiano variant, as found in compressed firmware file sections and
// PCI option ROMs.
//
// Decoding is split the way the EDK2 library does it: GetInfo reads the
// header and reports the buffer sizes, Decompress fills a caller allocated
// destination using a caller allocated Scratch and does not allocate itself.
package eficompress

import (
	"context"
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

const headerSize = 8

// ScratchSize is the number of bytes of working memory one decompression needs.
const ScratchSize = uint32(unsafe.Sizeof(Scratch{}))

// MaxOutputSize bounds the allocations made by DecompressEFI and Compressor.
// The header is untrusted, so a bogus size should not take the process down.
var MaxOutputSize uint32 = 1 << 30

// Algorithm selects the format variant. The two only differ in the width of
// the position set's code length count.
type Algorithm uint8

const (
	EFI Algorithm = iota
	Tiano
	// Auto tries EFI first and falls back to Tiano on a format error.
	Auto
)

func (a Algorithm) String() string {
	switch a {
	case EFI:
		return "EFI"
	case Tiano:
		return "Tiano"
	case Auto:
		return "Auto"
	}
	return "Unknown"
}

func (a Algorithm) pbit() uint {
	if a == Tiano {
		return 5
	}
	return 4
}

// ParseAlgorithm maps "efi", "tiano" or "auto" to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "efi", "EFI":
		return EFI, nil
	case "tiano", "Tiano":
		return Tiano, nil
	case "auto", "Auto", "":
		return Auto, nil
	}
	return 0, errors.Errorf("unknown compression algorithm %q", name)
}

// Scratch holds the complete decoder state of one decompression. It is reset
// at the start of every call, so it can be reused but not shared between
// concurrent calls.
type Scratch struct {
	br bitReader

	dst      []byte
	out      uint32
	origSize uint32

	blockSize uint16
	pbit      uint
	err       error

	cLen    [nc]uint8
	cLookup [1 << cTableBits]slot
	cNodes  [nc]node

	tLen    [npt]uint8
	tLookup [1 << ptTableBits]slot
	tNodes  [nt]node

	pLen    [npt]uint8
	pLookup [1 << ptTableBits]slot
	pNodes  [maxNP]node
}

var scratchPool = sync.Pool{
	New: func() interface{} {
		return new(Scratch)
	},
}

func readHeader(src []byte) (compSize, origSize uint32, err error) {
	if len(src) < headerSize {
		return 0, 0, errors.Wrapf(ErrTruncatedHeader, "%d bytes", len(src))
	}

	compSize = binary.LittleEndian.Uint32(src[0:4])
	origSize = binary.LittleEndian.Uint32(src[4:8])

	if uint64(len(src)) < uint64(compSize)+headerSize {
		return 0, 0, errors.Wrapf(ErrTruncatedHeader, "header declares %d compressed bytes, have %d", compSize, len(src)-headerSize)
	}

	return compSize, origSize, nil
}

// GetInfo returns the uncompressed size declared by the header of src and the
// scratch size needed to decompress it. It does not look past the header.
func GetInfo(src []byte) (dstSize, scratchSize uint32, err error) {
	_, origSize, err := readHeader(src)
	if err != nil {
		return 0, 0, err
	}

	return origSize, ScratchSize, nil
}

// Decompress decodes the EFI compressed src into dst, which must hold at
// least the size reported by GetInfo. A nil scratch is allocated.
func Decompress(src, dst []byte, scratch *Scratch) error {
	return DecompressContext(context.Background(), EFI, src, dst, scratch)
}

// DecompressContext is Decompress for either variant. ctx is checked between
// symbols; on cancellation its error is returned and dst is left partially
// written.
func DecompressContext(ctx context.Context, alg Algorithm, src, dst []byte, scratch *Scratch) error {
	if scratch == nil {
		scratch = new(Scratch)
	}

	if alg == Auto {
		err := scratch.run(ctx, EFI, src, dst)
		if !IsInvalidParameter(err) {
			return err
		}
		return scratch.run(ctx, Tiano, src, dst)
	}

	return scratch.run(ctx, alg, src, dst)
}

func (s *Scratch) run(ctx context.Context, alg Algorithm, src, dst []byte) error {
	compSize, origSize, err := readHeader(src)
	if err != nil {
		return err
	}

	if origSize == 0 {
		return nil
	}

	if uint64(len(dst)) < uint64(origSize) {
		return errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", origSize, len(dst))
	}

	*s = Scratch{}
	s.pbit = alg.pbit()
	s.dst = dst[:origSize]
	s.origSize = origSize
	s.br.init(src[headerSize:], compSize)

	err = s.decode(ctx)

	s.dst = nil
	s.br.src = nil

	return err
}

// DecompressEFI decodes compressed into a newly allocated buffer, using the
// Tiano variant when tiano is set.
func DecompressEFI(compressed []byte, tiano bool) ([]byte, error) {
	alg := EFI
	if tiano {
		alg = Tiano
	}

	return decompressAlloc(context.Background(), alg, compressed)
}

func decompressAlloc(ctx context.Context, alg Algorithm, compressed []byte) ([]byte, error) {
	outSize, _, err := GetInfo(compressed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get compressed data info")
	}

	if outSize > MaxOutputSize {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", outSize)
	}

	out := make([]byte, outSize)

	s := scratchPool.Get().(*Scratch)
	defer scratchPool.Put(s)

	if err := DecompressContext(ctx, alg, compressed, out, s); err != nil {
		return nil, errors.Wrap(err, "failed to decompress data")
	}

	return out, nil
}
