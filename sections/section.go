// Package sections splits the section stream of a firmware file and expands
// the compressed and GUID-defined encapsulations fiano leaves closed.
package sections

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/linuxboot/fiano/pkg/uefi"
	"github.com/pkg/errors"
)

const (
	compressionHeaderSize = 5
	guidDefinedHeaderSize = 20
)

var (
	ErrBadSection = errors.New("malformed section")
)

var extSizeMarker = [3]uint8{0xFF, 0xFF, 0xFF}

// HeaderLen is the size of the common header of s, 4 or 8 bytes.
func HeaderLen(s *uefi.Section) int {
	if s.Header.Size == extSizeMarker {
		return uefi.SectionExtMinLength
	}
	return uefi.SectionMinLength
}

// Body is the section past its common header. For PE32, TE and raw
// sections that is the payload itself.
func Body(s *uefi.Section) []byte {
	buf := s.Buf()
	if n := HeaderLen(s); len(buf) > n {
		return buf[n:]
	}
	return nil
}

// GUIDDefined returns the type specific header of a GUID-defined section.
func GUIDDefined(s *uefi.Section) (*uefi.SectionGUIDDefined, bool) {
	if s.Header.Type != uefi.SectionTypeGUIDDefined || s.TypeSpecific == nil {
		return nil, false
	}
	gd, ok := s.TypeSpecific.Header.(*uefi.SectionGUIDDefined)
	return gd, ok
}

func describe(s *uefi.Section) string {
	if gd, ok := GUIDDefined(s); ok {
		return fmt.Sprintf("%s %s", s.Type, gd.GUID)
	}
	return fmt.Sprintf("%s, %d bytes", s.Type, s.Header.ExtendedSize)
}

// padding reports whether b is erased flash.
func padding(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0 || len(bytes.Trim(b, "\xff")) == 0
}

// Parse splits buf into its sections. Sections start 4 byte aligned; a tail
// of erased bytes ends the stream.
func Parse(buf []byte) ([]*uefi.Section, error) {
	var out []*uefi.Section

	for off := uint64(0); off < uint64(len(buf)); off = uefi.Align4(off) {
		rest := buf[off:]
		if len(rest) < uefi.SectionMinLength || padding(rest) {
			break
		}

		if err := check(rest); err != nil {
			return out, errors.Wrapf(err, "section at 0x%x", off)
		}

		s, err := uefi.NewSection(rest, len(out))
		if err != nil {
			return out, errors.Wrapf(ErrBadSection, "section at 0x%x: %s", off, err)
		}

		out = append(out, s)
		off += uint64(s.Header.ExtendedSize)
	}

	return out, nil
}

// check rejects headers that fiano would index past. String sections need
// at least a terminator, the version section a build number before it.
func check(b []byte) error {
	hdr := uefi.SectionMinLength
	size := int(uefi.Read3Size([3]uint8{b[0], b[1], b[2]}))
	if size == 0xFFFFFF {
		if len(b) < uefi.SectionExtMinLength {
			return errors.Wrap(ErrBadSection, "truncated extended header")
		}
		size = int(binary.LittleEndian.Uint32(b[4:8]))
		hdr = uefi.SectionExtMinLength
	}

	if size < hdr || size > len(b) {
		return errors.Wrapf(ErrBadSection, "size %d with %d bytes left", size, len(b))
	}

	body := size - hdr
	switch uefi.SectionType(b[3]) {
	case uefi.SectionTypeUserInterface:
		if body < 2 {
			return errors.Wrap(ErrBadSection, "empty user interface section")
		}
	case uefi.SectionTypeVersion:
		if body < 4 {
			return errors.Wrap(ErrBadSection, "truncated version section")
		}
	case uefi.SectionTypeCompression:
		if body < compressionHeaderSize {
			return errors.Wrap(ErrBadSection, "truncated compression header")
		}
	case uefi.SectionTypeGUIDDefined:
		if body < guidDefinedHeaderSize {
			return errors.Wrap(ErrBadSection, "truncated guid defined header")
		}
		dataOffset := int(binary.LittleEndian.Uint16(b[hdr+16:]))
		if dataOffset < hdr+guidDefinedHeaderSize || dataOffset > size {
			return errors.Wrapf(ErrBadSection, "data offset %d", dataOffset)
		}
	}

	return nil
}
