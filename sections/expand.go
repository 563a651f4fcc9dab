package sections

import (
	"encoding/binary"

	"github.com/linuxboot/fiano/pkg/compression"
	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/linuxboot/fiano/pkg/uefi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ambeloe/efirom/eficompress"
)

// EFI_COMPRESSION_SECTION compression types
const (
	NotCompressed      = 0x00
	StandardCompressed = 0x01
)

const DefaultMaxDepth = 8

var (
	ErrUnknownCompression = errors.New("unknown compression type")
	ErrUnknownGUID        = errors.New("no decoder for guid defined section")
	ErrTooDeep            = errors.New("sections nested too deep")
)

// Expander opens encapsulation sections and attaches their contents as
// Encapsulated children, the way fiano does for the LZMA GUIDs.
type Expander struct {
	// Algorithm decodes standard compression sections. The format variant is
	// not recorded in the section, so Auto is the safe choice.
	Algorithm eficompress.Algorithm
	MaxDepth  int

	log *logrus.Entry
}

func NewExpander(alg eficompress.Algorithm) *Expander {
	return &Expander{
		Algorithm: alg,
		MaxDepth:  DefaultMaxDepth,
		log:       logrus.WithField("pkg", "sections"),
	}
}

// IsEncapsulation reports whether s holds further sections.
func IsEncapsulation(s *uefi.Section) bool {
	return s.Header.Type == uefi.SectionTypeCompression || s.Header.Type == uefi.SectionTypeGUIDDefined
}

// Leaves parses buf and returns its sections with every encapsulation
// replaced by its contents, recursively. Leaf order follows the stream.
func (e *Expander) Leaves(buf []byte) ([]*uefi.Section, error) {
	secs, err := Parse(buf)
	if err != nil {
		return nil, err
	}

	return e.Flatten(secs)
}

// Flatten expands secs and returns their leaves in stream order.
func (e *Expander) Flatten(secs []*uefi.Section) ([]*uefi.Section, error) {
	var out []*uefi.Section

	for _, s := range secs {
		if err := e.Expand(s); err != nil {
			return nil, err
		}
		out = appendLeaves(out, s)
	}

	return out, nil
}

func appendLeaves(out []*uefi.Section, s *uefi.Section) []*uefi.Section {
	if !IsEncapsulation(s) {
		return append(out, s)
	}

	for _, tf := range s.Encapsulated {
		if inner, ok := tf.Value.(*uefi.Section); ok {
			out = appendLeaves(out, inner)
		}
	}

	return out
}

// Expand opens s and every encapsulation below it, firmware volume images
// included. Sections that already have children are not decoded again.
func (e *Expander) Expand(s *uefi.Section) error {
	return s.Apply(&expandVisitor{e: e, strict: true})
}

// ExpandFirmware opens the encapsulations of a whole firmware tree. A
// section that cannot be opened is logged and left closed.
func (e *Expander) ExpandFirmware(fw uefi.Firmware) error {
	return fw.Apply(&expandVisitor{e: e})
}

type expandVisitor struct {
	e      *Expander
	depth  int
	strict bool
}

func (v *expandVisitor) Run(f uefi.Firmware) error {
	return f.Apply(v)
}

func (v *expandVisitor) Visit(f uefi.Firmware) error {
	s, ok := f.(*uefi.Section)
	if !ok || !IsEncapsulation(s) {
		return f.ApplyChildren(v)
	}

	if err := v.e.open(s, v.depth); err != nil {
		if v.strict {
			return err
		}
		v.e.log.Warnf("leaving %s closed: %s", describe(s), err)
		return nil
	}

	return s.ApplyChildren(&expandVisitor{e: v.e, depth: v.depth + 1, strict: v.strict})
}

func (e *Expander) open(s *uefi.Section, depth int) error {
	if depth >= e.MaxDepth {
		return errors.Wrapf(ErrTooDeep, "depth %d", depth)
	}

	if len(s.Encapsulated) > 0 {
		return nil
	}

	data, err := e.decode(s)
	if err != nil {
		return errors.Wrapf(err, "failed to expand %s", describe(s))
	}

	inner, err := Parse(data)
	if err != nil {
		return errors.Wrapf(err, "failed to parse contents of %s", describe(s))
	}

	e.log.Debugf("%s: %d bytes, %d sections", describe(s), len(data), len(inner))

	for _, in := range inner {
		s.Encapsulated = append(s.Encapsulated, uefi.MakeTyped(in))
	}

	return nil
}

func (e *Expander) decode(s *uefi.Section) ([]byte, error) {
	buf := s.Buf()
	hdr := HeaderLen(s)

	if s.Header.Type == uefi.SectionTypeCompression {
		if len(buf) < hdr+compressionHeaderSize {
			return nil, errors.Wrap(ErrBadSection, "truncated compression header")
		}
		origLen := binary.LittleEndian.Uint32(buf[hdr:])
		typ := buf[hdr+4]
		data := buf[hdr+compressionHeaderSize:]

		switch typ {
		case NotCompressed:
			return data, nil
		case StandardCompressed:
			c := &eficompress.Compressor{Algorithm: e.Algorithm}
			out, err := c.Decode(data)
			if err != nil {
				return nil, err
			}
			if uint32(len(out)) != origLen {
				e.log.Warnf("%s decoded to %d bytes, header says %d", describe(s), len(out), origLen)
			}
			return out, nil
		}
		return nil, errors.Wrapf(ErrUnknownCompression, "type %d", typ)
	}

	gd, ok := GUIDDefined(s)
	if !ok {
		return nil, errors.Wrap(ErrBadSection, "guid defined section without its header")
	}
	if int(gd.DataOffset) < hdr+guidDefinedHeaderSize || int(gd.DataOffset) > len(buf) {
		return nil, errors.Wrapf(ErrBadSection, "data offset %d", gd.DataOffset)
	}
	data := buf[gd.DataOffset:]

	if c := compressorFor(gd.GUID); c != nil {
		e.log.Debugf("decoding %s with %s", gd.GUID, c.Name())
		gd.Compression = c.Name()
		return c.Decode(data)
	}

	if gd.Attributes&uint16(uefi.GUIDEDSectionProcessingRequired) == 0 {
		return data, nil
	}

	return nil, errors.Wrapf(ErrUnknownGUID, "%s", gd.GUID)
}

func compressorFor(g guid.GUID) compression.Compressor {
	if g == eficompress.TianoGUID {
		return &eficompress.Compressor{Algorithm: eficompress.Tiano}
	}

	return compression.CompressorFromGUID(&g)
}
