package sections

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/linuxboot/fiano/pkg/compression"
	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/linuxboot/fiano/pkg/uefi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/ambeloe/efirom/eficompress"
	"github.com/ambeloe/efirom/internal/testenc"
)

var pe32Body = []byte("MZ\x90\x00this is not really a pe")

func section(typ uefi.SectionType, body []byte) []byte {
	size := uefi.SectionMinLength + len(body)
	b := []byte{byte(size), byte(size >> 8), byte(size >> 16), byte(typ)}
	return append(b, body...)
}

func extSection(typ uefi.SectionType, body []byte) []byte {
	b := []byte{0xFF, 0xFF, 0xFF, byte(typ), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[4:], uint32(uefi.SectionExtMinLength+len(body)))
	return append(b, body...)
}

func ucs2(s string) []byte {
	var b []byte
	for _, r := range s {
		b = append(b, byte(r), byte(r>>8))
	}
	return append(b, 0, 0)
}

func stream(secs ...[]byte) []byte {
	var out []byte
	for _, s := range secs {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		out = append(out, s...)
	}
	return out
}

func uiSection(name string) []byte {
	return section(uefi.SectionTypeUserInterface, ucs2(name))
}

func versionSection(build uint16, v string) []byte {
	body := []byte{byte(build), byte(build >> 8)}
	return section(uefi.SectionTypeVersion, append(body, ucs2(v)...))
}

func compressionSection(typ uint8, origLen int, data []byte) []byte {
	body := make([]byte, compressionHeaderSize)
	binary.LittleEndian.PutUint32(body, uint32(origLen))
	body[4] = typ
	return section(uefi.SectionTypeCompression, append(body, data...))
}

func guidSection(g guid.GUID, attrs uint16, data []byte) []byte {
	body := make([]byte, guidDefinedHeaderSize)
	copy(body, g[:])
	binary.LittleEndian.PutUint16(body[16:], uefi.SectionMinLength+guidDefinedHeaderSize)
	binary.LittleEndian.PutUint16(body[18:], attrs)
	return section(uefi.SectionTypeGUIDDefined, append(body, data...))
}

func leafStream() []byte {
	return stream(
		section(uefi.SectionTypePE32, pe32Body),
		uiSection("HelloDxe"),
		versionSection(7, "1.0"),
	)
}

func requireLeaves(t *testing.T, secs []*uefi.Section) {
	t.Helper()

	require.Len(t, secs, 3)
	assert.Equal(t, uefi.SectionTypePE32, secs[0].Header.Type)
	assert.Equal(t, pe32Body, Body(secs[0]))
	assert.Equal(t, "HelloDxe", secs[1].Name)
	assert.Equal(t, "1.0", secs[2].Version)
	assert.Equal(t, uint16(7), secs[2].BuildNumber)
}

var (
	processingRequired = uint16(uefi.GUIDEDSectionProcessingRequired)
	authStatusValid    = uint16(uefi.GUIDEDSectionAuthStatusValid)
)

func TestParse(t *testing.T) {
	secs, err := Parse(leafStream())
	require.NoError(t, err)
	requireLeaves(t, secs)

	assert.Equal(t, section(uefi.SectionTypePE32, pe32Body), secs[0].Buf())
	assert.Equal(t, uefi.SectionMinLength, HeaderLen(secs[0]))
	assert.Equal(t, 2, secs[2].FileOrder)
}

func TestParseStopsAtPadding(t *testing.T) {
	for _, pad := range []byte{0x00, 0xFF} {
		buf := append(leafStream(), bytes.Repeat([]byte{pad}, 13)...)

		secs, err := Parse(buf)
		require.NoError(t, err)
		requireLeaves(t, secs)
	}
}

func TestParseExtendedHeader(t *testing.T) {
	secs, err := Parse(stream(extSection(uefi.SectionTypeRaw, []byte("raw data")), uiSection("x")))
	require.NoError(t, err)
	require.Len(t, secs, 2)

	assert.Equal(t, uefi.SectionTypeRaw, secs[0].Header.Type)
	assert.Equal(t, uefi.SectionExtMinLength, HeaderLen(secs[0]))
	assert.Equal(t, []byte("raw data"), Body(secs[0]))
	assert.Equal(t, "x", secs[1].Name)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "size past end", buf: []byte{0x40, 0, 0, byte(uefi.SectionTypeRaw), 1, 2, 3}},
		{name: "size below header", buf: []byte{0x02, 0, 0, byte(uefi.SectionTypeRaw)}},
		{name: "truncated extended header", buf: []byte{0xFF, 0xFF, 0xFF, byte(uefi.SectionTypeRaw), 1}},
		{name: "truncated compression header", buf: section(uefi.SectionTypeCompression, []byte{1, 2})},
		{name: "truncated guid defined header", buf: section(uefi.SectionTypeGUIDDefined, make([]byte, 8))},
		{name: "guid data offset past end", buf: section(uefi.SectionTypeGUIDDefined, append(make([]byte, 16), 0xFF, 0, 0, 0))},
		{name: "empty user interface", buf: section(uefi.SectionTypeUserInterface, nil)},
		{name: "version without string", buf: section(uefi.SectionTypeVersion, []byte{7, 0})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.buf)
			assert.ErrorIs(t, err, ErrBadSection)
		})
	}
}

func TestLeavesStored(t *testing.T) {
	inner := leafStream()

	secs, err := NewExpander(eficompress.Auto).Leaves(compressionSection(NotCompressed, len(inner), inner))
	require.NoError(t, err)
	requireLeaves(t, secs)
}

func TestLeavesStandardCompression(t *testing.T) {
	inner := leafStream()
	packed := testenc.EncodeBytes(inner, testenc.Options{})

	buf := stream(compressionSection(StandardCompressed, len(inner), packed))

	for _, alg := range []eficompress.Algorithm{eficompress.EFI, eficompress.Auto} {
		secs, err := NewExpander(alg).Leaves(buf)
		require.NoError(t, err)
		requireLeaves(t, secs)
	}
}

func TestLeavesTianoGUID(t *testing.T) {
	inner := leafStream()
	packed := testenc.EncodeBytes(inner, testenc.Options{PBit: 5})

	secs, err := Parse(guidSection(eficompress.TianoGUID, processingRequired, packed))
	require.NoError(t, err)
	require.Len(t, secs, 1)

	leaves, err := NewExpander(eficompress.EFI).Flatten(secs)
	require.NoError(t, err)
	requireLeaves(t, leaves)

	gd, ok := GUIDDefined(secs[0])
	require.True(t, ok)
	assert.Equal(t, eficompress.TianoGUID, gd.GUID)
	assert.Equal(t, (&eficompress.Compressor{Algorithm: eficompress.Tiano}).Name(), gd.Compression)
}

func TestLeavesLZMAGUID(t *testing.T) {
	inner := leafStream()

	wc := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(inner))}
	buf := &bytes.Buffer{}
	w, err := wc.NewWriter(buf)
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(inner))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	secs, err := NewExpander(eficompress.Auto).Leaves(guidSection(compression.LZMAGUID, processingRequired, buf.Bytes()))
	require.NoError(t, err)
	requireLeaves(t, secs)
}

func TestLeavesUnknownGUID(t *testing.T) {
	g := *guid.MustParse("FC1BCDB0-7D31-49AA-936A-A4600D9DD083")

	secs, err := NewExpander(eficompress.Auto).Leaves(guidSection(g, authStatusValid, leafStream()))
	require.NoError(t, err)
	requireLeaves(t, secs)

	_, err = NewExpander(eficompress.Auto).Leaves(guidSection(g, processingRequired, leafStream()))
	assert.ErrorIs(t, err, ErrUnknownGUID)
}

func TestLeavesNested(t *testing.T) {
	inner := leafStream()
	packed := testenc.EncodeBytes(inner, testenc.Options{})
	mid := compressionSection(StandardCompressed, len(inner), packed)
	outer := stream(uiSection("outer"), compressionSection(NotCompressed, len(mid), mid))

	secs, err := NewExpander(eficompress.Auto).Leaves(outer)
	require.NoError(t, err)
	require.Len(t, secs, 4)
	assert.Equal(t, "outer", secs[0].Name)
	requireLeaves(t, secs[1:])
}

func TestLeavesTooDeep(t *testing.T) {
	buf := leafStream()
	for i := 0; i <= DefaultMaxDepth; i++ {
		buf = compressionSection(NotCompressed, len(buf), buf)
	}

	_, err := NewExpander(eficompress.Auto).Leaves(buf)
	assert.ErrorIs(t, err, ErrTooDeep)

	e := NewExpander(eficompress.Auto)
	e.MaxDepth = DefaultMaxDepth + 1
	secs, err := e.Leaves(buf)
	require.NoError(t, err)
	requireLeaves(t, secs)
}

func TestLeavesErrors(t *testing.T) {
	_, err := NewExpander(eficompress.Auto).Leaves(compressionSection(2, 0, nil))
	assert.ErrorIs(t, err, ErrUnknownCompression)

	_, err = NewExpander(eficompress.Auto).Leaves(compressionSection(StandardCompressed, 10, []byte{1, 2, 3}))
	assert.ErrorIs(t, err, eficompress.ErrTruncatedHeader)
}

func TestExpand(t *testing.T) {
	inner := leafStream()
	secs, err := Parse(compressionSection(NotCompressed, len(inner), inner))
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.True(t, IsEncapsulation(secs[0]))

	e := NewExpander(eficompress.Auto)
	require.NoError(t, e.Expand(secs[0]))
	require.Len(t, secs[0].Encapsulated, 3)

	// a second pass keeps the children already attached
	first := secs[0].Encapsulated[0]
	require.NoError(t, e.Expand(secs[0]))
	assert.Same(t, first, secs[0].Encapsulated[0])

	leaves, err := e.Flatten(secs)
	require.NoError(t, err)
	requireLeaves(t, leaves)

	require.NoError(t, e.Expand(leaves[0]))
	assert.Empty(t, leaves[0].Encapsulated)
}

func TestExpandFirmwareLeavesBadSectionsClosed(t *testing.T) {
	inner := leafStream()
	secs, err := Parse(stream(
		compressionSection(2, 0, nil),
		compressionSection(NotCompressed, len(inner), inner),
	))
	require.NoError(t, err)
	require.Len(t, secs, 2)

	e := NewExpander(eficompress.Auto)
	for _, s := range secs {
		require.NoError(t, e.ExpandFirmware(s))
	}

	assert.Empty(t, secs[0].Encapsulated)
	assert.Len(t, secs[1].Encapsulated, 3)

	assert.ErrorIs(t, e.Expand(secs[0]), ErrUnknownCompression)
}
