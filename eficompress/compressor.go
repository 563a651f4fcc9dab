package eficompress

import (
	"context"

	"github.com/linuxboot/fiano/pkg/compression"
	"github.com/linuxboot/fiano/pkg/guid"
)

// TianoGUID identifies GUID-defined sections holding Tiano compressed data.
var TianoGUID = *guid.MustParse("A31280AD-481E-41B6-95E8-127F4C984779")

var _ compression.Compressor = (*Compressor)(nil)

// Compressor adapts the decoder to fiano's compression.Compressor so it can
// sit next to the LZMA and zlib section codecs. Encoding is not implemented.
type Compressor struct {
	Algorithm Algorithm
}

// Name returns the type of compression employed.
func (c *Compressor) Name() string {
	return c.Algorithm.String()
}

// Decode decodes a byte slice of EFI or Tiano compressed data, header included.
func (c *Compressor) Decode(encodedData []byte) ([]byte, error) {
	return decompressAlloc(context.Background(), c.Algorithm, encodedData)
}

func (c *Compressor) Encode(decodedData []byte) ([]byte, error) {
	return nil, ErrEncodeUnsupported
}
