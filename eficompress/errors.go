package eficompress

import (
	"github.com/pkg/errors"
)

var ErrTruncatedHeader = errors.New("compressed data is shorter than its header declares")
var ErrCorruptTable = errors.New("corrupt huffman code length table")
var ErrCorruptData = errors.New("back-reference points before the start of the output")
var ErrShortBuffer = errors.New("destination buffer is smaller than the uncompressed size")
var ErrTooLarge = errors.New("uncompressed size exceeds the allocation limit")
var ErrEncodeUnsupported = errors.New("efi compression is not supported, only decompression")

// IsInvalidParameter reports whether err is one of the format errors that the
// EDK2 decompressor reports as RETURN_INVALID_PARAMETER.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrTruncatedHeader) ||
		errors.Is(err, ErrCorruptTable) ||
		errors.Is(err, ErrCorruptData) ||
		errors.Is(err, ErrShortBuffer)
}
