// Package optionrom walks the image chain of a PCI expansion ROM and locates
// the compressed EFI driver inside it.
package optionrom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	Signature    = 0xAA55
	EFISignature = 0x0EF1
	PCIRMagic    = "PCIR"

	CodeTypeEFI     = 0x03
	IndicatorLast   = 0x80
	CompressionEFI  = 0x0001
	ImageLengthUnit = 512
)

var (
	ErrBadSignature  = errors.New("missing 0xAA55 option rom signature")
	ErrBadPCIR       = errors.New("missing PCIR data structure")
	ErrZeroLength    = errors.New("image length is zero")
	ErrNotCompressed = errors.New("efi image is not compressed")
	ErrNotFound      = errors.New("no compressed efi image found")
)

var log = logrus.WithField("pkg", "optionrom")

// ExpansionROMHeader is the generic header every image starts with.
type ExpansionROMHeader struct {
	Signature  uint16
	Reserved   [0x16]uint8
	PCIROffset uint16
}

// EFIExpansionROMHeader overlays ExpansionROMHeader for images with code type 3.
type EFIExpansionROMHeader struct {
	Signature            uint16
	InitializationSize   uint16
	EFISignature         uint32
	EFISubsystem         uint16
	EFIMachineType       uint16
	CompressionType      uint16
	Reserved             [8]uint8
	EFIImageHeaderOffset uint16
	PCIROffset           uint16
}

// DataStructure is the PCI 3.0 data structure. The 2.3 revision is its first
// 24 bytes with DeviceListOffset reserved.
type DataStructure struct {
	Signature                     [4]byte
	VendorID                      uint16
	DeviceID                      uint16
	DeviceListOffset              uint16
	Length                        uint16
	Revision                      uint8
	ClassCode                     [3]uint8
	ImageLength                   uint16
	CodeRevision                  uint16
	CodeType                      uint8
	Indicator                     uint8
	MaxRuntimeImageLength         uint16
	ConfigUtilityCodeHeaderOffset uint16
	DMTFCLPEntryPointOffset       uint16
}

// Layout picks how many bytes of the PCI data structure are read.
type Layout int

const (
	PCI30 Layout = iota
	PCI23
)

func (l Layout) size() int {
	if l == PCI23 {
		return 24
	}
	return 28
}

func (l Layout) String() string {
	if l == PCI23 {
		return "PCI 2.3"
	}
	return "PCI 3.0"
}

// Image is one entry of the ROM's image chain.
type Image struct {
	Offset int64
	Header ExpansionROMHeader
	PCIR   DataStructure

	// Set for EFI images only.
	EFI *EFIExpansionROMHeader
}

func (i *Image) IsEFI() bool {
	return i.PCIR.CodeType == CodeTypeEFI
}

func (i *Image) Compressed() bool {
	return i.EFI != nil && i.EFI.CompressionType == CompressionEFI
}

// PayloadOffset is the absolute offset of the EFI image inside the ROM.
func (i *Image) PayloadOffset() int64 {
	if i.EFI == nil {
		return 0
	}
	return i.Offset + int64(i.EFI.EFIImageHeaderOffset)
}

// Size is the image length in bytes.
func (i *Image) Size() int64 {
	return int64(i.PCIR.ImageLength) * ImageLengthUnit
}

func (i *Image) Last() bool {
	return i.PCIR.Indicator&IndicatorLast != 0
}

func (i *Image) String() string {
	s := fmt.Sprintf("0x%08x %04x:%04x code type %d, %d bytes", i.Offset, i.PCIR.VendorID, i.PCIR.DeviceID, i.PCIR.CodeType, i.Size())
	if i.EFI != nil {
		s += fmt.Sprintf(", efi subsystem %d, machine 0x%04x, compression %d", i.EFI.EFISubsystem, i.EFI.EFIMachineType, i.EFI.CompressionType)
	}
	if i.Last() {
		s += ", last"
	}
	return s
}

func readAt(r io.ReaderAt, off int64, size int, v interface{}) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, off, int64(size)), buf); err != nil {
		return err
	}

	// A short read of the 2.3 layout leaves the 3.0 tail zero.
	full := binary.Size(v)
	if full > size {
		buf = append(buf, make([]byte, full-size)...)
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

func readImage(r io.ReaderAt, off int64, layout Layout) (*Image, error) {
	img := &Image{Offset: off}

	if err := readAt(r, off, binary.Size(&img.Header), &img.Header); err != nil {
		return nil, errors.Wrap(err, "failed to read PCI ROM header")
	}

	if img.Header.Signature != Signature {
		return nil, errors.Wrapf(ErrBadSignature, "got 0x%04x at 0x%x", img.Header.Signature, off)
	}

	if err := readAt(r, off+int64(img.Header.PCIROffset), layout.size(), &img.PCIR); err != nil {
		return nil, errors.Wrap(err, "failed to read PCI data structure")
	}

	if string(img.PCIR.Signature[:]) != PCIRMagic {
		return nil, errors.Wrapf(ErrBadPCIR, "at 0x%x", off+int64(img.Header.PCIROffset))
	}

	if layout == PCI23 {
		img.PCIR.MaxRuntimeImageLength = 0
		img.PCIR.ConfigUtilityCodeHeaderOffset = 0
		img.PCIR.DMTFCLPEntryPointOffset = 0
	}

	if img.IsEFI() {
		img.EFI = &EFIExpansionROMHeader{}
		if err := readAt(r, off, binary.Size(img.EFI), img.EFI); err != nil {
			return nil, errors.Wrap(err, "failed to read EFI PCI ROM header")
		}
	}

	return img, nil
}

// Scan walks the image chain from offset 0 and returns every image up to the
// one flagged as last. Images read before an error are returned with it.
func Scan(r io.ReaderAt, layout Layout) ([]*Image, error) {
	var images []*Image

	for off := int64(0); ; {
		img, err := readImage(r, off, layout)
		if err != nil {
			return images, err
		}

		log.Debugf("image at 0x%x: %s", off, img)
		images = append(images, img)

		if img.Last() {
			return images, nil
		}

		if img.Size() == 0 {
			return images, errors.Wrapf(ErrZeroLength, "image at 0x%x", off)
		}

		off += img.Size()
	}
}

// FindCompressedEFI returns the offset of the compressed payload of the first
// EFI image. The PCI 3.0 layout is tried before 2.3.
func FindCompressedEFI(r io.ReaderAt) (int64, error) {
	var lastErr error

	for _, layout := range []Layout{PCI30, PCI23} {
		off, err := findCompressedEFI(r, layout)
		if err == nil || errors.Is(err, ErrNotCompressed) {
			return off, err
		}

		log.Debugf("%s walk: %s", layout, err)
		lastErr = err
	}

	if errors.Is(lastErr, ErrNotFound) {
		return 0, lastErr
	}

	return 0, &notFoundError{cause: lastErr}
}

// notFoundError is ErrNotFound that still unwraps to the walk error.
type notFoundError struct {
	cause error
}

func (e *notFoundError) Error() string {
	return ErrNotFound.Error() + ": " + e.cause.Error()
}

func (e *notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *notFoundError) Unwrap() error {
	return e.cause
}

func findCompressedEFI(r io.ReaderAt, layout Layout) (int64, error) {
	for off := int64(0); ; {
		img, err := readImage(r, off, layout)
		if err != nil {
			return 0, err
		}

		if img.IsEFI() {
			if img.Compressed() {
				log.Infof("found compressed EFI ROM start at 0x%x", img.PayloadOffset())
				return img.PayloadOffset(), nil
			}
			return img.PayloadOffset(), errors.Wrapf(ErrNotCompressed, "efi image at 0x%x", img.PayloadOffset())
		}

		if img.Last() {
			return 0, ErrNotFound
		}

		if img.Size() == 0 {
			return 0, errors.Wrapf(ErrZeroLength, "image at 0x%x", off)
		}

		off += img.Size()
	}
}
