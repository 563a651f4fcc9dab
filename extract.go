package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ambeloe/efirom/config"
	"github.com/ambeloe/efirom/eficompress"
	"github.com/ambeloe/efirom/optionrom"
	"github.com/ambeloe/efirom/output"
)

func runExtract(ctx context.Context, cfg *config.Config) error {
	rom, err := os.ReadFile(cfg.CLI.Extract.ROM)
	if err != nil {
		return errors.Wrap(err, "error reading input file")
	}

	img, err := extractImage(ctx, rom, cfg.Algorithm)
	if err != nil {
		return err
	}

	w, err := output.New(filepath.Dir(cfg.CLI.Extract.Out), cfg.Codec)
	if err != nil {
		return err
	}

	path, err := w.WriteFile(filepath.Base(cfg.CLI.Extract.Out), img)
	if err != nil {
		return err
	}

	logrus.Infof("wrote %d bytes to %s", len(img), path)

	return nil
}

// extractImage returns the decompressed EFI driver of an option ROM. Input
// that holds no EFI image is taken to be a bare compressed stream.
func extractImage(ctx context.Context, rom []byte, alg eficompress.Algorithm) ([]byte, error) {
	start, err := optionrom.FindCompressedEFI(bytes.NewReader(rom))

	switch {
	case err == nil:
	case errors.Is(err, optionrom.ErrNotCompressed):
		end := imageEnd(rom, start)
		if start > end {
			return nil, errors.Errorf("efi image start 0x%x is past the end of the file", start)
		}
		logrus.Warnf("found non-compressed EFI ROM start at 0x%x, writing it as is", start)
		return rom[start:end], nil
	default:
		logrus.Debugf("option rom scan: %s", err)
		logrus.Info("not an EFI ROM file, attempting decompression of data directly")
		start = 0
	}

	if start > int64(len(rom)) {
		return nil, errors.Errorf("compressed image start 0x%x is past the end of the file", start)
	}
	payload := rom[start:]

	outSize, scratchSize, err := eficompress.GetInfo(payload)
	if err != nil {
		return nil, errors.Wrap(err, "get UEFI decompression info failed")
	}

	logrus.Infof("input size: %d, output size: %d, scratch size: %d", len(payload), outSize, scratchSize)

	if outSize == 0 {
		return nil, errors.New("incorrect output size")
	}

	if outSize > eficompress.MaxOutputSize {
		return nil, errors.Wrapf(eficompress.ErrTooLarge, "%d bytes", outSize)
	}

	out := make([]byte, outSize)
	if err := eficompress.DecompressContext(ctx, alg, payload, out, new(eficompress.Scratch)); err != nil {
		return nil, errors.Wrap(err, "UEFI decompression failed")
	}

	return out, nil
}

// imageEnd is the end of the image whose EFI payload starts at payload, or
// the end of the file when no layout finds it.
func imageEnd(rom []byte, payload int64) int64 {
	end := int64(len(rom))

	for _, layout := range []optionrom.Layout{optionrom.PCI30, optionrom.PCI23} {
		images, _ := optionrom.Scan(bytes.NewReader(rom), layout)
		for _, img := range images {
			if !img.IsEFI() || img.PayloadOffset() != payload || img.Size() == 0 {
				continue
			}
			if e := img.Offset + img.Size(); e < end {
				return e
			}
			return end
		}
	}

	return end
}
