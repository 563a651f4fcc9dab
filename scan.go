package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ambeloe/efirom/config"
	"github.com/ambeloe/efirom/optionrom"
)

func runScan(cfg *config.Config) error {
	f, err := os.Open(cfg.CLI.Scan.ROM)
	if err != nil {
		return errors.Wrap(err, "error opening input file")
	}
	defer f.Close()

	images, scanErr := scanChain(f)

	if len(images) == 0 {
		if scanErr != nil {
			return errors.Wrap(scanErr, "no option rom images found")
		}
		return errors.New("no option rom images found")
	}

	if scanErr != nil {
		logrus.Warnf("image chain is broken after %d images: %s", len(images), scanErr)
	}

	for i, img := range images {
		fmt.Printf("%d: %s\n", i, img)
		if img.IsEFI() {
			fmt.Printf("   efi payload at 0x%x, compressed: %v\n", img.PayloadOffset(), img.Compressed())
		}
	}

	return nil
}

// scanChain walks the image chain under both PCIR layouts and keeps the
// first complete walk, or else the longest partial one with its error.
func scanChain(r io.ReaderAt) ([]*optionrom.Image, error) {
	var images []*optionrom.Image
	var scanErr error

	for _, layout := range []optionrom.Layout{optionrom.PCI30, optionrom.PCI23} {
		found, err := optionrom.Scan(r, layout)
		if err == nil || len(found) > len(images) {
			images, scanErr = found, err
		}
		if err == nil {
			break
		}
		logrus.Debugf("%s scan stopped: %s", layout, err)
	}

	return images, scanErr
}
